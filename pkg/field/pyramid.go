package field

import "fmt"

// Downsample halves the image along both axes by averaging 2x2 blocks of
// samples. A trailing odd row or column is dropped. The spacing doubles and
// the origin moves to the centre of the first averaged block so that
// physical positions are preserved.
func Downsample(im *Image) *Image {
	nx := max(im.size[0]/2, 1)
	ny := max(im.size[1]/2, 1)

	geom := im.geom
	geom.Origin = im.geom.IndexToPoint([2]float64{0.5, 0.5})
	if im.size[0] < 2 {
		geom.Origin = im.geom.Origin
	}
	geom.Spacing = [2]float64{im.geom.Spacing[0] * 2, im.geom.Spacing[1] * 2}

	out := NewImage([2]int{nx, ny}, geom)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			var sum float64
			var n int
			for dj := 0; dj < 2; dj++ {
				for di := 0; di < 2; di++ {
					x, y := 2*i+di, 2*j+dj
					if im.InBounds(x, y) {
						sum += im.At(x, y)
						n++
					}
				}
			}
			out.Set(i, j, sum/float64(n))
		}
	}
	return out
}

// Pyramid builds a resolution pyramid of the given number of levels. The
// returned slice is ordered coarsest first; the last element is im itself.
func Pyramid(im *Image, levels int) ([]*Image, error) {
	if levels < 1 {
		return nil, fmt.Errorf("field: pyramid needs at least one level, got %d", levels)
	}
	out := make([]*Image, levels)
	out[levels-1] = im
	for l := levels - 2; l >= 0; l-- {
		prev := out[l+1]
		if prev.size[0] < 2 || prev.size[1] < 2 {
			return nil, fmt.Errorf("%w: image %v too small for %d pyramid levels", ErrSizeMismatch, im.size, levels)
		}
		out[l] = Downsample(prev)
	}
	return out, nil
}
