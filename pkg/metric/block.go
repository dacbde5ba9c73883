// Package metric implements the similarity metric engine and the
// displacement extractor of the block-matching tracker.
//
// A Block is a template cut from the fixed image. NormalizedCrossCorrelation
// scores the block against every candidate offset of a search window in the
// moving image and returns a MetricImage; ExtractPeak turns that score
// surface into a sub-pixel displacement.
package metric

import (
	"errors"
	"fmt"

	"speckletrack/pkg/field"
)

var (
	// ErrNoPeakFound is returned when a metric image is empty or holds no
	// finite score.
	ErrNoPeakFound = errors.New("metric: no peak found")
	// ErrOutsideImage is returned when a block or search extent does not fit
	// inside its image.
	ErrOutsideImage = errors.New("metric: region outside image")
)

// Block is a fixed-image template centred on Center with the given radius.
// Values holds (2*Radius[0]+1) x (2*Radius[1]+1) samples in row-major order.
type Block struct {
	Center [2]int
	Radius [2]int
	Values []float64
}

// Size returns the block extent along each axis.
func (b Block) Size() [2]int {
	return [2]int{2*b.Radius[0] + 1, 2*b.Radius[1] + 1}
}

// Region returns the index-space region the block covers in the fixed image.
func (b Block) Region() field.Region {
	return field.NewRegionAround(b.Center, b.Radius)
}

// ExtractBlock copies the samples of im around center. The whole block must
// lie inside the image.
func ExtractBlock(im *field.Image, center, radius [2]int) (Block, error) {
	r := field.NewRegionAround(center, radius)
	if !im.Bounds().ContainsRegion(r) {
		return Block{}, fmt.Errorf("%w: block %v radius %v in image %v", ErrOutsideImage, center, radius, im.Size())
	}
	b := Block{Center: center, Radius: radius, Values: make([]float64, r.Len())}
	k := 0
	for j := r.Index[1]; j < r.Index[1]+r.Size[1]; j++ {
		row := im.Pix()[im.Offset(r.Index[0], j) : im.Offset(r.Index[0], j)+r.Size[0]]
		k += copy(b.Values[k:], row)
	}
	return b, nil
}

// WarpedBlock samples im through the linear map m about center: the block
// sample at offset x from the centre is read from center + m*x with bilinear
// interpolation. An identity map reproduces ExtractBlock. Samples falling
// outside the image are clamped to the border.
func WarpedBlock(im *field.Image, center, radius [2]int, m [2][2]float64) Block {
	size := [2]int{2*radius[0] + 1, 2*radius[1] + 1}
	b := Block{Center: center, Radius: radius, Values: make([]float64, size[0]*size[1])}
	k := 0
	for dy := -radius[1]; dy <= radius[1]; dy++ {
		for dx := -radius[0]; dx <= radius[0]; dx++ {
			x := float64(center[0]) + m[0][0]*float64(dx) + m[0][1]*float64(dy)
			y := float64(center[1]) + m[1][0]*float64(dx) + m[1][1]*float64(dy)
			b.Values[k] = field.LinearAt(im, x, y)
			k++
		}
	}
	return b
}
