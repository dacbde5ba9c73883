package field

import "math"

// LinearAt samples im at the continuous index (x, y) with bilinear
// interpolation. Coordinates outside the grid are clamped to the border.
func LinearAt(im *Image, x, y float64) float64 {
	i0, j0, fx, fy := cell(im.size, x, y)
	i1 := min(i0+1, im.size[0]-1)
	j1 := min(j0+1, im.size[1]-1)
	a := im.At(i0, j0)*(1-fx) + im.At(i1, j0)*fx
	b := im.At(i0, j1)*(1-fx) + im.At(i1, j1)*fx
	return a*(1-fy) + b*fy
}

// VectorAt samples a vector field at the continuous index (x, y) with
// bilinear interpolation, clamping to the border.
func VectorAt(vf *VectorField, x, y float64) Vector {
	i0, j0, fx, fy := cell(vf.size, x, y)
	i1 := min(i0+1, vf.size[0]-1)
	j1 := min(j0+1, vf.size[1]-1)
	var out Vector
	for c := 0; c < 2; c++ {
		a := vf.At(i0, j0)[c]*(1-fx) + vf.At(i1, j0)[c]*fx
		b := vf.At(i0, j1)[c]*(1-fx) + vf.At(i1, j1)[c]*fx
		out[c] = a*(1-fy) + b*fy
	}
	return out
}

// ValidVectorAt samples vf at (x, y) like VectorAt but only over the samples
// whose valid flag is set, renormalising the bilinear weights. When none of
// the four corners is valid it returns the nearest valid sample. The result
// is false when no sample of vf is valid.
func ValidVectorAt(vf *VectorField, valid []bool, x, y float64) (Vector, bool) {
	i0, j0, fx, fy := cell(vf.size, x, y)
	i1 := min(i0+1, vf.size[0]-1)
	j1 := min(j0+1, vf.size[1]-1)
	corners := [4]struct {
		i, j int
		w    float64
	}{
		{i0, j0, (1 - fx) * (1 - fy)},
		{i1, j0, fx * (1 - fy)},
		{i0, j1, (1 - fx) * fy},
		{i1, j1, fx * fy},
	}
	var out Vector
	var wsum float64
	for _, c := range corners {
		if c.w == 0 || !valid[vf.Offset(c.i, c.j)] {
			continue
		}
		u := vf.At(c.i, c.j)
		out[0] += c.w * u[0]
		out[1] += c.w * u[1]
		wsum += c.w
	}
	if wsum > 0 {
		return Vector{out[0] / wsum, out[1] / wsum}, true
	}

	x = clampFloat(x, 0, float64(vf.size[0]-1))
	y = clampFloat(y, 0, float64(vf.size[1]-1))
	best, bestDist := -1, math.Inf(1)
	for k, ok := range valid {
		if !ok {
			continue
		}
		i, j := vf.Coords(k)
		if d := math.Hypot(float64(i)-x, float64(j)-y); d < bestDist {
			best, bestDist = k, d
		}
	}
	if best < 0 {
		return Vector{}, false
	}
	return vf.pix[best], true
}

// NearestAt returns the sample closest to (x, y), clamped to the grid.
func NearestAt[T any](g *Grid[T], x, y float64) T {
	i := clampInt(int(math.Round(x)), 0, g.size[0]-1)
	j := clampInt(int(math.Round(y)), 0, g.size[1]-1)
	return g.At(i, j)
}

func cell(size [2]int, x, y float64) (int, int, float64, float64) {
	x = clampFloat(x, 0, float64(size[0]-1))
	y = clampFloat(y, 0, float64(size[1]-1))
	i0 := int(math.Floor(x))
	j0 := int(math.Floor(y))
	return i0, j0, x - float64(i0), y - float64(j0)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
