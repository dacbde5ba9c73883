package tracking

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"speckletrack/pkg/field"
	"speckletrack/pkg/strain"
)

// maxWarpStretch bounds the singular values of a block warp. Larger
// deformations are taken as estimation noise and the block is not warped.
const maxWarpStretch = 2

// warpAt returns the fixed-block sampling map for centre c from the
// previous level's gradient at the same physical position.
func (lf *levelField) warpAt(c [2]int) ([2][2]float64, bool) {
	pt := lf.fixed.Geometry().IndexToPoint([2]float64{float64(c[0]), float64(c[1])})
	idx := lf.warp.Gradient.Geometry().PointToIndex(pt)
	size := lf.warp.Gradient.Size()
	i := min(max(int(math.Round(idx[0])), 0), size[0]-1)
	j := min(max(int(math.Round(idx[1])), 0), size[1]-1)
	o := lf.warp.Gradient.Offset(i, j)
	if !lf.warp.Valid[o] {
		return [2][2]float64{}, false
	}
	return warpMatrix(lf.warp.Gradient.Pix()[o], lf.fixed.Geometry())
}

// warpMatrix converts the physical displacement gradient g into the map
// from moving-block offsets to fixed-block offsets in pixels of geom.
// With A = D·S the index gradient is A⁻¹·G·A and the map is its
// deformation gradient inverted, (I + A⁻¹·G·A)⁻¹. ok is false when the
// deformation folds or stretches beyond maxWarpStretch.
func warpMatrix(g strain.Gradient, geom field.Geometry) (m [2][2]float64, ok bool) {
	a := mat.NewDense(2, 2, []float64{
		geom.Direction[0][0] * geom.Spacing[0], geom.Direction[0][1] * geom.Spacing[1],
		geom.Direction[1][0] * geom.Spacing[0], geom.Direction[1][1] * geom.Spacing[1],
	})
	var aInv mat.Dense
	if err := aInv.Inverse(a); err != nil {
		return m, false
	}
	gm := mat.NewDense(2, 2, []float64{g[0][0], g[0][1], g[1][0], g[1][1]})

	var f mat.Dense
	f.Product(&aInv, gm, a)
	f.Add(&f, eye2())
	if mat.Det(&f) <= 0 {
		return m, false
	}
	var svd mat.SVD
	if !svd.Factorize(&f, mat.SVDNone) {
		return m, false
	}
	if sv := svd.Values(nil); sv[0] > maxWarpStretch || sv[1] < 1/maxWarpStretch {
		return m, false
	}

	var inv mat.Dense
	if err := inv.Inverse(&f); err != nil {
		return m, false
	}
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			m[r][c] = inv.At(r, c)
		}
	}
	return m, true
}

func eye2() *mat.Dense {
	return mat.NewDense(2, 2, []float64{1, 0, 0, 1})
}
