// Package regularization revises block-matching displacement fields using
// neighbourhood statistics.
//
// Two passes are provided. Bayesian smooths every block towards a robust
// neighbourhood prior, weighting the raw estimate by its metric confidence.
// StrainWindow rejects blocks whose local strain exceeds a bound and replaces
// them through a fallback calculator. Both mutate the field in place and stop
// at an iteration cap; hitting the cap without stabilising is reported as
// ErrNonConvergence, which callers treat as a warning.
package regularization

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"speckletrack/pkg/field"
)

// ErrNonConvergence is returned when a pass reaches its iteration cap while
// the field is still changing. The field is left in its last state.
var ErrNonConvergence = errors.New("regularization: iteration cap reached without convergence")

// neighbour is a lattice offset together with its physical length.
type neighbour struct {
	di, dj int
	dist   float64
}

// neighbours lists the offsets of the square window of the given radius,
// excluding the centre.
func neighbours(geom field.Geometry, radius int) []neighbour {
	var out []neighbour
	for dj := -radius; dj <= radius; dj++ {
		for di := -radius; di <= radius; di++ {
			if di == 0 && dj == 0 {
				continue
			}
			v := geom.IndexToVector([2]float64{float64(di), float64(dj)})
			out = append(out, neighbour{di: di, dj: dj, dist: math.Hypot(v[0], v[1])})
		}
	}
	return out
}

// median returns the median of v, averaging the middle pair for even
// lengths. v is reordered.
func median(v []float64) float64 {
	sort.Float64s(v)
	lower := stat.Quantile(0.5, stat.Empirical, v, nil)
	// The next probability above one half selects the upper middle sample,
	// which is the same sample for odd lengths.
	upper := stat.Quantile(math.Nextafter(0.5, 1), stat.Empirical, v, nil)
	return 0.5 * (lower + upper)
}

// neighbourMedian returns the component-wise median of the usable
// neighbours of (i, j) in vf. ok is false when there are none.
func neighbourMedian(vf *field.VectorField, usable []bool, nbs []neighbour, i, j int) (field.Vector, bool) {
	xs := make([]float64, 0, len(nbs))
	ys := make([]float64, 0, len(nbs))
	for _, nb := range nbs {
		ii, jj := i+nb.di, j+nb.dj
		if !vf.InBounds(ii, jj) {
			continue
		}
		o := vf.Offset(ii, jj)
		if usable != nil && !usable[o] {
			continue
		}
		u := vf.Pix()[o]
		xs = append(xs, u[0])
		ys = append(ys, u[1])
	}
	if len(xs) == 0 {
		return field.Vector{}, false
	}
	return field.Vector{median(xs), median(ys)}, true
}

func finite(v field.Vector) bool {
	return !math.IsNaN(v[0]) && !math.IsInf(v[0], 0) && !math.IsNaN(v[1]) && !math.IsInf(v[1], 0)
}
