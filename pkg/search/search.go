// Package search decides where each block is matched: the per-level block
// and search radii, the lattice of block centres, and the window of
// candidate offsets in the moving image for one block.
package search

import (
	"errors"
	"fmt"
	"math"

	"speckletrack/pkg/field"
)

// ErrRegionOutOfBounds is returned when a search window had to be clipped
// to keep every candidate moving block inside the moving image. The clipped
// window is returned alongside the error and may still be usable.
var ErrRegionOutOfBounds = errors.New("search: region out of bounds")

// Estimator computes search windows of candidate offsets, in moving-image
// pixels relative to the block centre.
type Estimator struct {
	// SearchRadius is the nominal half-width of the window along each axis.
	SearchRadius [2]int
	// TopFactor and BottomFactor scale SearchRadius toward lower and higher
	// indices respectively when a prior displacement is available. Unequal
	// factors bias the window toward expected compression or expansion.
	TopFactor    [2]float64
	BottomFactor [2]float64
	// Bounds is the index region of the moving image.
	Bounds field.Region
}

// Coarse returns the symmetric window [-SearchRadius, SearchRadius] used when
// no prior displacement exists, clipped to the moving image.
func (e Estimator) Coarse(center, blockRadius [2]int) (field.Region, error) {
	return e.clip(center, blockRadius, field.NewRegionAround([2]int{}, e.SearchRadius))
}

// Refine returns a window centred on the prior displacement (in moving-image
// pixels) extending ceil(SearchRadius*TopFactor) below and
// ceil(SearchRadius*BottomFactor) above it along each axis, clipped to the
// moving image.
func (e Estimator) Refine(center, blockRadius [2]int, prior [2]float64) (field.Region, error) {
	var w field.Region
	for a := 0; a < 2; a++ {
		c := int(math.Round(prior[a]))
		lo := c - int(math.Ceil(float64(e.SearchRadius[a])*e.TopFactor[a]))
		hi := c + int(math.Ceil(float64(e.SearchRadius[a])*e.BottomFactor[a]))
		w.Index[a] = lo
		w.Size[a] = hi - lo + 1
	}
	return e.clip(center, blockRadius, w)
}

// clip restricts the window so that the moving block centre+offset±radius
// stays inside Bounds for every offset.
func (e Estimator) clip(center, blockRadius [2]int, w field.Region) (field.Region, error) {
	var allowed field.Region
	for a := 0; a < 2; a++ {
		lo := e.Bounds.Index[a] + blockRadius[a] - center[a]
		hi := e.Bounds.Index[a] + e.Bounds.Size[a] - 1 - blockRadius[a] - center[a]
		allowed.Index[a] = lo
		allowed.Size[a] = hi - lo + 1
	}
	clipped := allowed.Intersect(w)
	if clipped != w {
		return clipped, fmt.Errorf("%w: block %v window %+v clipped to %+v", ErrRegionOutOfBounds, center, w, clipped)
	}
	return clipped, nil
}
