package search

import (
	"fmt"
	"math"

	"speckletrack/pkg/field"
)

// Lattice is the regular grid of block centres on one resolution level.
type Lattice struct {
	Start [2]int
	Step  [2]int
	Count [2]int
}

// NewLattice lays out block centres over an image. Centres are inset by
// blockRadius+searchRadius so that the nominal search window fits; when the
// image is too small for that along an axis the inset falls back to the
// block radius alone. Consecutive centres are round(overlap*(2r+1)) pixels
// apart: overlap 1 gives abutting blocks, smaller values overlap them and
// larger values leave gaps.
func NewLattice(imageSize, blockRadius, searchRadius [2]int, overlap float64) (Lattice, error) {
	if overlap <= 0 {
		return Lattice{}, fmt.Errorf("search: overlap must be positive, got %g", overlap)
	}
	var l Lattice
	for a := 0; a < 2; a++ {
		inset := blockRadius[a] + searchRadius[a]
		if imageSize[a]-1-inset < inset {
			inset = blockRadius[a]
		}
		last := imageSize[a] - 1 - inset
		l.Start[a] = inset
		l.Step[a] = max(1, int(math.Round(overlap*float64(2*blockRadius[a]+1))))
		if last >= inset {
			l.Count[a] = (last-inset)/l.Step[a] + 1
		}
	}
	return l, nil
}

// Len returns the number of block centres.
func (l Lattice) Len() int { return l.Count[0] * l.Count[1] }

// Center returns the image index of lattice point (i, j).
func (l Lattice) Center(i, j int) [2]int {
	return [2]int{l.Start[0] + i*l.Step[0], l.Start[1] + j*l.Step[1]}
}

// Geometry returns the physical geometry of a field sampled on the lattice
// of an image with geometry img.
func (l Lattice) Geometry(img field.Geometry) field.Geometry {
	g := img
	g.Origin = img.IndexToPoint([2]float64{float64(l.Start[0]), float64(l.Start[1])})
	g.Spacing = [2]float64{
		img.Spacing[0] * float64(l.Step[0]),
		img.Spacing[1] * float64(l.Step[1]),
	}
	return g
}
