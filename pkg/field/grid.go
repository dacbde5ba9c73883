// Package field provides the dense 2-D grids shared by every stage of the
// tracking pipeline: scalar images, displacement vector fields and strain
// tensor fields. Each grid carries the physical origin, spacing and
// direction that map a sample index to a point in physical space.
//
// Samples are stored in a flat row-major slice with the first axis varying
// fastest, so index (i, j) lives at offset j*size[0] + i. The size and
// geometry of a grid are fixed when it is created; only sample values
// change afterwards.
package field

import (
	"errors"
	"fmt"
)

var (
	// ErrSizeMismatch is returned when sample data or a second grid does not
	// match the expected grid size.
	ErrSizeMismatch = errors.New("field: size mismatch")
	// ErrInvalidGeometry is returned for non-positive spacing or an empty size.
	ErrInvalidGeometry = errors.New("field: invalid geometry")
)

// Vector is a 2-D displacement in physical units.
type Vector [2]float64

// Tensor holds the upper-triangular components of a symmetric 2x2 tensor
// in the order xx, xy, yy.
type Tensor [3]float64

// Geometry maps a continuous index to a physical point:
//
//	p = Origin + Direction * (Spacing ⊙ index)
//
// Direction[r][c] is the physical component r of index axis c and must be
// orthonormal.
type Geometry struct {
	Origin    [2]float64
	Spacing   [2]float64
	Direction [2][2]float64
}

// DefaultGeometry returns unit spacing, zero origin and identity direction.
func DefaultGeometry() Geometry {
	return Geometry{
		Spacing:   [2]float64{1, 1},
		Direction: [2][2]float64{{1, 0}, {0, 1}},
	}
}

// Validate checks that the spacing is strictly positive.
func (g Geometry) Validate() error {
	if g.Spacing[0] <= 0 || g.Spacing[1] <= 0 {
		return fmt.Errorf("%w: spacing %v", ErrInvalidGeometry, g.Spacing)
	}
	return nil
}

// IndexToPoint converts a continuous index to a physical point.
func (g Geometry) IndexToPoint(idx [2]float64) [2]float64 {
	v := g.IndexToVector(idx)
	return [2]float64{g.Origin[0] + v[0], g.Origin[1] + v[1]}
}

// PointToIndex converts a physical point to a continuous index.
func (g Geometry) PointToIndex(p [2]float64) [2]float64 {
	return g.VectorToIndex(Vector{p[0] - g.Origin[0], p[1] - g.Origin[1]})
}

// IndexToVector converts an index-space offset to a physical vector,
// ignoring the origin.
func (g Geometry) IndexToVector(idx [2]float64) Vector {
	a := idx[0] * g.Spacing[0]
	b := idx[1] * g.Spacing[1]
	return Vector{
		g.Direction[0][0]*a + g.Direction[0][1]*b,
		g.Direction[1][0]*a + g.Direction[1][1]*b,
	}
}

// VectorToIndex converts a physical vector to an index-space offset. The
// direction matrix is orthonormal so its transpose is its inverse.
func (g Geometry) VectorToIndex(v Vector) [2]float64 {
	a := g.Direction[0][0]*v[0] + g.Direction[1][0]*v[1]
	b := g.Direction[0][1]*v[0] + g.Direction[1][1]*v[1]
	return [2]float64{a / g.Spacing[0], b / g.Spacing[1]}
}

// Grid is a dense 2-D array of samples with physical geometry.
type Grid[T any] struct {
	size [2]int
	geom Geometry
	pix  []T
}

// Image is a scalar grid.
type Image = Grid[float64]

// VectorField is a grid of displacement vectors.
type VectorField = Grid[Vector]

// TensorField is a grid of symmetric strain tensors.
type TensorField = Grid[Tensor]

// NewGrid allocates a zero-valued grid.
func NewGrid[T any](size [2]int, geom Geometry) *Grid[T] {
	if size[0] < 0 {
		size[0] = 0
	}
	if size[1] < 0 {
		size[1] = 0
	}
	return &Grid[T]{
		size: size,
		geom: geom,
		pix:  make([]T, size[0]*size[1]),
	}
}

// NewImage allocates a zero-valued scalar image.
func NewImage(size [2]int, geom Geometry) *Image {
	return NewGrid[float64](size, geom)
}

// NewImageFromData wraps data, which must hold size[0]*size[1] samples in
// row-major order. The slice is copied.
func NewImageFromData(size [2]int, geom Geometry, data []float64) (*Image, error) {
	if len(data) != size[0]*size[1] {
		return nil, fmt.Errorf("%w: %d samples for size %v", ErrSizeMismatch, len(data), size)
	}
	im := NewImage(size, geom)
	copy(im.pix, data)
	return im, nil
}

// Size returns the number of samples along each axis.
func (g *Grid[T]) Size() [2]int { return g.size }

// Geometry returns the index-to-physical mapping.
func (g *Grid[T]) Geometry() Geometry { return g.geom }

// Spacing returns the physical distance between samples along each axis.
func (g *Grid[T]) Spacing() [2]float64 { return g.geom.Spacing }

// Origin returns the physical location of index (0, 0).
func (g *Grid[T]) Origin() [2]float64 { return g.geom.Origin }

// Direction returns the orientation of the index axes.
func (g *Grid[T]) Direction() [2][2]float64 { return g.geom.Direction }

// Len returns the total number of samples.
func (g *Grid[T]) Len() int { return len(g.pix) }

// Pix exposes the backing samples. Writes through the slice are visible in
// the grid.
func (g *Grid[T]) Pix() []T { return g.pix }

// Offset returns the position of (i, j) in Pix.
func (g *Grid[T]) Offset(i, j int) int { return j*g.size[0] + i }

// Coords is the inverse of Offset.
func (g *Grid[T]) Coords(offset int) (int, int) {
	return offset % g.size[0], offset / g.size[0]
}

// InBounds reports whether (i, j) addresses a sample.
func (g *Grid[T]) InBounds(i, j int) bool {
	return i >= 0 && j >= 0 && i < g.size[0] && j < g.size[1]
}

// At returns the sample at (i, j).
func (g *Grid[T]) At(i, j int) T { return g.pix[j*g.size[0]+i] }

// Set stores v at (i, j).
func (g *Grid[T]) Set(i, j int, v T) { g.pix[j*g.size[0]+i] = v }

// Bounds returns the region covering the whole grid.
func (g *Grid[T]) Bounds() Region {
	return Region{Size: g.size}
}

// Clone returns a deep copy with the same geometry.
func (g *Grid[T]) Clone() *Grid[T] {
	c := NewGrid[T](g.size, g.geom)
	copy(c.pix, g.pix)
	return c
}

// IndexToPoint converts an integer index to a physical point.
func (g *Grid[T]) IndexToPoint(i, j int) [2]float64 {
	return g.geom.IndexToPoint([2]float64{float64(i), float64(j)})
}

// SameShape reports whether two grids have equal size. Geometry is not
// compared.
func SameShape[A, B any](a *Grid[A], b *Grid[B]) bool {
	return a.size == b.size
}
