package strain

import (
	"gonum.org/v1/gonum/spatial/kdtree"
)

// latticePoint is a valid field sample in lattice index coordinates.
type latticePoint struct {
	X, Y   float64
	Offset int
}

// Compare implements the kdtree.Comparable interface.
func (p latticePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(latticePoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the kd-tree.
func (p latticePoint) Dims() int { return 2 }

// Distance returns the squared Euclidean distance between two points.
func (p latticePoint) Distance(c kdtree.Comparable) float64 {
	q := c.(latticePoint)
	dx := p.X - q.X
	dy := p.Y - q.Y
	return dx*dx + dy*dy
}

// latticePoints satisfies kdtree.Interface.
type latticePoints []latticePoint

func (p latticePoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p latticePoints) Len() int                              { return len(p) }
func (p latticePoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method.
func (p latticePoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{latticePoints: p, Dim: d}, kdtree.MedianOfRandoms(pointPlane{latticePoints: p, Dim: d}, 100))
}

// pointPlane implements sort.Interface and kdtree.SortSlicer.
type pointPlane struct {
	latticePoints
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.latticePoints[i].X < p.latticePoints[j].X
	case 1:
		return p.latticePoints[i].Y < p.latticePoints[j].Y
	default:
		panic("illegal dimension")
	}
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{latticePoints: p.latticePoints[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.latticePoints[i], p.latticePoints[j] = p.latticePoints[j], p.latticePoints[i]
}

// neighborhood finds valid lattice points within a radius.
type neighborhood struct {
	tree   *kdtree.Tree
	radius float64
}

func newNeighborhood(points latticePoints, radius float64) *neighborhood {
	if len(points) == 0 {
		return &neighborhood{radius: radius}
	}
	return &neighborhood{tree: kdtree.New(points, false), radius: radius}
}

// within returns the field offsets of all points no further than the
// radius from q, including q itself when it is valid.
func (n *neighborhood) within(q latticePoint) []int {
	if n.tree == nil {
		return nil
	}
	// A small slack keeps points exactly on the radius.
	keeper := kdtree.NewDistKeeper(n.radius*n.radius + 1e-9)
	n.tree.NearestSet(keeper, q)
	out := make([]int, 0, keeper.Len())
	for _, c := range keeper.Heap {
		if c.Comparable == nil {
			continue
		}
		out = append(out, c.Comparable.(latticePoint).Offset)
	}
	return out
}
