package field

// Region is a rectangular index-space area: Size samples starting at Index.
type Region struct {
	Index [2]int
	Size  [2]int
}

// NewRegionAround returns the region of radius r centred on c, that is
// [c-r, c+r] along each axis.
func NewRegionAround(c, r [2]int) Region {
	return Region{
		Index: [2]int{c[0] - r[0], c[1] - r[1]},
		Size:  [2]int{2*r[0] + 1, 2*r[1] + 1},
	}
}

// Empty reports whether the region holds no samples.
func (r Region) Empty() bool {
	return r.Size[0] <= 0 || r.Size[1] <= 0
}

// Len returns the number of samples in the region.
func (r Region) Len() int {
	if r.Empty() {
		return 0
	}
	return r.Size[0] * r.Size[1]
}

// Upper returns the last index inside the region along each axis.
func (r Region) Upper() [2]int {
	return [2]int{r.Index[0] + r.Size[0] - 1, r.Index[1] + r.Size[1] - 1}
}

// Contains reports whether (i, j) lies inside the region.
func (r Region) Contains(i, j int) bool {
	return i >= r.Index[0] && j >= r.Index[1] &&
		i < r.Index[0]+r.Size[0] && j < r.Index[1]+r.Size[1]
}

// ContainsRegion reports whether o lies entirely inside r.
func (r Region) ContainsRegion(o Region) bool {
	if o.Empty() {
		return true
	}
	u := o.Upper()
	return r.Contains(o.Index[0], o.Index[1]) && r.Contains(u[0], u[1])
}

// Intersect returns the overlap of two regions. The result is empty when
// they do not overlap.
func (r Region) Intersect(o Region) Region {
	var out Region
	for a := 0; a < 2; a++ {
		lo := max(r.Index[a], o.Index[a])
		hi := min(r.Index[a]+r.Size[a], o.Index[a]+o.Size[a])
		out.Index[a] = lo
		out.Size[a] = max(hi-lo, 0)
	}
	return out
}
