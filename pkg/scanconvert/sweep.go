package scanconvert

import (
	"fmt"
	"math"
)

// Slice places one scan line of a swept acquisition. Samples run from
// Origin along the unit direction at Angle radians from the depth axis,
// towards +x for positive angles.
type Slice struct {
	Origin [2]float64
	Angle  float64
}

func (s Slice) direction() [2]float64 {
	return [2]float64{math.Sin(s.Angle), math.Cos(s.Angle)}
}

// normal is the in-plane unit normal of the slice.
func (s Slice) normal() [2]float64 {
	return [2]float64{math.Cos(s.Angle), -math.Sin(s.Angle)}
}

// SweptSlices is a series of individually placed scan lines, one per column
// of the acquired grid, sampled every SampleSpacing along each line.
// Consecutive slices must not cross inside the imaged region.
type SweptSlices struct {
	SampleSpacing float64
	Slices        []Slice
}

// RegularSweep places n slices, stepping the origin by originStep and the
// angle by angleStep from first.
func RegularSweep(n int, first Slice, originStep [2]float64, angleStep float64) []Slice {
	out := make([]Slice, n)
	for j := range out {
		f := float64(j)
		out[j] = Slice{
			Origin: [2]float64{first.Origin[0] + f*originStep[0], first.Origin[1] + f*originStep[1]},
			Angle:  first.Angle + f*angleStep,
		}
	}
	return out
}

// Check implements Geometry.
func (s SweptSlices) Check(size [2]int) error {
	if s.SampleSpacing <= 0 {
		return fmt.Errorf("scanconvert: slice sample spacing must be positive, got %g", s.SampleSpacing)
	}
	if len(s.Slices) < 2 {
		return fmt.Errorf("scanconvert: a sweep needs at least 2 slices, got %d", len(s.Slices))
	}
	if len(s.Slices) != size[1] {
		return fmt.Errorf("scanconvert: %d slices for %d scan lines", len(s.Slices), size[1])
	}
	return nil
}

// PointToIndex implements Geometry. The point is placed between the first
// pair of consecutive slices whose signed normal distances to it straddle
// zero, interpolating both the line index and the range index linearly in
// those distances.
func (s SweptSlices) PointToIndex(pt [2]float64, size [2]int) ([2]float64, bool) {
	if len(s.Slices) != size[1] {
		return [2]float64{}, false
	}
	lo, hi := -0.5, float64(size[0])-0.5
	prevDist, prevAlong := s.place(0, pt)
	for j := 1; j < len(s.Slices); j++ {
		dist, along := s.place(j, pt)
		if (prevDist <= 0 && dist >= 0) || (prevDist >= 0 && dist <= 0) {
			t := 0.0
			if prevDist != dist {
				t = prevDist / (prevDist - dist)
			}
			a := prevAlong + t*(along-prevAlong)
			if a >= lo && a <= hi {
				return [2]float64{a, float64(j-1) + t}, true
			}
		}
		prevDist, prevAlong = dist, along
	}
	return [2]float64{}, false
}

// place returns the signed distance of pt from slice j and its position
// along the slice in samples.
func (s SweptSlices) place(j int, pt [2]float64) (dist, along float64) {
	sl := s.Slices[j]
	v := [2]float64{pt[0] - sl.Origin[0], pt[1] - sl.Origin[1]}
	n, d := sl.normal(), sl.direction()
	return v[0]*n[0] + v[1]*n[1], (v[0]*d[0] + v[1]*d[1]) / s.SampleSpacing
}

// Bounds returns the Cartesian bounding box of the first and last samples
// of every slice for a grid of size.
func (s SweptSlices) Bounds(size [2]int) (lower, upper [2]float64) {
	lower = [2]float64{math.Inf(1), math.Inf(1)}
	upper = [2]float64{math.Inf(-1), math.Inf(-1)}
	last := float64(size[0]-1) * s.SampleSpacing
	for _, sl := range s.Slices {
		d := sl.direction()
		for _, r := range []float64{0, last} {
			p := [2]float64{sl.Origin[0] + r*d[0], sl.Origin[1] + r*d[1]}
			for a := range p {
				lower[a] = math.Min(lower[a], p[a])
				upper[a] = math.Max(upper[a], p[a])
			}
		}
	}
	return lower, upper
}

// DefaultOrigin is the lower corner of Bounds.
func (s SweptSlices) DefaultOrigin(size [2]int, _ Params) [2]float64 {
	lower, _ := s.Bounds(size)
	return lower
}

// FitSize returns the output size that covers Bounds at spacing.
func (s SweptSlices) FitSize(size [2]int, spacing [2]float64) [2]int {
	lower, upper := s.Bounds(size)
	var out [2]int
	for a := range out {
		out[a] = int((upper[a]-lower[a])/spacing[a] + 1)
	}
	return out
}
