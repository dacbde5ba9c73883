package search

import (
	"fmt"
	"math"
)

// RadiusSchedule assigns a radius to every resolution level. The coarsest
// level uses Max, the finest uses Min, and levels in between are linearly
// interpolated and rounded. Min == Max gives a fixed radius.
type RadiusSchedule struct {
	Min [2]int
	Max [2]int
}

// Fixed returns a schedule with the same radius at every level.
func Fixed(r [2]int) RadiusSchedule {
	return RadiusSchedule{Min: r, Max: r}
}

// Validate checks that the radii are non-negative and ordered.
func (s RadiusSchedule) Validate() error {
	for a := 0; a < 2; a++ {
		if s.Min[a] < 0 || s.Max[a] < s.Min[a] {
			return fmt.Errorf("search: invalid radius schedule min %v max %v", s.Min, s.Max)
		}
	}
	return nil
}

// At returns the radius for level in [0, levels), where level 0 is the
// coarsest.
func (s RadiusSchedule) At(level, levels int) [2]int {
	if levels <= 1 {
		return s.Min
	}
	t := float64(level) / float64(levels-1)
	var r [2]int
	for a := 0; a < 2; a++ {
		v := float64(s.Max[a]) + t*float64(s.Min[a]-s.Max[a])
		r[a] = int(math.Round(v))
	}
	return r
}
