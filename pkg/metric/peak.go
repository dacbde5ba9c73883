package metric

import (
	"fmt"
	"math"
)

// DegenerateCurvature is the magnitude below which the parabola through a
// peak and its two neighbours is treated as flat and sub-pixel refinement is
// skipped for that axis.
const DegenerateCurvature = 1e-12

// Peak is the location of the best score in a metric image.
type Peak struct {
	// Offset is the sub-pixel displacement in moving-image pixels.
	Offset [2]float64
	// Integer is the discrete offset of the maximum score.
	Integer [2]int
	// Confidence is the score at the discrete maximum.
	Confidence float64
}

// ExtractPeak locates the maximum finite score of m and refines it to
// sub-pixel precision by fitting a parabola through the maximum and its two
// neighbours along each axis independently:
//
//	correction = 0.5*(s₋₁ - s₊₁) / (s₋₁ - 2s₀ + s₊₁)
//
// Refinement along an axis is skipped when the maximum sits on the metric
// image border, when a neighbour is not finite, or when the denominator is
// within DegenerateCurvature of zero. A degenerate metric image has no peak.
func ExtractPeak(m *MetricImage) (Peak, error) {
	if m == nil || m.Scores == nil || m.Scores.Len() == 0 {
		return Peak{}, fmt.Errorf("%w: empty metric image", ErrNoPeakFound)
	}
	if m.Degenerate {
		return Peak{}, fmt.Errorf("%w: zero-variance block or search window", ErrNoPeakFound)
	}
	size := m.Scores.Size()
	best := math.Inf(-1)
	bi, bj := -1, -1
	for j := 0; j < size[1]; j++ {
		for i := 0; i < size[0]; i++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			if v > best {
				best, bi, bj = v, i, j
			}
		}
	}
	if bi < 0 {
		return Peak{}, fmt.Errorf("%w: no finite score in %v metric image", ErrNoPeakFound, size)
	}

	integer := m.OffsetOf(bi, bj)
	p := Peak{
		Integer:    integer,
		Offset:     [2]float64{float64(integer[0]), float64(integer[1])},
		Confidence: best,
	}
	if bi > 0 && bi < size[0]-1 {
		p.Offset[0] += parabolicCorrection(m.At(bi-1, bj), best, m.At(bi+1, bj))
	}
	if bj > 0 && bj < size[1]-1 {
		p.Offset[1] += parabolicCorrection(m.At(bi, bj-1), best, m.At(bi, bj+1))
	}
	return p, nil
}

func parabolicCorrection(prev, centre, next float64) float64 {
	if math.IsNaN(prev) || math.IsInf(prev, 0) || math.IsNaN(next) || math.IsInf(next, 0) {
		return 0
	}
	denom := prev - 2*centre + next
	if math.Abs(denom) < DegenerateCurvature {
		return 0
	}
	c := 0.5 * (prev - next) / denom
	// The centre is the maximum, so |c| <= 0.5 up to rounding.
	return math.Max(-0.5, math.Min(0.5, c))
}
