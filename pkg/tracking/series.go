package tracking

import (
	"context"
	"fmt"

	"speckletrack/internal/monitoring"
	"speckletrack/pkg/field"
)

// SeriesParams selects the frame pairs of a series.
type SeriesParams struct {
	// StartIndex is the first fixed frame.
	StartIndex int
	// EndIndex is the last frame that may be used; negative means the last
	// frame of the series.
	EndIndex int
	// FrameSkip is the distance between the fixed and the moving frame.
	FrameSkip int
}

// DefaultSeriesParams tracks every consecutive pair.
func DefaultSeriesParams() SeriesParams {
	return SeriesParams{EndIndex: -1, FrameSkip: 1}
}

// Pairs lists the (fixed, moving) frame indices for a series of n frames.
func (sp SeriesParams) Pairs(n int) ([][2]int, error) {
	if sp.FrameSkip < 1 {
		return nil, fmt.Errorf("tracking: frame skip must be at least 1, got %d", sp.FrameSkip)
	}
	if sp.StartIndex < 0 {
		return nil, fmt.Errorf("tracking: start index must not be negative, got %d", sp.StartIndex)
	}
	end := n - 1
	if sp.EndIndex >= 0 && sp.EndIndex < end {
		end = sp.EndIndex
	}
	var pairs [][2]int
	for f := sp.StartIndex; f+sp.FrameSkip <= end; f++ {
		pairs = append(pairs, [2]int{f, f + sp.FrameSkip})
	}
	return pairs, nil
}

// PairResult is the tracking result of one frame pair.
type PairResult struct {
	Fixed, Moving int
	*Result
}

// TrackSeries tracks every pair selected by sp in order. It stops at the
// first failing pair and returns the results gathered so far with the error.
func (t *Tracker) TrackSeries(ctx context.Context, frames []*field.Image, sp SeriesParams) ([]PairResult, error) {
	pairs, err := sp.Pairs(len(frames))
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("tracking: no frame pairs in a series of %d frames from index %d with skip %d", len(frames), sp.StartIndex, sp.FrameSkip)
	}
	out := make([]PairResult, 0, len(pairs))
	for n, pr := range pairs {
		monitoring.Logf("tracking: pair %d of %d: frames %d -> %d", n+1, len(pairs), pr[0], pr[1])
		res, err := t.Track(ctx, frames[pr[0]], frames[pr[1]])
		if err != nil {
			return out, fmt.Errorf("tracking: frames %d -> %d: %w", pr[0], pr[1], err)
		}
		out = append(out, PairResult{Fixed: pr[0], Moving: pr[1], Result: res})
	}
	return out, nil
}
