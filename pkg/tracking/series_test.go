package tracking

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speckletrack/internal/phantom"
	"speckletrack/pkg/field"
)

func TestSeriesPairs(t *testing.T) {
	tests := []struct {
		name string
		sp   SeriesParams
		n    int
		want [][2]int
	}{
		{"consecutive", DefaultSeriesParams(), 4, [][2]int{{0, 1}, {1, 2}, {2, 3}}},
		{"skip", SeriesParams{EndIndex: -1, FrameSkip: 2}, 5, [][2]int{{0, 2}, {1, 3}, {2, 4}}},
		{"window", SeriesParams{StartIndex: 1, EndIndex: 3, FrameSkip: 1}, 10, [][2]int{{1, 2}, {2, 3}}},
		{"end past series", SeriesParams{EndIndex: 99, FrameSkip: 1}, 2, [][2]int{{0, 1}}},
		{"too short", SeriesParams{EndIndex: -1, FrameSkip: 3}, 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.sp.Pairs(tt.n)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Pairs() mismatch (-want +got):\n%s", diff)
			}
		})
	}

	_, err := SeriesParams{FrameSkip: 0}.Pairs(3)
	assert.Error(t, err)
}

func TestTrackSeries(t *testing.T) {
	ph := phantom.New([2]int{64, 64}, 21, phantom.DefaultParams())
	frames := make([]*field.Image, 4)
	for f := range frames {
		frames[f] = ph.Render(phantom.Translation(field.Vector{float64(f), 0}))
	}

	tr := NewTracker(singleLevel([2]int{8, 8}, [2]int{4, 4}))
	results, err := tr.TrackSeries(context.Background(), frames, SeriesParams{EndIndex: -1, FrameSkip: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for n, r := range results {
		assert.Equal(t, n, r.Fixed)
		assert.Equal(t, n+2, r.Moving)
		mean := r.MeanDisplacement()
		assert.InDelta(t, 2, mean[0], 0.15)
		assert.InDelta(t, 0, mean[1], 0.15)
	}

	_, err = tr.TrackSeries(context.Background(), frames[:1], DefaultSeriesParams())
	assert.Error(t, err)
}
