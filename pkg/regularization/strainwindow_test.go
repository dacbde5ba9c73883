package regularization

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speckletrack/pkg/field"
	"speckletrack/pkg/strain"
)

func TestStrainWindowReplacesOutlier(t *testing.T) {
	vf, conf := uniformField(9, field.Vector{1, 0.5})
	vf.Set(4, 4, field.Vector{4, 3.5})

	var hooks int
	rep, err := StrainWindow(context.Background(), vf, conf, nil, DefaultWindowParams(), nil,
		func(iter int, _ *field.VectorField, s *strain.Result) {
			hooks++
			assert.NotNil(t, s)
		})
	require.NoError(t, err)
	assert.True(t, rep.Converged)
	assert.Equal(t, 2, rep.Iterations)
	assert.Equal(t, 1, rep.Revised)
	assert.Equal(t, 1, hooks)
	for _, u := range vf.Pix() {
		assert.Equal(t, field.Vector{1, 0.5}, u)
	}
}

func TestStrainWindowIsIdempotentAtConvergence(t *testing.T) {
	vf, conf := uniformField(11, field.Vector{0.3, -0.1})
	vf.Set(3, 3, field.Vector{2, 2})
	vf.Set(7, 6, field.Vector{-1.5, 0.9})

	_, err := StrainWindow(context.Background(), vf, conf, nil, DefaultWindowParams(), nil, nil)
	require.NoError(t, err)
	once := vf.Clone()

	rep, err := StrainWindow(context.Background(), vf, conf, nil, DefaultWindowParams(), nil, nil)
	require.NoError(t, err)
	assert.Zero(t, rep.Revised)
	assert.Equal(t, once.Pix(), vf.Pix())
}

func TestStrainWindowRematch(t *testing.T) {
	vf, conf := uniformField(9, field.Vector{1, 0.5})
	vf.Set(4, 4, field.Vector{-3, 0.5})
	target := vf.Offset(4, 4)

	p := DefaultWindowParams()
	p.Fallback = FallbackRematch
	rematch := func(k int, guess field.Vector) (field.Vector, float64, error) {
		assert.Equal(t, target, k)
		assert.Equal(t, field.Vector{1, 0.5}, guess)
		return field.Vector{guess[0] + 0.1, guess[1]}, 0.9, nil
	}
	rep, err := StrainWindow(context.Background(), vf, conf, nil, p, rematch, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Revised)
	assert.InDelta(t, 1.1, vf.Pix()[target][0], 1e-12)
	assert.InDelta(t, 0.9, conf.Pix()[target], 1e-12)

	_, err = StrainWindow(context.Background(), vf, conf, nil, p, nil, nil)
	assert.Error(t, err, "rematch fallback without a rematch function")
}

func TestStrainWindowCap(t *testing.T) {
	vf, conf := uniformField(9, field.Vector{})
	vf.Set(2, 6, field.Vector{5, 5})

	p := DefaultWindowParams()
	p.MaximumIterations = 1
	rep, err := StrainWindow(context.Background(), vf, conf, nil, p, nil, nil)
	assert.ErrorIs(t, err, ErrNonConvergence)
	assert.False(t, rep.Converged)
	assert.Equal(t, field.Vector{}, vf.At(2, 6))
}

func TestStrainWindowDisabled(t *testing.T) {
	vf, conf := uniformField(5, field.Vector{})
	vf.Set(2, 2, field.Vector{9, 9})
	p := DefaultWindowParams()
	p.MaximumIterations = 0
	rep, err := StrainWindow(context.Background(), vf, conf, nil, p, nil, nil)
	require.NoError(t, err)
	assert.True(t, rep.Converged)
	assert.Equal(t, field.Vector{9, 9}, vf.At(2, 2))
}

func TestParseFallback(t *testing.T) {
	for in, want := range map[string]Fallback{
		"":                FallbackNeighborMedian,
		"neighbor-median": FallbackNeighborMedian,
		"Rematch":         FallbackRematch,
	} {
		got, err := ParseFallback(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		if in != "" {
			assert.Equal(t, want, mustParse(t, want.String()))
		}
	}
	_, err := ParseFallback("nearest")
	assert.Error(t, err)
}

func mustParse(t *testing.T, s string) Fallback {
	t.Helper()
	f, err := ParseFallback(s)
	require.NoError(t, err)
	return f
}
