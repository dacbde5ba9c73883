package phantom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"speckletrack/pkg/field"
)

func TestDeterministic(t *testing.T) {
	a := New([2]int{32, 24}, 11, DefaultParams()).Render(nil)
	b := New([2]int{32, 24}, 11, DefaultParams()).Render(nil)
	c := New([2]int{32, 24}, 12, DefaultParams()).Render(nil)
	assert.Equal(t, a.Pix(), b.Pix())
	assert.NotEqual(t, a.Pix(), c.Pix())
	assert.Equal(t, [2]int{32, 24}, a.Size())
}

func TestIntegerTranslationShiftsPixels(t *testing.T) {
	ph := New([2]int{40, 40}, 3, DefaultParams())
	fixed, moving := ph.Pair(Translation(field.Vector{3, -2}))
	for j := 5; j < 30; j++ {
		for i := 5; i < 30; i++ {
			require.InDelta(t, fixed.At(i, j), moving.At(i+3, j-2), 1e-9)
		}
	}
}

func TestTextureHasContrast(t *testing.T) {
	im := New([2]int{48, 48}, 5, DefaultParams()).Render(nil)
	assert.Greater(t, stat.StdDev(im.Pix(), nil), 0.1)
}
