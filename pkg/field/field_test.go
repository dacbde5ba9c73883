package field

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeometryRoundTrip(t *testing.T) {
	c, s := math.Cos(0.3), math.Sin(0.3)
	g := Geometry{
		Origin:    [2]float64{-4, 2.5},
		Spacing:   [2]float64{0.2, 0.05},
		Direction: [2][2]float64{{c, -s}, {s, c}},
	}
	idx := [2]float64{12.5, -3}
	p := g.IndexToPoint(idx)
	back := g.PointToIndex(p)
	assert.InDelta(t, idx[0], back[0], 1e-9)
	assert.InDelta(t, idx[1], back[1], 1e-9)

	v := g.IndexToVector([2]float64{1, 0})
	assert.InDelta(t, 0.2*c, v[0], 1e-12)
	assert.InDelta(t, 0.2*s, v[1], 1e-12)
}

func TestGeometryValidate(t *testing.T) {
	assert.NoError(t, DefaultGeometry().Validate())
	g := DefaultGeometry()
	g.Spacing[1] = 0
	assert.ErrorIs(t, g.Validate(), ErrInvalidGeometry)
}

func TestGridAccessors(t *testing.T) {
	im := NewImage([2]int{4, 3}, DefaultGeometry())
	im.Set(3, 2, 7)
	assert.Equal(t, 7.0, im.At(3, 2))
	assert.Equal(t, 7.0, im.Pix()[im.Offset(3, 2)])
	i, j := im.Coords(im.Offset(3, 2))
	assert.Equal(t, [2]int{3, 2}, [2]int{i, j})
	assert.True(t, im.InBounds(0, 0))
	assert.False(t, im.InBounds(4, 0))

	c := im.Clone()
	c.Set(3, 2, 1)
	assert.Equal(t, 7.0, im.At(3, 2), "clone must not alias")
}

func TestNewImageFromData(t *testing.T) {
	_, err := NewImageFromData([2]int{2, 2}, DefaultGeometry(), []float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrSizeMismatch)

	im, err := NewImageFromData([2]int{2, 2}, DefaultGeometry(), []float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 3.0, im.At(0, 1))
}

func TestRegion(t *testing.T) {
	r := NewRegionAround([2]int{5, 5}, [2]int{2, 1})
	assert.Equal(t, [2]int{3, 4}, r.Index)
	assert.Equal(t, [2]int{5, 3}, r.Size)
	assert.Equal(t, [2]int{7, 6}, r.Upper())
	assert.True(t, r.Contains(7, 6))
	assert.False(t, r.Contains(8, 6))

	bounds := Region{Size: [2]int{6, 6}}
	in := bounds.Intersect(r)
	assert.Equal(t, Region{Index: [2]int{3, 4}, Size: [2]int{3, 2}}, in)
	assert.False(t, bounds.ContainsRegion(r))
	assert.True(t, bounds.ContainsRegion(in))

	disjoint := Region{Index: [2]int{10, 10}, Size: [2]int{2, 2}}
	assert.True(t, bounds.Intersect(disjoint).Empty())
}

func TestLinearAt(t *testing.T) {
	im := NewImage([2]int{3, 3}, DefaultGeometry())
	for j := 0; j < 3; j++ {
		for i := 0; i < 3; i++ {
			im.Set(i, j, float64(2*i+10*j))
		}
	}
	assert.InDelta(t, 2*0.5+10*1.25, LinearAt(im, 0.5, 1.25), 1e-12)
	// clamped outside the grid
	assert.InDelta(t, 0, LinearAt(im, -3, -1), 1e-12)
	assert.InDelta(t, 24, LinearAt(im, 9, 9), 1e-12)
	assert.Equal(t, 12.0, NearestAt(im, 0.6, 1.2))
}

func TestVectorAt(t *testing.T) {
	vf := NewGrid[Vector]([2]int{2, 2}, DefaultGeometry())
	vf.Set(1, 0, Vector{2, -2})
	vf.Set(1, 1, Vector{2, -2})
	v := VectorAt(vf, 0.5, 0.5)
	assert.InDelta(t, 1, v[0], 1e-12)
	assert.InDelta(t, -1, v[1], 1e-12)
}

func TestValidVectorAt(t *testing.T) {
	vf := NewGrid[Vector]([2]int{3, 2}, DefaultGeometry())
	vf.Set(0, 0, Vector{1, 1})
	vf.Set(1, 0, Vector{3, -1})
	vf.Set(2, 1, Vector{5, 5})
	valid := []bool{true, false, false, false, false, true}

	t.Run("skips invalid corners", func(t *testing.T) {
		v, ok := ValidVectorAt(vf, valid, 0.5, 0)
		require.True(t, ok)
		assert.InDelta(t, 1, v[0], 1e-12)
		assert.InDelta(t, 1, v[1], 1e-12)
	})

	t.Run("nearest valid when no corner is valid", func(t *testing.T) {
		v, ok := ValidVectorAt(vf, valid, 0.9, 1)
		require.True(t, ok)
		assert.Equal(t, Vector{5, 5}, v)
	})

	t.Run("no valid samples", func(t *testing.T) {
		_, ok := ValidVectorAt(vf, make([]bool, 6), 1, 1)
		assert.False(t, ok)
	})
}

func TestPyramid(t *testing.T) {
	g := DefaultGeometry()
	g.Origin = [2]float64{10, 20}
	im := NewImage([2]int{9, 8}, g)
	for k := range im.Pix() {
		im.Pix()[k] = 1
	}
	levels, err := Pyramid(im, 3)
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Same(t, im, levels[2])
	assert.Equal(t, [2]int{4, 4}, levels[1].Size())
	assert.Equal(t, [2]int{2, 2}, levels[0].Size())
	assert.Equal(t, [2]float64{4, 4}, levels[0].Spacing())
	assert.Equal(t, [2]float64{10.5, 20.5}, levels[1].Origin())
	for _, v := range levels[0].Pix() {
		assert.InDelta(t, 1, v, 1e-12)
	}

	_, err = Pyramid(NewImage([2]int{2, 2}, g), 4)
	assert.ErrorIs(t, err, ErrSizeMismatch)
	_, err = Pyramid(im, 0)
	assert.Error(t, err)
}

func TestComponents(t *testing.T) {
	vf := NewGrid[Vector]([2]int{2, 1}, DefaultGeometry())
	vf.Set(1, 0, Vector{3, 4})
	assert.Equal(t, []float64{0, 4}, VectorComponent(vf, 1).Pix())

	tf := NewGrid[Tensor]([2]int{1, 1}, DefaultGeometry())
	tf.Set(0, 0, Tensor{1, 2, 3})
	assert.Equal(t, []float64{2}, TensorComponent(tf, 1).Pix())
}
