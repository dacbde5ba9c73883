package tracking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"speckletrack/internal/phantom"
	"speckletrack/pkg/field"
	"speckletrack/pkg/search"
	"speckletrack/pkg/strain"
)

func singleLevel(block, searchRadius [2]int) *Params {
	p := DefaultParams()
	p.Levels = 1
	p.BlockRadius = search.Fixed(block)
	p.SearchRadius = search.Fixed(searchRadius)
	p.Calculator = Interpolation
	return p
}

func TestTrackIntegerTranslation(t *testing.T) {
	fixed, moving := phantom.New([2]int{64, 64}, 1, phantom.DefaultParams()).
		Pair(phantom.Translation(field.Vector{3, -2}))

	res, err := NewTracker(singleLevel([2]int{8, 8}, [2]int{6, 6})).Track(context.Background(), fixed, moving)
	require.NoError(t, err)
	require.Equal(t, [2]int{3, 3}, res.Displacement.Size())
	for k, u := range res.Displacement.Pix() {
		assert.True(t, res.Valid[k])
		assert.InDeltaf(t, 3, u[0], 0.1, "block %d", k)
		assert.InDeltaf(t, -2, u[1], 0.1, "block %d", k)
		assert.InDelta(t, 1, res.Confidence.Pix()[k], 1e-6)
	}
	require.Len(t, res.Levels, 1)
	assert.Zero(t, res.Levels[0].Degraded)
	assert.Zero(t, res.Levels[0].Clipped)
}

func TestTrackSubPixelTranslation(t *testing.T) {
	fixed, moving := phantom.New([2]int{64, 64}, 2, phantom.DefaultParams()).
		Pair(phantom.Translation(field.Vector{2.3, -1.1}))

	res, err := NewTracker(singleLevel([2]int{8, 8}, [2]int{6, 6})).Track(context.Background(), fixed, moving)
	require.NoError(t, err)
	mean := res.MeanDisplacement()
	assert.InDelta(t, 2.3, mean[0], 0.2)
	assert.InDelta(t, -1.1, mean[1], 0.2)
}

func TestTrackPhysicalUnits(t *testing.T) {
	fixed, moving := phantom.New([2]int{64, 64}, 4, phantom.DefaultParams()).
		Pair(phantom.Translation(field.Vector{2, 1}))
	geom := field.Geometry{
		Origin:    [2]float64{-10, 5},
		Spacing:   [2]float64{0.2, 0.05},
		Direction: [2][2]float64{{1, 0}, {0, 1}},
	}
	fixed, err := field.NewImageFromData(fixed.Size(), geom, fixed.Pix())
	require.NoError(t, err)
	moving, err = field.NewImageFromData(moving.Size(), geom, moving.Pix())
	require.NoError(t, err)

	res, err := NewTracker(singleLevel([2]int{8, 8}, [2]int{6, 6})).Track(context.Background(), fixed, moving)
	require.NoError(t, err)
	mean := res.MeanDisplacement()
	assert.InDelta(t, 0.4, mean[0], 0.03)
	assert.InDelta(t, 0.05, mean[1], 0.008)
	spacing := res.Displacement.Spacing()
	assert.InDeltaSlice(t, []float64{3.4, 0.85}, spacing[:], 1e-12)
	origin := res.Displacement.Origin()
	assert.InDeltaSlice(t, []float64{-7.2, 5.7}, origin[:], 1e-12)
}

func TestTrackMultiLevel(t *testing.T) {
	if testing.Short() {
		t.Skip("multi-level tracking")
	}
	fixed, moving := phantom.New([2]int{128, 128}, 5, phantom.DefaultParams()).
		Pair(phantom.Translation(field.Vector{5.4, 2.2}))

	p := DefaultParams()
	p.Levels = 2
	p.BlockRadius = search.RadiusSchedule{Min: [2]int{6, 6}, Max: [2]int{8, 8}}
	p.SearchRadius = search.RadiusSchedule{Min: [2]int{3, 3}, Max: [2]int{5, 5}}
	p.Calculator = Interpolation

	res, err := NewTracker(p).Track(context.Background(), fixed, moving)
	require.NoError(t, err)
	require.Len(t, res.Levels, 2)
	assert.Equal(t, [2]int{64, 64}, res.Levels[0].ImageSize)
	assert.Equal(t, [2]int{8, 8}, res.Levels[0].BlockRadius)
	assert.Equal(t, [2]int{6, 6}, res.Levels[1].BlockRadius)

	size := res.Displacement.Size()
	for j := 1; j < size[1]-1; j++ {
		for i := 1; i < size[0]-1; i++ {
			u := res.Displacement.At(i, j)
			assert.InDeltaf(t, 5.4, u[0], 0.25, "block (%d, %d)", i, j)
			assert.InDeltaf(t, 2.2, u[1], 0.25, "block (%d, %d)", i, j)
		}
	}
}

func TestTrackStretchGivesStrain(t *testing.T) {
	if testing.Short() {
		t.Skip("strain tracking")
	}
	fixed, moving := phantom.New([2]int{192, 192}, 6, phantom.DefaultParams()).
		Pair(phantom.Stretch([2]float64{96, 96}, field.Vector{0.02, 0}))

	for _, calc := range []Calculator{Interpolation, Regularized, StrainWindowed} {
		t.Run(calc.String(), func(t *testing.T) {
			p := singleLevel([2]int{8, 8}, [2]int{5, 5})
			p.Calculator = calc
			p.Regularization.MaximumIterations = 1
			res, err := NewTracker(p).Track(context.Background(), fixed, moving)
			require.NoError(t, err)

			s, err := res.Strain(strain.DefaultParams())
			require.NoError(t, err)
			// The outer rings see the regularization border and one-sided fits.
			var exx, eyy []float64
			size := s.Strain.Size()
			for j := 3; j < size[1]-3; j++ {
				for i := 3; i < size[0]-3; i++ {
					k := s.Strain.Offset(i, j)
					if s.Valid[k] {
						e := s.Strain.Pix()[k]
						exx = append(exx, e[0])
						eyy = append(eyy, e[2])
					}
				}
			}
			require.NotEmpty(t, exx)
			assert.InDelta(t, 0.02, stat.Mean(exx, nil), 0.005)
			assert.InDelta(t, 0, stat.Mean(eyy, nil), 0.005)
		})
	}
}

func TestTrackWarpedBlocks(t *testing.T) {
	if testing.Short() {
		t.Skip("warped tracking")
	}
	fixed, moving := phantom.New([2]int{128, 128}, 8, phantom.DefaultParams()).
		Pair(phantom.Stretch([2]float64{64, 64}, field.Vector{0.03, 0}))

	p := DefaultParams()
	p.Levels = 2
	p.BlockRadius = search.RadiusSchedule{Min: [2]int{6, 6}, Max: [2]int{8, 8}}
	p.SearchRadius = search.RadiusSchedule{Min: [2]int{3, 3}, Max: [2]int{5, 5}}
	p.Calculator = StrainWindowed
	p.Regularization.MaximumIterations = 0
	p.WarpBlocks = true

	var levelStrains int
	tr := NewTracker(p)
	tr.AddObserver(ObserverFunc(func(e Event) {
		if e.Stage == StageLevel && e.Strain != nil {
			levelStrains++
		}
	}))
	res, err := tr.Track(context.Background(), fixed, moving)
	require.NoError(t, err)
	assert.Equal(t, 1, levelStrains, "only levels that seed a finer one carry strain")

	size := res.Displacement.Size()
	c := res.Displacement.Geometry()
	for j := 1; j < size[1]-1; j++ {
		for i := 1; i < size[0]-1; i++ {
			pt := c.IndexToPoint([2]float64{float64(i), float64(j)})
			u := res.Displacement.At(i, j)
			assert.InDeltaf(t, 0.03*(pt[0]-64), u[0], 0.3, "block (%d, %d)", i, j)
		}
	}
}

func TestTrackObserverAndStates(t *testing.T) {
	fixed, moving := phantom.New([2]int{64, 64}, 9, phantom.DefaultParams()).
		Pair(phantom.Translation(field.Vector{1, 1}))

	p := singleLevel([2]int{8, 8}, [2]int{4, 4})
	p.Calculator = Regularized
	tr := NewTracker(p)
	assert.Equal(t, Initializing, tr.State())

	var stages []Stage
	var states []State
	tr.AddObserver(ObserverFunc(func(e Event) {
		stages = append(stages, e.Stage)
		states = append(states, tr.State())
		assert.NotNil(t, e.Displacement)
		if e.Stage == StageRegularization {
			assert.NotNil(t, e.Strain)
		}
	}))
	res, err := tr.Track(context.Background(), fixed, moving)
	require.NoError(t, err)
	assert.Equal(t, Done, tr.State())

	require.NotEmpty(t, stages)
	assert.Equal(t, StageLevel, stages[len(stages)-1])
	for _, s := range stages[:len(stages)-1] {
		assert.Equal(t, StageRegularization, s)
	}
	assert.Equal(t, Regularizing, states[0])
	assert.Equal(t, res.Levels[0].Regularization.Iterations, len(stages)-1)
}

func TestTrackBlankRegionDegradesBlocks(t *testing.T) {
	im := phantom.New([2]int{64, 64}, 3, phantom.DefaultParams()).Render(nil)
	for y := 0; y < 64; y++ {
		for x := 0; x < 32; x++ {
			im.Set(x, y, 0)
		}
	}

	res, err := NewTracker(singleLevel([2]int{8, 8}, [2]int{6, 6})).Track(context.Background(), im, im.Clone())
	require.NoError(t, err)

	blank := 0
	size := res.Displacement.Size()
	for j := 0; j < size[1]; j++ {
		for i := 0; i < size[0]; i++ {
			k := res.Displacement.Offset(i, j)
			u := res.Displacement.Pix()[k]
			// block spans x-8..x+8 around its centre
			if res.Displacement.IndexToPoint(i, j)[0]+8 < 32 {
				blank++
				assert.Falsef(t, res.Valid[k], "block (%d, %d)", i, j)
				assert.Equal(t, field.Vector{}, u)
				assert.Zero(t, res.Confidence.Pix()[k])
				continue
			}
			assert.Truef(t, res.Valid[k], "block (%d, %d)", i, j)
			assert.InDeltaf(t, 0, u[0], 0.25, "block (%d, %d)", i, j)
			assert.InDeltaf(t, 0, u[1], 0.25, "block (%d, %d)", i, j)
		}
	}
	require.Positive(t, blank)
	assert.Equal(t, blank, res.Levels[0].Degraded)
	mean := res.MeanDisplacement()
	assert.InDelta(t, 0, mean[0], 0.1)
	assert.InDelta(t, 0, mean[1], 0.1)
}

func TestTrackAllBlocksDegraded(t *testing.T) {
	flat := field.NewImage([2]int{64, 64}, field.DefaultGeometry())
	for k := range flat.Pix() {
		flat.Pix()[k] = 0.5
	}
	_, err := NewTracker(singleLevel([2]int{8, 8}, [2]int{6, 6})).Track(context.Background(), flat, flat)
	assert.ErrorIs(t, err, ErrEmptyLevel)
}

func TestRefinePriorOutsideImage(t *testing.T) {
	fixed, moving := phantom.New([2]int{64, 64}, 4, phantom.DefaultParams()).
		Pair(phantom.Translation(field.Vector{1, 0}))
	p := DefaultParams()
	p.Levels = 2
	p.BlockRadius = search.Fixed([2]int{6, 6})
	p.SearchRadius = search.Fixed([2]int{3, 3})
	tr := NewTracker(p)

	coarse := field.NewGrid[field.Vector]([2]int{3, 3}, field.Geometry{
		Origin:    [2]float64{8, 8},
		Spacing:   [2]float64{24, 24},
		Direction: [2][2]float64{{1, 0}, {0, 1}},
	})
	valid := make([]bool, coarse.Len())
	for k := range coarse.Pix() {
		coarse.Pix()[k] = field.Vector{200, 0}
		valid[k] = true
	}
	prev := &levelField{disp: coarse, valid: valid}

	t.Run("every block pushed out", func(t *testing.T) {
		_, rep, err := tr.refine(context.Background(), 1, fixed, moving, prev)
		assert.ErrorIs(t, err, ErrEmptyLevel)
		assert.Positive(t, rep.Blocks)
		assert.Equal(t, rep.Blocks, rep.Degraded)
		assert.Equal(t, rep.Blocks, rep.Clipped)
	})

	t.Run("invalid prior blocks are ignored", func(t *testing.T) {
		for k := range valid {
			valid[k] = k%3 != 0
		}
		for k := range coarse.Pix() {
			if valid[k] {
				coarse.Pix()[k] = field.Vector{1, 0}
			}
		}
		lf, rep, err := tr.refine(context.Background(), 1, fixed, moving, prev)
		require.NoError(t, err)
		assert.Zero(t, rep.Degraded)
		for k, u := range lf.disp.Pix() {
			assert.True(t, lf.valid[k])
			assert.InDeltaf(t, 1, u[0], 0.25, "block %d", k)
		}
	})
}

func TestTrackEmptyLevel(t *testing.T) {
	im := phantom.New([2]int{10, 10}, 1, phantom.DefaultParams()).Render(nil)
	_, err := NewTracker(singleLevel([2]int{8, 8}, [2]int{6, 6})).Track(context.Background(), im, im)
	assert.ErrorIs(t, err, ErrEmptyLevel)
}

func TestTrackRejectsMismatchedFrames(t *testing.T) {
	a := field.NewImage([2]int{32, 32}, field.DefaultGeometry())
	b := field.NewImage([2]int{32, 30}, field.DefaultGeometry())
	_, err := NewTracker(nil).Track(context.Background(), a, b)
	assert.ErrorIs(t, err, field.ErrSizeMismatch)

	p := singleLevel([2]int{0, 4}, [2]int{2, 2})
	_, err = NewTracker(p).Track(context.Background(), a, a)
	assert.Error(t, err)
}

func TestTrackCancelled(t *testing.T) {
	im := phantom.New([2]int{64, 64}, 1, phantom.DefaultParams()).Render(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewTracker(singleLevel([2]int{8, 8}, [2]int{4, 4})).Track(ctx, im, im)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseCalculator(t *testing.T) {
	for _, c := range []Calculator{Interpolation, Regularized, StrainWindowed} {
		got, err := ParseCalculator(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCalculator("kriging")
	assert.Error(t, err)
}
