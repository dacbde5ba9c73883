// Package tracking schedules multi-resolution block matching between a
// fixed and a moving frame.
//
// A Tracker builds resolution pyramids of both frames and walks them from
// the coarsest level to the finest. On every level each block of the lattice
// is matched with normalized cross-correlation inside a search window, the
// coarsest level searching around zero and later levels around the
// displacement of the previous one. The level's field is then revised by the
// configured calculator before it seeds the next level.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"speckletrack/internal/monitoring"
	"speckletrack/internal/workerpool"
	"speckletrack/pkg/field"
	"speckletrack/pkg/metric"
	"speckletrack/pkg/regularization"
	"speckletrack/pkg/search"
	"speckletrack/pkg/strain"
)

// ErrEmptyLevel is returned when a resolution level ends up with no valid
// block. It aborts the run.
var ErrEmptyLevel = errors.New("tracking: level has no valid blocks")

// LevelReport summarises one resolution level.
type LevelReport struct {
	Level        int
	ImageSize    [2]int
	BlockRadius  [2]int
	SearchRadius [2]int
	// Blocks is the number of lattice points.
	Blocks int
	// Degraded counts blocks that failed to match and were zero-filled.
	Degraded int
	// Clipped counts blocks whose search window was clipped at the border.
	Clipped        int
	Regularization regularization.Report
	StrainWindow   regularization.Report
	// Warnings lists non-fatal problems such as passes that hit their cap.
	Warnings []string
}

// Result is the output of a tracking run.
type Result struct {
	// Displacement is the finest level's field in physical units, sampled on
	// the block lattice.
	Displacement *field.VectorField
	// Confidence is the peak metric score of every block, 0 where the block
	// was degraded.
	Confidence *field.Image
	// Valid is false for degraded blocks.
	Valid  []bool
	Levels []LevelReport
}

// Strain estimates the strain of the displacement field over its valid
// blocks.
func (r *Result) Strain(p strain.Params) (*strain.Result, error) {
	return strain.Compute(r.Displacement, r.Valid, p)
}

// MeanDisplacement averages the displacement over valid blocks.
func (r *Result) MeanDisplacement() field.Vector {
	var sum field.Vector
	n := 0
	for k, u := range r.Displacement.Pix() {
		if !r.Valid[k] {
			continue
		}
		sum[0] += u[0]
		sum[1] += u[1]
		n++
	}
	if n == 0 {
		return field.Vector{}
	}
	return field.Vector{sum[0] / float64(n), sum[1] / float64(n)}
}

// Tracker runs the multi-resolution scheduler. A Tracker may be reused for
// several runs but not concurrently.
type Tracker struct {
	params    *Params
	observers []Observer
	state     atomic.Int32
}

// NewTracker creates a tracker. A nil params uses DefaultParams.
func NewTracker(params *Params) *Tracker {
	if params == nil {
		params = DefaultParams()
	}
	return &Tracker{params: params}
}

// AddObserver registers o for progress events.
func (t *Tracker) AddObserver(o Observer) {
	t.observers = append(t.observers, o)
}

// State returns the current scheduler state.
func (t *Tracker) State() State { return State(t.state.Load()) }

func (t *Tracker) setState(s State, format string, v ...interface{}) {
	t.state.Store(int32(s))
	monitoring.Logf("tracking: %s: "+format, append([]interface{}{s}, v...)...)
}

func (t *Tracker) notify(e Event) {
	for _, o := range t.observers {
		o.Observe(e)
	}
}

// levelField is the working state of one resolution level.
type levelField struct {
	fixed, moving *field.Image
	lattice       search.Lattice
	blockRadius   [2]int

	disp  *field.VectorField
	conf  *field.Image
	valid []bool

	// warp holds the previous level's gradients when blocks are warped.
	warp *strain.Result
	// strain is this level's estimate, kept to warp the next level.
	strain *strain.Result
}

// Track estimates the displacement of moving relative to fixed. The frames
// must share size and geometry. Cancellation is checked before each level.
func (t *Tracker) Track(ctx context.Context, fixed, moving *field.Image) (*Result, error) {
	p := t.params
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !field.SameShape(fixed, moving) || fixed.Geometry() != moving.Geometry() {
		return nil, fmt.Errorf("%w: fixed %v, moving %v", field.ErrSizeMismatch, fixed.Size(), moving.Size())
	}

	t.setState(Initializing, "building %d-level pyramids of %v frames", p.Levels, fixed.Size())
	fixedPyr, err := field.Pyramid(fixed, p.Levels)
	if err != nil {
		return nil, err
	}
	movingPyr, err := field.Pyramid(moving, p.Levels)
	if err != nil {
		return nil, err
	}

	res := &Result{Levels: make([]LevelReport, 0, p.Levels)}
	var prev *levelField
	for level := 0; level < p.Levels; level++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t.setState(Refining, "level %d of %d", level+1, p.Levels)
		lf, rep, err := t.refine(ctx, level, fixedPyr[level], movingPyr[level], prev)
		if err != nil {
			return nil, err
		}

		if p.Calculator != Interpolation {
			t.setState(Regularizing, "level %d with %s calculator", level+1, p.Calculator)
			if err := t.regularize(ctx, level, lf, &rep); err != nil {
				return nil, err
			}
		}

		if t.warping() && level < p.Levels-1 {
			lf.strain, err = strain.Compute(lf.disp, lf.valid, t.strainParams())
			if err != nil {
				return nil, err
			}
		}
		lf.warp = nil

		res.Levels = append(res.Levels, rep)
		t.notify(Event{
			Level:        level,
			Stage:        StageLevel,
			Displacement: lf.disp,
			Strain:       lf.strain,
			Report:       &res.Levels[len(res.Levels)-1],
		})
		prev = lf
	}

	t.setState(Finalizing, "%d blocks on a %v lattice", prev.lattice.Len(), prev.lattice.Count)
	res.Displacement = prev.disp
	res.Confidence = prev.conf
	res.Valid = prev.valid
	t.setState(Done, "mean displacement %v", res.MeanDisplacement())
	return res, nil
}

func (t *Tracker) warping() bool {
	return t.params.WarpBlocks && t.params.Calculator == StrainWindowed
}

func (t *Tracker) strainParams() strain.Params {
	sp := t.params.Strain
	if sp.NumWorkers == 0 {
		sp.NumWorkers = t.params.NumWorkers
	}
	return sp
}

// refine matches every block of one level.
func (t *Tracker) refine(ctx context.Context, level int, fixed, moving *field.Image, prev *levelField) (*levelField, LevelReport, error) {
	p := t.params
	br := p.BlockRadius.At(level, p.Levels)
	sr := p.SearchRadius.At(level, p.Levels)
	rep := LevelReport{Level: level, ImageSize: fixed.Size(), BlockRadius: br, SearchRadius: sr}

	lat, err := search.NewLattice(fixed.Size(), br, sr, p.BlockOverlap)
	if err != nil {
		return nil, rep, err
	}
	if lat.Len() == 0 {
		return nil, rep, fmt.Errorf("%w: level %d image %v is too small for block radius %v", ErrEmptyLevel, level, fixed.Size(), br)
	}
	geom := lat.Geometry(fixed.Geometry())
	lf := &levelField{
		fixed:       fixed,
		moving:      moving,
		lattice:     lat,
		blockRadius: br,
		disp:        field.NewGrid[field.Vector](lat.Count, geom),
		conf:        field.NewImage(lat.Count, geom),
		valid:       make([]bool, lat.Len()),
	}
	if prev != nil && t.warping() {
		lf.warp = prev.strain
	}
	est := search.Estimator{
		SearchRadius: sr,
		TopFactor:    p.TopFactor,
		BottomFactor: p.BottomFactor,
		Bounds:       moving.Bounds(),
	}

	var clipped, degraded atomic.Int64
	err = workerpool.For(ctx, lat.Len(), p.NumWorkers, func(k int) error {
		i, j := lf.disp.Coords(k)
		c := lat.Center(i, j)
		var window field.Region
		var err error
		if prev == nil {
			window, err = est.Coarse(c, br)
		} else {
			window, err = est.Refine(c, br, prev.priorAt(fixed, c))
		}
		if err != nil {
			clipped.Add(1)
		}
		u, conf, err := lf.match(c, window)
		if err != nil {
			degraded.Add(1)
			return nil
		}
		lf.disp.Pix()[k] = u
		lf.conf.Pix()[k] = conf
		lf.valid[k] = true
		return nil
	})
	if err != nil {
		return nil, rep, err
	}

	rep.Blocks = lat.Len()
	rep.Clipped = int(clipped.Load())
	rep.Degraded = int(degraded.Load())
	if rep.Degraded == rep.Blocks {
		return nil, rep, fmt.Errorf("%w: level %d lost all %d blocks", ErrEmptyLevel, level, rep.Blocks)
	}
	if rep.Degraded > 0 {
		monitoring.Logf("tracking: level %d: %d of %d blocks degraded, %d windows clipped", level+1, rep.Degraded, rep.Blocks, rep.Clipped)
	}
	return lf, rep, nil
}

// match scores the block centred on c against the moving image over window
// and returns the physical displacement and confidence of the peak.
func (lf *levelField) match(c [2]int, window field.Region) (field.Vector, float64, error) {
	block, err := lf.block(c)
	if err != nil {
		return field.Vector{}, 0, err
	}
	mi, err := metric.NormalizedCrossCorrelation(block, lf.moving, window)
	if err != nil {
		return field.Vector{}, 0, err
	}
	peak, err := metric.ExtractPeak(mi)
	if err != nil {
		return field.Vector{}, 0, err
	}
	return lf.fixed.Geometry().IndexToVector(peak.Offset), peak.Confidence, nil
}

// block cuts the fixed-image template for centre c, warped by the previous
// level's gradient when one is available.
func (lf *levelField) block(c [2]int) (metric.Block, error) {
	if lf.warp != nil {
		if m, ok := lf.warpAt(c); ok {
			return metric.WarpedBlock(lf.fixed, c, lf.blockRadius, m), nil
		}
	}
	return metric.ExtractBlock(lf.fixed, c, lf.blockRadius)
}

// priorAt samples this level's valid blocks at the physical position of
// index c of img and returns the displacement in pixels of img.
func (lf *levelField) priorAt(img *field.Image, c [2]int) [2]float64 {
	pt := img.Geometry().IndexToPoint([2]float64{float64(c[0]), float64(c[1])})
	idx := lf.disp.Geometry().PointToIndex(pt)
	u, _ := field.ValidVectorAt(lf.disp, lf.valid, idx[0], idx[1])
	return img.Geometry().VectorToIndex(u)
}

// regularize applies the configured calculator to the level's field.
// Non-convergence is recorded as a warning.
func (t *Tracker) regularize(ctx context.Context, level int, lf *levelField, rep *LevelReport) error {
	p := t.params
	warn := func(err error) error {
		if !errors.Is(err, regularization.ErrNonConvergence) {
			return err
		}
		monitoring.Logf("tracking: level %d: %v", level+1, err)
		rep.Warnings = append(rep.Warnings, err.Error())
		return nil
	}

	if p.Regularization.MaximumIterations > 0 {
		rp := p.Regularization
		if rp.NumWorkers == 0 {
			rp.NumWorkers = p.NumWorkers
		}
		r, err := regularization.Bayesian(ctx, lf.disp, lf.conf, lf.valid, rp, func(iter int, disp *field.VectorField) {
			e := Event{Level: level, Stage: StageRegularization, Iteration: iter, Displacement: disp}
			if len(t.observers) > 0 {
				if s, err := strain.Compute(disp, lf.valid, t.strainParams()); err == nil {
					e.Strain = s
				}
			}
			t.notify(e)
		})
		rep.Regularization = r
		if err != nil {
			if err := warn(err); err != nil {
				return err
			}
		}
	}
	if p.Calculator != StrainWindowed {
		return nil
	}

	wp := p.StrainWindow
	if wp.NumWorkers == 0 {
		wp.NumWorkers = p.NumWorkers
	}
	r, err := regularization.StrainWindow(ctx, lf.disp, lf.conf, lf.valid, wp, lf.rematcher(p.FallbackRadius),
		func(iter int, disp *field.VectorField, s *strain.Result) {
			t.notify(Event{Level: level, Stage: StageStrainWindow, Iteration: iter, Displacement: disp, Strain: s})
		})
	rep.StrainWindow = r
	if err != nil {
		return warn(err)
	}
	return nil
}

// rematcher re-runs block matching in a window of the given radius around a
// guessed displacement.
func (lf *levelField) rematcher(radius [2]int) regularization.RematchFunc {
	est := search.Estimator{
		SearchRadius: radius,
		TopFactor:    [2]float64{1, 1},
		BottomFactor: [2]float64{1, 1},
		Bounds:       lf.moving.Bounds(),
	}
	return func(k int, guess field.Vector) (field.Vector, float64, error) {
		i, j := lf.disp.Coords(k)
		c := lf.lattice.Center(i, j)
		window, err := est.Refine(c, lf.blockRadius, lf.fixed.Geometry().VectorToIndex(guess))
		if err != nil && !errors.Is(err, search.ErrRegionOutOfBounds) {
			return field.Vector{}, 0, err
		}
		return lf.match(c, window)
	}
}
