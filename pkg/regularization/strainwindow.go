package regularization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"speckletrack/internal/workerpool"
	"speckletrack/pkg/field"
	"speckletrack/pkg/strain"
)

// Fallback selects how the strain window replaces a rejected block.
type Fallback int

const (
	// FallbackNeighborMedian substitutes the component-wise median of the
	// block's valid neighbours.
	FallbackNeighborMedian Fallback = iota
	// FallbackRematch re-runs block matching in a narrow window centred on
	// the neighbour median.
	FallbackRematch
)

func (f Fallback) String() string {
	switch f {
	case FallbackNeighborMedian:
		return "neighbor-median"
	case FallbackRematch:
		return "rematch"
	default:
		return fmt.Sprintf("Fallback(%d)", int(f))
	}
}

// ParseFallback accepts the names returned by Fallback.String.
func ParseFallback(s string) (Fallback, error) {
	switch strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s)) {
	case "", "neighbormedian", "neighbourmedian", "median":
		return FallbackNeighborMedian, nil
	case "rematch":
		return FallbackRematch, nil
	}
	return FallbackNeighborMedian, fmt.Errorf("regularization: unknown fallback %q", s)
}

// WindowParams configures the strain-window consistency filter.
type WindowParams struct {
	// MaximumIterations caps the number of passes. Zero disables the filter.
	MaximumIterations int
	// MaximumAbsStrain is the largest tolerated absolute strain component.
	MaximumAbsStrain float64
	Fallback         Fallback
	// Strain configures the estimator used to evaluate each pass.
	Strain strain.Params
	// Radius of the square neighbourhood used for medians and for picking
	// the most deviant block.
	Radius int
	// NumWorkers bounds parallelism; values below one use all CPUs.
	NumWorkers int
}

// DefaultWindowParams returns a 5% strain bound with median replacement.
func DefaultWindowParams() WindowParams {
	return WindowParams{
		MaximumIterations: 10,
		MaximumAbsStrain:  0.05,
		Fallback:          FallbackNeighborMedian,
		Strain:            strain.DefaultParams(),
		Radius:            1,
	}
}

// Validate checks parameter ranges.
func (p WindowParams) Validate() error {
	switch {
	case p.MaximumIterations < 0:
		return fmt.Errorf("regularization: maximum iterations must not be negative, got %d", p.MaximumIterations)
	case p.MaximumAbsStrain <= 0:
		return fmt.Errorf("regularization: maximum absolute strain must be positive, got %g", p.MaximumAbsStrain)
	case p.Radius < 1:
		return fmt.Errorf("regularization: neighbourhood radius must be at least 1, got %d", p.Radius)
	case p.Fallback != FallbackNeighborMedian && p.Fallback != FallbackRematch:
		return fmt.Errorf("regularization: unknown fallback %v", p.Fallback)
	}
	return nil
}

// RematchFunc re-estimates the block at lattice offset k with the search
// centred on guess, a physical displacement. It returns the new displacement
// and its metric confidence.
type RematchFunc func(k int, guess field.Vector) (field.Vector, float64, error)

// WindowFunc is called after every pass that revised at least one block,
// with the field and the strain it was evaluated against.
type WindowFunc func(iteration int, disp *field.VectorField, s *strain.Result)

// revisionTolerance is the smallest change, relative to the lattice
// spacing, that counts as a revision.
const revisionTolerance = 1e-9

// StrainWindow rejects blocks of disp whose strain exceeds the bound and
// replaces them through the configured fallback, in place.
//
// Every pass evaluates strain over the valid blocks and flags every block
// within the neighbourhood of a point whose strain exceeds MaximumAbsStrain.
// A flagged block is revised only when it deviates from its neighbour median
// more than any other flagged block in its neighbourhood, so that a single
// outlier does not drag its neighbours along. Passes repeat
// until one revises nothing, at which point running the filter again leaves
// the field unchanged. rematch is required for FallbackRematch; when it fails
// the median is used. Replaced blocks take their new confidence; median
// replacements keep the old one.
func StrainWindow(ctx context.Context, disp *field.VectorField, confidence *field.Image, valid []bool, p WindowParams, rematch RematchFunc, hook WindowFunc) (Report, error) {
	if p.MaximumIterations == 0 || disp.Len() == 0 {
		return Report{Converged: true}, nil
	}
	if err := p.Validate(); err != nil {
		return Report{}, err
	}
	if p.Fallback == FallbackRematch && rematch == nil {
		return Report{}, errors.New("regularization: rematch fallback needs a rematch function")
	}
	if !field.SameShape(disp, confidence) {
		return Report{}, fmt.Errorf("%w: displacement %v, confidence %v", field.ErrSizeMismatch, disp.Size(), confidence.Size())
	}
	if valid != nil && len(valid) != disp.Len() {
		return Report{}, fmt.Errorf("%w: mask holds %d entries for %d blocks", field.ErrSizeMismatch, len(valid), disp.Len())
	}

	sp := p.Strain
	if sp.NumWorkers == 0 {
		sp.NumWorkers = p.NumWorkers
	}
	nbs := neighbours(disp.Geometry(), p.Radius)
	spacing := disp.Spacing()
	tol := revisionTolerance * math.Max(1, math.Max(spacing[0], spacing[1]))

	n := disp.Len()
	deviation := make([]float64, n)
	medians := make([]field.Vector, n)
	high := make([]bool, n)
	flagged := make([]bool, n)
	revised := make([]bool, n)
	next := make([]field.Vector, n)
	nextConf := make([]float64, n)

	rep := Report{}
	for iter := 1; iter <= p.MaximumIterations; iter++ {
		s, err := strain.Compute(disp, valid, sp)
		if err != nil {
			return rep, err
		}
		for k := range high {
			high[k] = s.Valid[k] && strain.MaxAbs(s.Strain.Pix()[k]) > p.MaximumAbsStrain
		}
		for k := range flagged {
			deviation[k] = 0
			flagged[k] = (valid == nil || valid[k]) && nearHigh(disp, high, nbs, k)
			if !flagged[k] {
				continue
			}
			i, j := disp.Coords(k)
			m, ok := neighbourMedian(disp, valid, nbs, i, j)
			if !ok {
				flagged[k] = false
				continue
			}
			u := disp.Pix()[k]
			medians[k] = m
			deviation[k] = math.Max(math.Abs(u[0]-m[0])/spacing[0], math.Abs(u[1]-m[1])/spacing[1])
		}

		err = workerpool.For(ctx, n, p.NumWorkers, func(k int) error {
			revised[k] = false
			next[k] = disp.Pix()[k]
			nextConf[k] = confidence.Pix()[k]
			if !flagged[k] || !mostDeviant(disp, flagged, deviation, nbs, k) {
				return nil
			}
			old := disp.Pix()[k]
			candidate, conf := medians[k], confidence.Pix()[k]
			if math.Hypot(candidate[0]-old[0], candidate[1]-old[1]) <= tol {
				return nil
			}
			if p.Fallback == FallbackRematch {
				if u, c, err := rematch(k, medians[k]); err == nil && finite(u) {
					candidate, conf = u, c
				}
			}
			if math.Hypot(candidate[0]-old[0], candidate[1]-old[1]) <= tol {
				return nil
			}
			next[k] = candidate
			nextConf[k] = conf
			revised[k] = true
			return nil
		})
		if err != nil {
			return rep, err
		}

		count := 0
		rep.MaxChange = 0
		for k, r := range revised {
			if !r {
				continue
			}
			old := disp.Pix()[k]
			rep.MaxChange = math.Max(rep.MaxChange, math.Hypot(next[k][0]-old[0], next[k][1]-old[1]))
			count++
		}
		rep.Iterations = iter
		if count == 0 {
			rep.Converged = true
			return rep, nil
		}
		copy(disp.Pix(), next)
		copy(confidence.Pix(), nextConf)
		rep.Revised += count
		if hook != nil {
			hook(iter, disp, s)
		}
	}
	return rep, fmt.Errorf("%w: %d passes revised %d blocks", ErrNonConvergence, rep.Iterations, rep.Revised)
}

// mostDeviant reports whether block k deviates more than every other
// flagged block in its neighbourhood. Ties go to the lower offset.
func mostDeviant(vf *field.VectorField, flagged []bool, deviation []float64, nbs []neighbour, k int) bool {
	i, j := vf.Coords(k)
	for _, nb := range nbs {
		ii, jj := i+nb.di, j+nb.dj
		if !vf.InBounds(ii, jj) {
			continue
		}
		o := vf.Offset(ii, jj)
		if !flagged[o] {
			continue
		}
		if deviation[o] > deviation[k] || deviation[o] == deviation[k] && o < k {
			return false
		}
	}
	return true
}

// nearHigh reports whether block k or one of its neighbours exceeds the
// strain bound.
func nearHigh(vf *field.VectorField, high []bool, nbs []neighbour, k int) bool {
	if high[k] {
		return true
	}
	i, j := vf.Coords(k)
	for _, nb := range nbs {
		ii, jj := i+nb.di, j+nb.dj
		if vf.InBounds(ii, jj) && high[vf.Offset(ii, jj)] {
			return true
		}
	}
	return false
}
