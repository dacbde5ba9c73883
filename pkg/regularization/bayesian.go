package regularization

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"speckletrack/internal/workerpool"
	"speckletrack/pkg/field"
)

// Params configures Bayesian regularization.
type Params struct {
	// MaximumIterations caps the number of passes. Zero disables the filter.
	MaximumIterations int
	// MetricLowerBound maps metric confidence to data weight: confidence at
	// or below the bound contributes nothing, confidence 1 contributes fully.
	MetricLowerBound float64
	// StrainSigma is the per-axis standard deviation of the strain prior.
	StrainSigma [2]float64
	// DataWeight scales the raw estimate against the neighbourhood prior.
	DataWeight float64
	// ConvergenceThreshold stops iterating once no block moves further than
	// this, in physical units.
	ConvergenceThreshold float64
	// Radius of the square neighbourhood in lattice points.
	Radius int
	// NumWorkers bounds parallelism; values below one use all CPUs.
	NumWorkers int
}

// DefaultParams returns the settings used for ultrasound elastography.
func DefaultParams() Params {
	return Params{
		MaximumIterations:    3,
		MetricLowerBound:     -1,
		StrainSigma:          [2]float64{0.08, 0.04},
		DataWeight:           1,
		ConvergenceThreshold: 1e-4,
		Radius:               1,
	}
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	switch {
	case p.MaximumIterations < 0:
		return fmt.Errorf("regularization: maximum iterations must not be negative, got %d", p.MaximumIterations)
	case p.MetricLowerBound >= 1:
		return fmt.Errorf("regularization: metric lower bound must be below 1, got %g", p.MetricLowerBound)
	case p.StrainSigma[0] <= 0 || p.StrainSigma[1] <= 0:
		return fmt.Errorf("regularization: strain sigma must be positive, got %v", p.StrainSigma)
	case p.DataWeight < 0:
		return fmt.Errorf("regularization: data weight must not be negative, got %g", p.DataWeight)
	case p.ConvergenceThreshold < 0:
		return fmt.Errorf("regularization: convergence threshold must not be negative, got %g", p.ConvergenceThreshold)
	case p.Radius < 1:
		return fmt.Errorf("regularization: neighbourhood radius must be at least 1, got %d", p.Radius)
	}
	return nil
}

// Report summarises a regularization or strain-window run.
type Report struct {
	Iterations int
	Converged  bool
	// MaxChange is the largest block displacement change of the last pass.
	MaxChange float64
	// Revised counts block replacements over all passes (strain window only).
	Revised int
}

// IterationFunc is called after every pass with the updated field.
type IterationFunc func(iteration int, disp *field.VectorField)

// Bayesian regularizes disp in place.
//
// Each pass recomputes every block from a snapshot of the previous pass. For
// block p with raw estimate u⁰ and neighbourhood median m, component i is
//
//	u_i = (λ·w_p·ρ_p·u⁰_i + Σ π_q·u_q,i) / (λ·w_p·ρ_p + Σ π_q)
//
// where λ is DataWeight, w_p = clamp((c_p − b)/(1 − b), 0, 1) for confidence
// c_p and lower bound b, and the Gaussian strain prior gives
// π_q = exp(−((u_q,i − m_i)/|Δ_q|)² / 2σ_i²) for a neighbour at physical
// distance |Δ_q|, with ρ_p the same kernel evaluated at u⁰ over the nearest
// neighbour distance. Blocks that are not valid carry no data weight and
// take the prior alone once a valid neighbour has reached them.
func Bayesian(ctx context.Context, disp *field.VectorField, confidence *field.Image, valid []bool, p Params, hook IterationFunc) (Report, error) {
	if p.MaximumIterations == 0 || disp.Len() == 0 {
		return Report{Converged: true}, nil
	}
	if err := p.Validate(); err != nil {
		return Report{}, err
	}
	if !field.SameShape(disp, confidence) {
		return Report{}, fmt.Errorf("%w: displacement %v, confidence %v", field.ErrSizeMismatch, disp.Size(), confidence.Size())
	}
	if valid != nil && len(valid) != disp.Len() {
		return Report{}, fmt.Errorf("%w: mask holds %d entries for %d blocks", field.ErrSizeMismatch, len(valid), disp.Len())
	}

	nbs := neighbours(disp.Geometry(), p.Radius)
	minDist := math.Inf(1)
	for _, nb := range nbs {
		minDist = math.Min(minDist, nb.dist)
	}

	raw := disp.Clone()
	weights := make([]float64, disp.Len())
	known := make([]bool, disp.Len())
	for k, c := range confidence.Pix() {
		if valid != nil && !valid[k] || !finite(raw.Pix()[k]) {
			raw.Pix()[k] = field.Vector{}
			continue
		}
		known[k] = true
		if math.IsNaN(c) {
			continue
		}
		weights[k] = p.DataWeight * math.Max(0, math.Min(1, (c-p.MetricLowerBound)/(1-p.MetricLowerBound)))
	}

	prev := raw.Clone()
	next := raw.Clone()
	changes := make([]float64, disp.Len())
	nextKnown := make([]bool, len(known))
	rep := Report{}
	for iter := 1; iter <= p.MaximumIterations; iter++ {
		copy(nextKnown, known)
		err := workerpool.For(ctx, disp.Len(), p.NumWorkers, func(k int) error {
			i, j := prev.Coords(k)
			old := prev.Pix()[k]
			m, ok := neighbourMedian(prev, known, nbs, i, j)
			if !ok {
				next.Pix()[k] = old
				changes[k] = 0
				return nil
			}
			var u field.Vector
			for c := 0; c < 2; c++ {
				s2 := 2 * p.StrainSigma[c] * p.StrainSigma[c]
				var num, den float64
				if w := weights[k]; w > 0 {
					e := (raw.Pix()[k][c] - m[c]) / minDist
					w *= math.Exp(-e * e / s2)
					num += w * raw.Pix()[k][c]
					den += w
				}
				for _, nb := range nbs {
					ii, jj := i+nb.di, j+nb.dj
					if !prev.InBounds(ii, jj) {
						continue
					}
					o := prev.Offset(ii, jj)
					if !known[o] {
						continue
					}
					uq := prev.Pix()[o][c]
					e := (uq - m[c]) / nb.dist
					pi := math.Exp(-e * e / s2)
					num += pi * uq
					den += pi
				}
				if den > 0 && !math.IsNaN(num/den) {
					u[c] = num / den
				} else {
					u[c] = m[c]
				}
			}
			next.Pix()[k] = u
			nextKnown[k] = true
			changes[k] = math.Hypot(u[0]-old[0], u[1]-old[1])
			return nil
		})
		if err != nil {
			return rep, err
		}
		prev, next = next, prev
		known, nextKnown = nextKnown, known
		rep.Iterations = iter
		rep.MaxChange = floats.Max(changes)
		copy(disp.Pix(), prev.Pix())
		if hook != nil {
			hook(iter, disp)
		}
		if rep.MaxChange < p.ConvergenceThreshold {
			rep.Converged = true
			return rep, nil
		}
	}
	return rep, fmt.Errorf("%w: %d passes, last change %.3g", ErrNonConvergence, rep.Iterations, rep.MaxChange)
}
