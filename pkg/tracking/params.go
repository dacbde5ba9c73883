package tracking

import (
	"fmt"
	"strings"

	"speckletrack/pkg/regularization"
	"speckletrack/pkg/search"
	"speckletrack/pkg/strain"
)

// Calculator selects how a level's metric images are turned into a
// displacement field.
type Calculator int

const (
	// Interpolation uses the parabolic sub-pixel peak of every block as is.
	Interpolation Calculator = iota
	// Regularized follows peak extraction with Bayesian regularization.
	Regularized
	// StrainWindowed runs Bayesian regularization when it is enabled and
	// then the strain-window consistency filter.
	StrainWindowed
)

func (c Calculator) String() string {
	switch c {
	case Interpolation:
		return "interpolation"
	case Regularized:
		return "regularized"
	case StrainWindowed:
		return "strain-windowed"
	default:
		return fmt.Sprintf("Calculator(%d)", int(c))
	}
}

// ParseCalculator accepts the names returned by Calculator.String.
func ParseCalculator(s string) (Calculator, error) {
	switch strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s)) {
	case "interpolation", "parabolic":
		return Interpolation, nil
	case "", "regularized", "bayesian":
		return Regularized, nil
	case "strainwindowed", "strainwindow":
		return StrainWindowed, nil
	}
	return Interpolation, fmt.Errorf("tracking: unknown displacement calculator %q", s)
}

// Params holds the tracking parameters.
type Params struct {
	// Levels is the number of resolution levels. Level 0 is the coarsest;
	// each finer level doubles the resolution.
	Levels int

	// BlockRadius and SearchRadius give the per-level radii in pixels of
	// that level. The coarsest level uses Max, the finest Min.
	BlockRadius  search.RadiusSchedule
	SearchRadius search.RadiusSchedule

	// BlockOverlap sets the lattice step as a multiple of the block size.
	// 1 gives abutting blocks, 0.5 half-overlapping ones.
	BlockOverlap float64

	// TopFactor and BottomFactor scale the search radius below and above
	// the prior displacement on levels after the coarsest.
	TopFactor    [2]float64
	BottomFactor [2]float64

	// Calculator selects the displacement calculator.
	Calculator Calculator

	// Regularization configures Bayesian regularization. It runs for the
	// Regularized and StrainWindowed calculators.
	Regularization regularization.Params

	// StrainWindow configures the consistency filter of the StrainWindowed
	// calculator.
	StrainWindow regularization.WindowParams

	// Strain configures the estimator used for block warping and for the
	// strain reported to observers.
	Strain strain.Params

	// WarpBlocks affine-warps fixed blocks on levels after the coarsest by
	// the displacement gradient of the previous level. Only honoured with
	// the StrainWindowed calculator.
	WarpBlocks bool

	// FallbackRadius is the search radius of the rematch fallback, centred
	// on the neighbour median.
	FallbackRadius [2]int

	// NumWorkers bounds parallelism; values below one use all CPUs.
	NumWorkers int
}

// DefaultParams returns a three-level schedule suitable for B-mode frames
// of a few hundred pixels.
func DefaultParams() *Params {
	return &Params{
		Levels:         3,
		BlockRadius:    search.RadiusSchedule{Min: [2]int{6, 6}, Max: [2]int{10, 10}},
		SearchRadius:   search.RadiusSchedule{Min: [2]int{3, 3}, Max: [2]int{8, 8}},
		BlockOverlap:   1,
		TopFactor:      [2]float64{1, 1},
		BottomFactor:   [2]float64{1, 1},
		Calculator:     Regularized,
		Regularization: regularization.DefaultParams(),
		StrainWindow:   regularization.DefaultWindowParams(),
		Strain:         strain.DefaultParams(),
		FallbackRadius: [2]int{2, 2},
	}
}

// Validate checks the parameters for consistency.
func (p *Params) Validate() error {
	if p.Levels < 1 {
		return fmt.Errorf("tracking: levels must be at least 1, got %d", p.Levels)
	}
	if err := p.BlockRadius.Validate(); err != nil {
		return fmt.Errorf("tracking: block radius: %w", err)
	}
	if err := p.SearchRadius.Validate(); err != nil {
		return fmt.Errorf("tracking: search radius: %w", err)
	}
	if p.BlockRadius.Min[0] < 1 || p.BlockRadius.Min[1] < 1 {
		return fmt.Errorf("tracking: block radius must be at least 1, got %v", p.BlockRadius.Min)
	}
	if p.BlockOverlap <= 0 {
		return fmt.Errorf("tracking: block overlap must be positive, got %g", p.BlockOverlap)
	}
	for a := 0; a < 2; a++ {
		if p.TopFactor[a] < 0 || p.BottomFactor[a] < 0 {
			return fmt.Errorf("tracking: search factors must not be negative, got top %v bottom %v", p.TopFactor, p.BottomFactor)
		}
		if p.FallbackRadius[a] < 0 {
			return fmt.Errorf("tracking: fallback radius must not be negative, got %v", p.FallbackRadius)
		}
	}
	switch p.Calculator {
	case Interpolation:
	case Regularized:
		if err := p.Regularization.Validate(); err != nil {
			return err
		}
	case StrainWindowed:
		if err := p.Regularization.Validate(); err != nil {
			return err
		}
		if err := p.StrainWindow.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("tracking: unknown calculator %v", p.Calculator)
	}
	return nil
}
