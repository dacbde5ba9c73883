// Package strain estimates strain tensor fields from displacement fields.
//
// The displacement gradient at each lattice point is fitted by linear least
// squares over all valid samples within a neighbourhood radius, which
// tolerates missing or noisy blocks better than finite differences. The
// gradient is then turned into one of the supported strain tensor forms.
package strain

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"speckletrack/internal/workerpool"
	"speckletrack/pkg/field"
)

// ErrSingularGradientFit is returned when a neighbourhood holds too few
// independent samples to fit a displacement gradient.
var ErrSingularGradientFit = errors.New("strain: singular gradient fit")

// maxCondition bounds the condition number of the normal equations.
const maxCondition = 1e10

// Params configures the strain estimator.
type Params struct {
	// Radius of the least-squares neighbourhood in lattice points.
	Radius float64
	// Form selects the strain tensor definition.
	Form Form
	// NumWorkers bounds parallelism; values below one use all CPUs.
	NumWorkers int
}

// DefaultParams returns a radius of 2 lattice points and infinitesimal strain.
func DefaultParams() Params {
	return Params{Radius: 2, Form: Infinitesimal}
}

// Result holds a strain tensor field and the gradients it was built from.
type Result struct {
	Strain   *field.TensorField
	Gradient *field.Grid[Gradient]
	// Valid is false where the gradient fit was singular; those points hold a
	// zero tensor.
	Valid []bool
	// Singular counts the points that fell back to zero strain.
	Singular int
}

// Compute fits the displacement gradient at every lattice point of vf and
// forms the strain tensor. valid masks samples that may take part in fits;
// nil treats every sample as valid. Points whose fit is singular get a zero
// tensor and are flagged in Result.Valid rather than failing the call.
func Compute(vf *field.VectorField, valid []bool, p Params) (*Result, error) {
	if valid != nil && len(valid) != vf.Len() {
		return nil, fmt.Errorf("%w: mask holds %d entries for %d samples", field.ErrSizeMismatch, len(valid), vf.Len())
	}
	if p.Radius < 1 {
		return nil, fmt.Errorf("strain: neighbourhood radius must be at least 1, got %g", p.Radius)
	}

	size := vf.Size()
	points := make(latticePoints, 0, vf.Len())
	for k := range vf.Pix() {
		if valid != nil && !valid[k] {
			continue
		}
		i, j := vf.Coords(k)
		points = append(points, latticePoint{X: float64(i), Y: float64(j), Offset: k})
	}
	nb := newNeighborhood(points, p.Radius)

	res := &Result{
		Strain:   field.NewGrid[field.Tensor](size, vf.Geometry()),
		Gradient: field.NewGrid[Gradient](size, vf.Geometry()),
		Valid:    make([]bool, vf.Len()),
	}
	geom := vf.Geometry()
	err := workerpool.For(context.Background(), vf.Len(), p.NumWorkers, func(k int) error {
		i, j := vf.Coords(k)
		idx := nb.within(latticePoint{X: float64(i), Y: float64(j)})
		pts := make([][2]float64, len(idx))
		vals := make([]field.Vector, len(idx))
		for n, o := range idx {
			oi, oj := vf.Coords(o)
			pts[n] = [2]float64{float64(oi - i), float64(oj - j)}
			vals[n] = vf.Pix()[o]
		}
		gi, err := FitGradient(pts, vals)
		if err != nil {
			return nil
		}
		g := physicalGradient(gi, geom)
		res.Gradient.Pix()[k] = g
		res.Strain.Pix()[k] = g.Tensor(p.Form)
		res.Valid[k] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, ok := range res.Valid {
		if !ok {
			res.Singular++
		}
	}
	return res, nil
}

// FitGradient fits the affine model u(x) = a + G·x to displacement samples
// values taken at offsets points from the point of interest, solving the 3x3 normal equations
// shared by both displacement components with a Cholesky factorisation.
// Fewer than three samples, or samples that do not span both axes, yield
// ErrSingularGradientFit.
func FitGradient(points [][2]float64, values []field.Vector) (Gradient, error) {
	if len(points) != len(values) {
		return Gradient{}, fmt.Errorf("%w: %d points for %d values", field.ErrSizeMismatch, len(points), len(values))
	}
	if len(points) < 3 {
		return Gradient{}, fmt.Errorf("%w: %d samples", ErrSingularGradientFit, len(points))
	}

	ata := mat.NewSymDense(3, nil)
	atb := [2]*mat.VecDense{mat.NewVecDense(3, nil), mat.NewVecDense(3, nil)}
	for n, pt := range points {
		row := [3]float64{1, pt[0], pt[1]}
		for r := 0; r < 3; r++ {
			for c := r; c < 3; c++ {
				ata.SetSym(r, c, ata.At(r, c)+row[r]*row[c])
			}
			for comp := 0; comp < 2; comp++ {
				atb[comp].SetVec(r, atb[comp].AtVec(r)+row[r]*values[n][comp])
			}
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(ata); !ok {
		return Gradient{}, fmt.Errorf("%w: normal equations not positive definite", ErrSingularGradientFit)
	}
	if c := chol.Cond(); c > maxCondition {
		return Gradient{}, fmt.Errorf("%w: condition number %.3g", ErrSingularGradientFit, c)
	}

	var g Gradient
	var x mat.VecDense
	for comp := 0; comp < 2; comp++ {
		if err := chol.SolveVecTo(&x, atb[comp]); err != nil {
			return Gradient{}, fmt.Errorf("%w: %v", ErrSingularGradientFit, err)
		}
		g[comp][0] = x.AtVec(1)
		g[comp][1] = x.AtVec(2)
	}
	return g, nil
}

// physicalGradient converts a gradient fitted against lattice index offsets
// into one against physical offsets: x = D·S·idx, so ∂u/∂x = G·S⁻¹·Dᵀ.
func physicalGradient(gi Gradient, geom field.Geometry) Gradient {
	var g Gradient
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			for k := 0; k < 2; k++ {
				g[i][j] += gi[i][k] * geom.Direction[j][k] / geom.Spacing[k]
			}
		}
	}
	return g
}
