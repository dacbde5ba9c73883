package strain

import (
	"fmt"
	"math"
	"strings"

	"speckletrack/pkg/field"
)

// Form selects the strain tensor definition built from a displacement
// gradient G, where G[i][j] = ∂u_i/∂x_j.
type Form int

const (
	// Infinitesimal is the small-deformation tensor ½(G + Gᵀ).
	Infinitesimal Form = iota
	// GreenLagrangian is ½(G + Gᵀ + GᵀG).
	GreenLagrangian
	// EulerianAlmansi is ½(G + Gᵀ − GᵀG).
	EulerianAlmansi
)

func (f Form) String() string {
	switch f {
	case Infinitesimal:
		return "infinitesimal"
	case GreenLagrangian:
		return "green-lagrangian"
	case EulerianAlmansi:
		return "eulerian-almansi"
	default:
		return fmt.Sprintf("Form(%d)", int(f))
	}
}

// ParseForm accepts the names returned by Form.String, ignoring case and
// separators, so "GREEN_LAGRANGIAN" and "GreenLagrangian" both parse.
func ParseForm(s string) (Form, error) {
	k := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s))
	switch k {
	case "", "infinitesimal":
		return Infinitesimal, nil
	case "greenlagrangian":
		return GreenLagrangian, nil
	case "eulerianalmansi":
		return EulerianAlmansi, nil
	}
	return Infinitesimal, fmt.Errorf("strain: unknown strain form %q", s)
}

// Gradient is a displacement gradient, G[i][j] = ∂u_i/∂x_j.
type Gradient [2][2]float64

// Tensor builds the symmetric strain tensor of the given form from g.
func (g Gradient) Tensor(f Form) field.Tensor {
	e := [2][2]float64{
		{g[0][0], 0.5 * (g[0][1] + g[1][0])},
		{0.5 * (g[0][1] + g[1][0]), g[1][1]},
	}
	var sign float64
	switch f {
	case GreenLagrangian:
		sign = 0.5
	case EulerianAlmansi:
		sign = -0.5
	}
	if sign != 0 {
		for i := 0; i < 2; i++ {
			for j := 0; j < 2; j++ {
				var gg float64
				for k := 0; k < 2; k++ {
					gg += g[k][i] * g[k][j]
				}
				e[i][j] += sign * gg
			}
		}
	}
	return field.Tensor{e[0][0], e[0][1], e[1][1]}
}

// MaxAbs returns the largest absolute tensor component.
func MaxAbs(t field.Tensor) float64 {
	return math.Max(math.Abs(t[0]), math.Max(math.Abs(t[1]), math.Abs(t[2])))
}
