// Package phantom renders deterministic synthetic speckle frames: random
// point scatterers blurred by a Gaussian point-spread function. Moving the
// scatterers by a known displacement field gives frame pairs with ground
// truth for tracking.
package phantom

import (
	"math"
	"math/rand"

	"speckletrack/pkg/field"
)

// Params controls the speckle texture.
type Params struct {
	// Density is the mean number of scatterers per pixel.
	Density float64
	// Sigma is the point-spread function width in pixels.
	Sigma float64
	// Margin extends the scatterer field beyond the frame so displaced
	// scatterers still cover the border.
	Margin int
}

// DefaultParams returns a fully developed speckle texture.
func DefaultParams() Params {
	return Params{Density: 0.5, Sigma: 1.5, Margin: 16}
}

type scatterer struct {
	x, y, amp float64
}

// Phantom is a fixed set of scatterers over a frame.
type Phantom struct {
	size       [2]int
	params     Params
	scatterers []scatterer
}

// New places scatterers for a frame of the given size. The same seed always
// yields the same phantom.
func New(size [2]int, seed int64, p Params) *Phantom {
	rng := rand.New(rand.NewSource(seed))
	w := float64(size[0] + 2*p.Margin)
	h := float64(size[1] + 2*p.Margin)
	n := int(p.Density * w * h)
	ph := &Phantom{size: size, params: p, scatterers: make([]scatterer, n)}
	for k := range ph.scatterers {
		ph.scatterers[k] = scatterer{
			x:   rng.Float64()*w - float64(p.Margin),
			y:   rng.Float64()*h - float64(p.Margin),
			amp: rng.NormFloat64(),
		}
	}
	return ph
}

// Displacement maps a scatterer position in pixels to its displacement.
type Displacement func(x, y float64) field.Vector

// Translation displaces every scatterer by d pixels.
func Translation(d field.Vector) Displacement {
	return func(float64, float64) field.Vector { return d }
}

// Stretch applies a uniform axial and lateral strain about centre c.
func Stretch(c [2]float64, strain field.Vector) Displacement {
	return func(x, y float64) field.Vector {
		return field.Vector{strain[0] * (x - c[0]), strain[1] * (y - c[1])}
	}
}

// Render images the scatterers after moving them by u. A nil u renders the
// undisplaced phantom. The frame has unit spacing at the origin.
func (ph *Phantom) Render(u Displacement) *field.Image {
	im := field.NewImage(ph.size, field.DefaultGeometry())
	s := ph.params.Sigma
	reach := int(math.Ceil(3 * s))
	inv := 1 / (2 * s * s)
	for _, sc := range ph.scatterers {
		x, y := sc.x, sc.y
		if u != nil {
			d := u(x, y)
			x += d[0]
			y += d[1]
		}
		ci, cj := int(math.Round(x)), int(math.Round(y))
		for j := max(cj-reach, 0); j <= min(cj+reach, ph.size[1]-1); j++ {
			dy := float64(j) - y
			for i := max(ci-reach, 0); i <= min(ci+reach, ph.size[0]-1); i++ {
				dx := float64(i) - x
				im.Pix()[im.Offset(i, j)] += sc.amp * math.Exp(-(dx*dx+dy*dy)*inv)
			}
		}
	}
	return im
}

// Pair renders the undisplaced phantom and the phantom moved by u.
func (ph *Phantom) Pair(u Displacement) (fixed, moving *field.Image) {
	return ph.Render(nil), ph.Render(u)
}
