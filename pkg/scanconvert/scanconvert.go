// Package scanconvert resamples ultrasound frames stored as (range sample,
// scan line) grids onto a Cartesian grid. Curvilinear arrays and swept
// slice series are supported.
package scanconvert

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"speckletrack/internal/workerpool"
	"speckletrack/pkg/field"
)

// ErrUnsupportedMethod is returned for resampling methods that need
// machinery outside this package.
var ErrUnsupportedMethod = errors.New("scanconvert: unsupported resampling method")

// Method selects the interpolator.
type Method int

const (
	Nearest Method = iota
	Linear
	Gaussian
	// WindowedSinc is a Lanczos-windowed sinc of radius Params.SincRadius.
	WindowedSinc
	// GridProbing splats input samples onto the output grid through an external
	// point locator; it is recognised but not implemented.
	GridProbing
)

var methodNames = map[Method]string{
	Nearest:      "nearest",
	Linear:       "linear",
	Gaussian:     "gaussian",
	WindowedSinc: "windowed-sinc",
	GridProbing:  "grid-probing",
}

func (m Method) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// ParseMethod accepts the names returned by Method.String.
func ParseMethod(s string) (Method, error) {
	k := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s))
	for m, name := range methodNames {
		if strings.ReplaceAll(name, "-", "") == k {
			return m, nil
		}
	}
	if k == "" {
		return Linear, nil
	}
	return Linear, fmt.Errorf("scanconvert: unknown resampling method %q", s)
}

// Geometry maps Cartesian points onto continuous indices of an acquired
// grid. Axis 0 of the grid runs along each scan line, axis 1 across lines.
type Geometry interface {
	// Check validates the geometry for an acquired grid of size.
	Check(size [2]int) error
	// PointToIndex returns the continuous index of pt, or false when pt
	// cannot be placed between scan lines.
	PointToIndex(pt [2]float64, size [2]int) ([2]float64, bool)
	// DefaultOrigin is the output origin used when Params.Origin is nil.
	DefaultOrigin(size [2]int, p Params) [2]float64
}

// Curvilinear describes the acquisition geometry of a curvilinear array.
// Axis 0 of the input grid runs along each scan line, axis 1 across lines.
type Curvilinear struct {
	// LateralAngularSeparation is the angle between scan lines in radians.
	LateralAngularSeparation float64
	// RadiusSampleSize is the distance between range samples.
	RadiusSampleSize float64
	// FirstSampleDistance is the distance from the arc centre to the first
	// range sample.
	FirstSampleDistance float64
}

// Validate checks the geometry.
func (c Curvilinear) Validate() error {
	if c.LateralAngularSeparation <= 0 || c.RadiusSampleSize <= 0 || c.FirstSampleDistance < 0 {
		return fmt.Errorf("scanconvert: invalid curvilinear geometry %+v", c)
	}
	return nil
}

// Check implements Geometry.
func (c Curvilinear) Check([2]int) error { return c.Validate() }

// PointToIndex implements Geometry.
func (c Curvilinear) PointToIndex(pt [2]float64, size [2]int) ([2]float64, bool) {
	return c.ToIndex(pt[0], pt[1], size[1]), true
}

// DefaultOrigin centres the output laterally and starts it at the depth of
// the first sample on the outermost lines.
func (c Curvilinear) DefaultOrigin(size [2]int, p Params) [2]float64 {
	maxAngle := float64(size[1]-1) / 2 * c.LateralAngularSeparation
	return [2]float64{
		float64(p.Size[0]) * p.Spacing[0] / -2,
		c.FirstSampleDistance * math.Cos(maxAngle),
	}
}

// ToIndex maps a Cartesian point, x lateral and y depth with the arc centre
// at the origin, to a continuous index of an input grid with lines scan
// lines.
func (c Curvilinear) ToIndex(x, y float64, lines int) [2]float64 {
	r := math.Hypot(x, y)
	theta := math.Atan2(x, y)
	return [2]float64{
		(r - c.FirstSampleDistance) / c.RadiusSampleSize,
		theta/c.LateralAngularSeparation + float64(lines-1)/2,
	}
}

// ToPoint is the inverse of ToIndex.
func (c Curvilinear) ToPoint(idx [2]float64, lines int) [2]float64 {
	r := c.FirstSampleDistance + idx[0]*c.RadiusSampleSize
	theta := (idx[1] - float64(lines-1)/2) * c.LateralAngularSeparation
	return [2]float64{r * math.Sin(theta), r * math.Cos(theta)}
}

// Params configures the Cartesian output.
type Params struct {
	Method  Method
	Size    [2]int
	Spacing [2]float64
	// Origin of the output grid. Nil uses the geometry's default origin.
	Origin *[2]float64
	// SincRadius is the Lanczos window radius in input samples.
	SincRadius int
	// GaussianSigma is the Gaussian kernel width in input samples; the
	// kernel is cut at three sigma.
	GaussianSigma float64
	// NumWorkers bounds parallelism; values below one use all CPUs.
	NumWorkers int
}

// DefaultParams returns linear resampling onto a 256x256 grid.
func DefaultParams() Params {
	return Params{
		Method:        Linear,
		Size:          [2]int{256, 256},
		Spacing:       [2]float64{0.2, 0.2},
		SincRadius:    3,
		GaussianSigma: 1,
	}
}

// Convert resamples im, acquired with geometry g, onto the grid described
// by p. Output samples outside the imaged region are 0.
func Convert(ctx context.Context, im *field.Image, g Geometry, p Params) (*field.Image, error) {
	size := im.Size()
	if err := g.Check(size); err != nil {
		return nil, err
	}
	if p.Size[0] < 1 || p.Size[1] < 1 || p.Spacing[0] <= 0 || p.Spacing[1] <= 0 {
		return nil, fmt.Errorf("scanconvert: invalid output size %v spacing %v", p.Size, p.Spacing)
	}
	var interp func(x, y float64) float64
	switch p.Method {
	case Nearest:
		interp = func(x, y float64) float64 { return field.NearestAt(im, x, y) }
	case Linear:
		interp = func(x, y float64) float64 { return field.LinearAt(im, x, y) }
	case Gaussian:
		if p.GaussianSigma <= 0 {
			return nil, fmt.Errorf("scanconvert: gaussian sigma must be positive, got %g", p.GaussianSigma)
		}
		interp = func(x, y float64) float64 { return gaussianAt(im, x, y, p.GaussianSigma) }
	case WindowedSinc:
		if p.SincRadius < 1 {
			return nil, fmt.Errorf("scanconvert: sinc radius must be at least 1, got %d", p.SincRadius)
		}
		interp = func(x, y float64) float64 { return lanczosAt(im, x, y, p.SincRadius) }
	case GridProbing:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, p.Method)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, p.Method)
	}

	origin := g.DefaultOrigin(size, p)
	if p.Origin != nil {
		origin = *p.Origin
	}
	geom := field.Geometry{Origin: origin, Spacing: p.Spacing, Direction: [2][2]float64{{1, 0}, {0, 1}}}
	out := field.NewImage(p.Size, geom)

	err := workerpool.For(ctx, p.Size[1], p.NumWorkers, func(j int) error {
		for i := 0; i < p.Size[0]; i++ {
			pt := out.IndexToPoint(i, j)
			idx, ok := g.PointToIndex(pt, size)
			if !ok || idx[0] < -0.5 || idx[0] > float64(size[0])-0.5 || idx[1] < -0.5 || idx[1] > float64(size[1])-0.5 {
				continue
			}
			out.Set(i, j, interp(idx[0], idx[1]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// gaussianAt is a normalised Gaussian-weighted average of the samples within
// three sigma of (x, y).
func gaussianAt(im *field.Image, x, y, sigma float64) float64 {
	reach := int(math.Ceil(3 * sigma))
	inv := 1 / (2 * sigma * sigma)
	return kernelAt(im, x, y, reach, func(d float64) float64 {
		if math.Abs(d) > 3*sigma {
			return 0
		}
		return math.Exp(-d * d * inv)
	})
}

// lanczosAt interpolates with the separable kernel sinc(d)·sinc(d/a),
// normalised by the weight sum.
func lanczosAt(im *field.Image, x, y float64, a int) float64 {
	fa := float64(a)
	return kernelAt(im, x, y, a, func(d float64) float64 {
		if math.Abs(d) >= fa {
			return 0
		}
		return sinc(d) * sinc(d/fa)
	})
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// kernelAt evaluates a separable, normalised kernel over the samples within
// reach of (x, y), clamping sample indices at the border.
func kernelAt(im *field.Image, x, y float64, reach int, w func(d float64) float64) float64 {
	size := im.Size()
	ci, cj := int(math.Floor(x)), int(math.Floor(y))
	var sum, norm float64
	for j := cj - reach + 1; j <= cj+reach; j++ {
		wy := w(y - float64(j))
		if wy == 0 {
			continue
		}
		jj := min(max(j, 0), size[1]-1)
		for i := ci - reach + 1; i <= ci+reach; i++ {
			wx := w(x - float64(i))
			if wx == 0 {
				continue
			}
			ii := min(max(i, 0), size[0]-1)
			sum += wx * wy * im.At(ii, jj)
			norm += wx * wy
		}
	}
	if norm == 0 {
		return field.NearestAt(im, x, y)
	}
	return sum / norm
}
