// Package rf conditions raw radio-frequency ultrasound frames before
// tracking: a Butterworth highpass along one axis and B-mode envelope
// detection.
package rf

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"speckletrack/internal/workerpool"
	"speckletrack/pkg/field"
)

// HighpassParams configures the Butterworth highpass.
type HighpassParams struct {
	// Axis is the image axis the filter runs along.
	Axis int
	// Cutoff is the -3 dB frequency in cycles per sample, in (0, 0.5].
	Cutoff float64
	// Order is the filter order; higher orders roll off faster.
	Order int
	// NumWorkers bounds parallelism; values below one use all CPUs.
	NumWorkers int
}

// Validate checks parameter ranges.
func (p HighpassParams) Validate() error {
	switch {
	case p.Axis != 0 && p.Axis != 1:
		return fmt.Errorf("rf: axis must be 0 or 1, got %d", p.Axis)
	case !(p.Cutoff > 0 && p.Cutoff <= 0.5):
		return fmt.Errorf("rf: cutoff must be in (0, 0.5] cycles per sample, got %g", p.Cutoff)
	case p.Order < 1:
		return fmt.Errorf("rf: order must be at least 1, got %d", p.Order)
	}
	return nil
}

// ButterworthGain returns the highpass magnitude response at frequency f in
// cycles per sample, 1/sqrt(1 + (cutoff/f)^(2·order)), and 0 at DC.
func ButterworthGain(f, cutoff float64, order int) float64 {
	f = math.Abs(f)
	if f == 0 {
		return 0
	}
	return 1 / math.Sqrt(1+math.Pow(cutoff/f, float64(2*order)))
}

// Highpass filters every line of im along p.Axis in the frequency domain.
func Highpass(ctx context.Context, im *field.Image, p HighpassParams) (*field.Image, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := field.NewImage(im.Size(), im.Geometry())
	n := im.Size()[p.Axis]
	lines := im.Size()[1-p.Axis]
	err := workerpool.For(ctx, lines, p.NumWorkers, func(l int) error {
		fft := fourier.NewFFT(n)
		seq := readLine(im, p.Axis, l, nil)
		coeff := fft.Coefficients(nil, seq)
		for k := range coeff {
			coeff[k] *= complex(ButterworthGain(float64(k)/float64(n), p.Cutoff, p.Order), 0)
		}
		seq = fft.Sequence(seq, coeff)
		for i := range seq {
			seq[i] /= float64(n)
		}
		writeLine(out, p.Axis, l, seq)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Envelope returns the magnitude of the analytic signal of line: the
// spectrum's negative frequencies are removed, the positive ones doubled,
// and the inverse transform taken.
func Envelope(line []float64) []float64 {
	n := len(line)
	if n == 0 {
		return nil
	}
	fft := fourier.NewCmplxFFT(n)
	z := make([]complex128, n)
	for i, v := range line {
		z[i] = complex(v, 0)
	}
	coeff := fft.Coefficients(nil, z)
	half := (n + 1) / 2
	for k := 1; k < n; k++ {
		switch {
		case k < half:
			coeff[k] *= 2
		case n%2 == 0 && k == n/2:
		default:
			coeff[k] = 0
		}
	}
	z = fft.Sequence(z, coeff)
	env := make([]float64, n)
	for i, v := range z {
		env[i] = cmplx.Abs(v) / float64(n)
	}
	return env
}

// BMode detects the envelope of every line along axis and log-compresses
// it as log(1 + envelope).
func BMode(ctx context.Context, im *field.Image, axis, numWorkers int) (*field.Image, error) {
	if axis != 0 && axis != 1 {
		return nil, fmt.Errorf("rf: axis must be 0 or 1, got %d", axis)
	}
	out := field.NewImage(im.Size(), im.Geometry())
	lines := im.Size()[1-axis]
	err := workerpool.For(ctx, lines, numWorkers, func(l int) error {
		env := Envelope(readLine(im, axis, l, nil))
		for i, v := range env {
			env[i] = math.Log1p(v)
		}
		writeLine(out, axis, l, env)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// readLine copies line l running along axis into dst.
func readLine(im *field.Image, axis, l int, dst []float64) []float64 {
	n := im.Size()[axis]
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]
	for i := range dst {
		if axis == 0 {
			dst[i] = im.At(i, l)
		} else {
			dst[i] = im.At(l, i)
		}
	}
	return dst
}

func writeLine(im *field.Image, axis, l int, v []float64) {
	for i, x := range v {
		if axis == 0 {
			im.Set(i, l, x)
		} else {
			im.Set(l, i, x)
		}
	}
}
