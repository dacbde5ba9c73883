package rf

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/stat"

	"speckletrack/internal/workerpool"
	"speckletrack/pkg/field"
)

// powerFloor keeps the dB conversion finite for empty segments.
const powerFloor = 1e-12

// Spectra estimates the local power spectrum, in dB, at every sample of im
// along axis from a Hann-windowed segment of size samples around it.
// Segments are shifted to stay inside the line. Component k of the result
// is frequency k/size cycles per sample, for k = 0..size/2.
func Spectra(ctx context.Context, im *field.Image, axis, size, numWorkers int) ([]*field.Image, error) {
	if axis != 0 && axis != 1 {
		return nil, fmt.Errorf("rf: axis must be 0 or 1, got %d", axis)
	}
	n := im.Size()[axis]
	if size < 4 || size%2 != 0 || size > n {
		return nil, fmt.Errorf("rf: spectral window must be even, at least 4 and at most %d, got %d", n, size)
	}
	out := make([]*field.Image, size/2+1)
	for k := range out {
		out[k] = field.NewImage(im.Size(), im.Geometry())
	}
	lines := im.Size()[1-axis]
	err := workerpool.For(ctx, lines, numWorkers, func(l int) error {
		fft := fourier.NewFFT(size)
		line := readLine(im, axis, l, nil)
		seg := make([]float64, size)
		var coeff []complex128
		power := make([][]float64, len(out))
		for k := range power {
			power[k] = make([]float64, n)
		}
		for s := 0; s < n; s++ {
			start := min(max(s-size/2, 0), n-size)
			copy(seg, line[start:start+size])
			coeff = fft.Coefficients(coeff, window.Hann(seg))
			for k, c := range coeff {
				a := cmplx.Abs(c)
				power[k][s] = 10 * math.Log10(a*a+powerFloor)
			}
		}
		for k, p := range power {
			writeLine(out[k], axis, l, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BackscatterParams selects the analysed band of a spectra image.
type BackscatterParams struct {
	// SamplingFrequency of the RF data in MHz.
	SamplingFrequency float64
	// BandStart and BandEnd bound the analysed band in MHz, inclusive.
	BandStart, BandEnd float64
	// NumWorkers bounds parallelism; values below one use all CPUs.
	NumWorkers int
}

// Backscatter holds per-sample summaries of the in-band spectrum.
type Backscatter struct {
	// Average of the in-band components.
	Average *field.Image
	// Slope is the negated slope, per MHz, of a least-squares line through
	// the in-band components.
	Slope *field.Image
	// Intercept of that line at 0 MHz.
	Intercept *field.Image
}

// BandComponents returns the indices of the components of an n-component
// one-sided spectrum that fall inside the band of p. Component k lies at
// k·SamplingFrequency/(2(n-1)).
func (p BackscatterParams) BandComponents(n int) []int {
	var ks []int
	for k := 0; k < n; k++ {
		f := float64(k) * p.SamplingFrequency / float64(2*(n-1))
		if f >= p.BandStart && f <= p.BandEnd {
			ks = append(ks, k)
		}
	}
	return ks
}

// ComputeBackscatter fits the in-band part of spectra, as produced by
// Spectra, at every sample.
func ComputeBackscatter(ctx context.Context, spectra []*field.Image, p BackscatterParams) (*Backscatter, error) {
	if len(spectra) < 2 {
		return nil, fmt.Errorf("rf: a spectra image needs at least 2 components, got %d", len(spectra))
	}
	if p.SamplingFrequency <= 0 || p.BandStart < 0 || p.BandEnd <= p.BandStart {
		return nil, fmt.Errorf("rf: invalid band [%g, %g] MHz at sampling frequency %g MHz", p.BandStart, p.BandEnd, p.SamplingFrequency)
	}
	size := spectra[0].Size()
	for k, s := range spectra {
		if s.Size() != size {
			return nil, fmt.Errorf("rf: spectra component %d has size %v, want %v", k, s.Size(), size)
		}
	}
	ks := p.BandComponents(len(spectra))
	if len(ks) < 2 {
		return nil, fmt.Errorf("rf: band [%g, %g] MHz holds %d components, need at least 2", p.BandStart, p.BandEnd, len(ks))
	}
	freqs := make([]float64, len(ks))
	for i, k := range ks {
		freqs[i] = float64(k) * p.SamplingFrequency / float64(2*(len(spectra)-1))
	}

	geom := spectra[0].Geometry()
	out := &Backscatter{
		Average:   field.NewImage(size, geom),
		Slope:     field.NewImage(size, geom),
		Intercept: field.NewImage(size, geom),
	}
	err := workerpool.For(ctx, size[1], p.NumWorkers, func(j int) error {
		ys := make([]float64, len(ks))
		for i := 0; i < size[0]; i++ {
			for c, k := range ks {
				ys[c] = spectra[k].At(i, j)
			}
			alpha, beta := stat.LinearRegression(freqs, ys, nil, false)
			out.Average.Set(i, j, stat.Mean(ys, nil))
			out.Slope.Set(i, j, -beta)
			out.Intercept.Set(i, j, alpha)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
