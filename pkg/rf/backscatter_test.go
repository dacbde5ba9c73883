package rf

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"speckletrack/pkg/field"
)

func TestSpectraPeakAtToneFrequency(t *testing.T) {
	for _, axis := range []int{0, 1} {
		size := [2]int{64, 3}
		if axis == 1 {
			size = [2]int{3, 64}
		}
		im := sinusoidImage(size, axis, 0.25)
		spectra, err := Spectra(context.Background(), im, axis, 16, 2)
		require.NoError(t, err)
		require.Len(t, spectra, 9)

		for _, s := range []int{0, 20, 63} {
			i, j := s, 1
			if axis == 1 {
				i, j = 1, s
			}
			power := make([]float64, len(spectra))
			for k, c := range spectra {
				power[k] = c.At(i, j)
			}
			assert.Equalf(t, 4, floats.MaxIdx(power), "axis %d sample %d", axis, s)
		}
	}
}

func TestSpectraValidates(t *testing.T) {
	im := sinusoidImage([2]int{32, 2}, 0, 0.1)
	for _, size := range []int{0, 2, 7, 64} {
		_, err := Spectra(context.Background(), im, 0, size, 0)
		assert.Errorf(t, err, "window %d", size)
	}
	_, err := Spectra(context.Background(), im, 2, 8, 0)
	assert.Error(t, err)
}

// lineSpectra builds n constant components whose values lie on
// intercept - slope·f at the component frequencies.
func lineSpectra(n int, fs, intercept, slope float64) []*field.Image {
	out := make([]*field.Image, n)
	for k := range out {
		f := float64(k) * fs / float64(2*(n-1))
		out[k] = field.NewImage([2]int{4, 3}, field.DefaultGeometry())
		for p := range out[k].Pix() {
			out[k].Pix()[p] = intercept - slope*f
		}
	}
	return out
}

func TestComputeBackscatter(t *testing.T) {
	// Components every 1.25 MHz; the band keeps 2.5 to 7.5 MHz.
	p := BackscatterParams{SamplingFrequency: 20, BandStart: 2, BandEnd: 8, NumWorkers: 2}
	if diff := cmp.Diff([]int{2, 3, 4, 5, 6}, p.BandComponents(9)); diff != "" {
		t.Errorf("BandComponents mismatch (-want +got):\n%s", diff)
	}
	bsc, err := ComputeBackscatter(context.Background(), lineSpectra(9, 20, 3, 0.5), p)
	require.NoError(t, err)
	for k := range bsc.Average.Pix() {
		assert.InDelta(t, 3-0.5*5, bsc.Average.Pix()[k], 1e-9)
		assert.InDelta(t, 0.5, bsc.Slope.Pix()[k], 1e-9)
		assert.InDelta(t, 3, bsc.Intercept.Pix()[k], 1e-9)
	}
}

func TestComputeBackscatterValidates(t *testing.T) {
	spectra := lineSpectra(9, 20, 1, 0)
	valid := BackscatterParams{SamplingFrequency: 20, BandStart: 2, BandEnd: 8}
	tests := []struct {
		name    string
		spectra []*field.Image
		params  BackscatterParams
	}{
		{"one component", spectra[:1], valid},
		{"sampling frequency", spectra, BackscatterParams{BandStart: 2, BandEnd: 8}},
		{"reversed band", spectra, BackscatterParams{SamplingFrequency: 20, BandStart: 8, BandEnd: 2}},
		{"narrow band", spectra, BackscatterParams{SamplingFrequency: 20, BandStart: 2, BandEnd: 3}},
		{"size mismatch", append([]*field.Image{field.NewImage([2]int{2, 2}, field.DefaultGeometry())}, spectra[1:]...), valid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeBackscatter(context.Background(), tt.spectra, tt.params)
			assert.Error(t, err)
		})
	}
}
