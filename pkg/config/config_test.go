package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speckletrack/pkg/regularization"
	"speckletrack/pkg/scanconvert"
	"speckletrack/pkg/tracking"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("LoadConfig mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	want := DefaultConfig()
	want.Tracking.Calculator = "strain-windowed"
	want.Tracking.WarpBlocks = true
	want.Regularization.StrainSigma = [2]float64{0.1, 0.02}
	want.Output.Directory = "runs/a"

	require.NoError(t, SaveConfig(want, path))
	got, err := LoadConfig(path)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, section := range []string{"processing:", "tracking:", "regularization:", "strainWindow:", "strain:", "series:", "scanConversion:", "output:"} {
		assert.Contains(t, string(data), section)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := "tracking:\n  levels: 2\n  calculator: strain-windowed\nstrainWindow:\n  fallback: rematch\n"
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	p, err := cfg.TrackingParams()
	require.NoError(t, err)
	assert.Equal(t, 2, p.Levels)
	assert.Equal(t, tracking.StrainWindowed, p.Calculator)
	assert.Equal(t, regularization.FallbackRematch, p.StrainWindow.Fallback)
	assert.Equal(t, DefaultConfig().Tracking.BlockRadiusMax, p.BlockRadius.Max)
}

func TestTrackingParamsMatchesDefaults(t *testing.T) {
	cfg := DefaultConfig()
	got, err := cfg.TrackingParams()
	require.NoError(t, err)

	want := tracking.DefaultParams()
	want.NumWorkers = cfg.Processing.NumCores
	want.Strain.NumWorkers = cfg.Processing.NumCores
	want.StrainWindow.Strain.NumWorkers = cfg.Processing.NumCores
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("TrackingParams mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"spacing", func(c *Config) { c.Processing.Spacing = [2]float64{0, 1} }},
		{"frame interval", func(c *Config) { c.Processing.FrameInterval = 0 }},
		{"calculator", func(c *Config) { c.Tracking.Calculator = "kalman" }},
		{"strain form", func(c *Config) { c.Strain.Form = "hencky" }},
		{"fallback", func(c *Config) { c.StrainWindow.Fallback = "zero" }},
		{"levels", func(c *Config) { c.Tracking.Levels = 0 }},
		{"sigma", func(c *Config) { c.Regularization.StrainSigma = [2]float64{0, 0.1} }},
		{"frame skip", func(c *Config) { c.Series.FrameSkip = 0 }},
		{"method", func(c *Config) { c.ScanConversion.Method = "cubic" }},
		{"curvilinear array", func(c *Config) { c.ScanConversion.RadiusSampleSize = 0 }},
		{"geometry", func(c *Config) { c.ScanConversion.Geometry = "phased" }},
		{"sweep spacing", func(c *Config) {
			c.ScanConversion.Geometry = GeometrySweptSlices
			c.ScanConversion.Sweep.SampleSpacing = 0
		}},
		{"sweep step", func(c *Config) {
			c.ScanConversion.Geometry = GeometrySweptSlices
			c.ScanConversion.Sweep.OriginStep = [2]float64{}
		}},
		{"backscatter band", func(c *Config) { c.Backscatter.BandEnd = c.Backscatter.BandStart }},
		{"backscatter window", func(c *Config) { c.Backscatter.Window = 63 }},
		{"backscatter components", func(c *Config) { c.Backscatter.Window = 4 }},
		{"output", func(c *Config) { c.Output.Directory = "" }},
	}
	require.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestScanGeometry(t *testing.T) {
	cfg := DefaultConfig()
	g, err := cfg.ScanGeometry(64)
	require.NoError(t, err)
	assert.IsType(t, scanconvert.Curvilinear{}, g)

	cfg.ScanConversion.Geometry = GeometrySweptSlices
	cfg.ScanConversion.Sweep.FirstOrigin = [2]float64{-1, 5}
	cfg.ScanConversion.Sweep.AngleStep = 0.01
	g, err = cfg.ScanGeometry(64)
	require.NoError(t, err)
	sweep, ok := g.(scanconvert.SweptSlices)
	require.True(t, ok)
	require.Len(t, sweep.Slices, 64)
	assert.Equal(t, 0.1, sweep.SampleSpacing)
	assert.Equal(t, scanconvert.Slice{Origin: [2]float64{-1, 5}}, sweep.Slices[0])
	assert.InDelta(t, -1+63*0.2, sweep.Slices[63].Origin[0], 1e-9)
	assert.InDelta(t, 0.63, sweep.Slices[63].Angle, 1e-9)

	_, err = cfg.ScanGeometry(1)
	assert.ErrorIs(t, err, ErrInvalid)
}
