// Package config provides configuration loading and management for speckletrack.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"speckletrack/pkg/regularization"
	"speckletrack/pkg/rf"
	"speckletrack/pkg/scanconvert"
	"speckletrack/pkg/search"
	"speckletrack/pkg/strain"
	"speckletrack/pkg/tracking"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`

		// Spacing is the physical pixel size of input frames, x then y
		Spacing [2]float64 `yaml:"spacing"`

		// FrameInterval is the time between consecutive frames in seconds
		FrameInterval float64 `yaml:"frameInterval"`
	} `yaml:"processing"`

	// Block matching parameters
	Tracking struct {
		Levels          int        `yaml:"levels"`
		BlockRadiusMin  [2]int     `yaml:"blockRadiusMin"`
		BlockRadiusMax  [2]int     `yaml:"blockRadiusMax"`
		SearchRadiusMin [2]int     `yaml:"searchRadiusMin"`
		SearchRadiusMax [2]int     `yaml:"searchRadiusMax"`
		BlockOverlap    float64    `yaml:"blockOverlap"`
		TopFactor       [2]float64 `yaml:"topFactor"`
		BottomFactor    [2]float64 `yaml:"bottomFactor"`

		// Calculator is one of interpolation, regularized, strain-windowed
		Calculator string `yaml:"calculator"`

		// WarpBlocks deforms fixed blocks by the previous level's gradient
		WarpBlocks bool `yaml:"warpBlocks"`

		// FallbackRadius is the search radius used when rematching outliers
		FallbackRadius [2]int `yaml:"fallbackRadius"`
	} `yaml:"tracking"`

	// Bayesian regularization parameters
	Regularization struct {
		MaximumIterations    int        `yaml:"maximumIterations"`
		MetricLowerBound     float64    `yaml:"metricLowerBound"`
		StrainSigma          [2]float64 `yaml:"strainSigma"`
		DataWeight           float64    `yaml:"dataWeight"`
		ConvergenceThreshold float64    `yaml:"convergenceThreshold"`
		Neighbourhood        int        `yaml:"neighbourhood"`
	} `yaml:"regularization"`

	// Strain-window filter parameters
	StrainWindow struct {
		MaximumIterations int     `yaml:"maximumIterations"`
		MaximumAbsStrain  float64 `yaml:"maximumAbsStrain"`

		// Fallback is neighbor-median or rematch
		Fallback string `yaml:"fallback"`
	} `yaml:"strainWindow"`

	// Strain estimation parameters
	Strain struct {
		// Radius of the least-squares neighbourhood in lattice points
		Radius float64 `yaml:"radius"`

		// Form is infinitesimal, green-lagrangian or eulerian-almansi
		Form string `yaml:"form"`
	} `yaml:"strain"`

	// Frame pairing for series tracking
	Series struct {
		StartIndex int `yaml:"startIndex"`
		EndIndex   int `yaml:"endIndex"`
		FrameSkip  int `yaml:"frameSkip"`
	} `yaml:"series"`

	// Scan conversion parameters
	ScanConversion struct {
		// Geometry is curvilinear or swept-slices
		Geometry string `yaml:"geometry"`

		Method                   string     `yaml:"method"`
		SincRadius               int        `yaml:"sincRadius"`
		GaussianSigma            float64    `yaml:"gaussianSigma"`
		Size                     [2]int     `yaml:"size"`
		Spacing                  [2]float64 `yaml:"spacing"`
		LateralAngularSeparation float64    `yaml:"lateralAngularSeparation"`
		RadiusSampleSize         float64    `yaml:"radiusSampleSize"`
		FirstSampleDistance      float64    `yaml:"firstSampleDistance"`

		// Sweep places scan line j at FirstOrigin + j*OriginStep, rotated
		// FirstAngle + j*AngleStep radians from the depth axis. The output
		// size is fitted to the swept region.
		Sweep struct {
			SampleSpacing float64    `yaml:"sampleSpacing"`
			FirstOrigin   [2]float64 `yaml:"firstOrigin"`
			OriginStep    [2]float64 `yaml:"originStep"`
			FirstAngle    float64    `yaml:"firstAngle"`
			AngleStep     float64    `yaml:"angleStep"`
		} `yaml:"sweep"`
	} `yaml:"scanConversion"`

	// Backscatter analysis parameters
	Backscatter struct {
		// SamplingFrequency of the RF frames in MHz
		SamplingFrequency float64 `yaml:"samplingFrequency"`

		// BandStart and BandEnd bound the fitted band in MHz
		BandStart float64 `yaml:"bandStart"`
		BandEnd   float64 `yaml:"bandEnd"`

		// Window is the spectral segment length in samples
		Window int `yaml:"window"`
	} `yaml:"backscatter"`

	// Output parameters
	Output struct {
		// Directory receives every file the tools write
		Directory string `yaml:"directory"`

		// WriteComponents saves displacement and strain components as PNG
		WriteComponents bool `yaml:"writeComponents"`

		// WriteHeatMaps saves plotted strain heat maps
		WriteHeatMaps bool `yaml:"writeHeatMaps"`

		// Diagnostics records per-iteration statistics and plots convergence
		Diagnostics bool `yaml:"diagnostics"`

		// Scale enlarges component images
		Scale int `yaml:"scale"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.Spacing = [2]float64{1, 1}
	cfg.Processing.FrameInterval = 1

	tp := tracking.DefaultParams()
	cfg.Tracking.Levels = tp.Levels
	cfg.Tracking.BlockRadiusMin = tp.BlockRadius.Min
	cfg.Tracking.BlockRadiusMax = tp.BlockRadius.Max
	cfg.Tracking.SearchRadiusMin = tp.SearchRadius.Min
	cfg.Tracking.SearchRadiusMax = tp.SearchRadius.Max
	cfg.Tracking.BlockOverlap = tp.BlockOverlap
	cfg.Tracking.TopFactor = tp.TopFactor
	cfg.Tracking.BottomFactor = tp.BottomFactor
	cfg.Tracking.Calculator = tp.Calculator.String()
	cfg.Tracking.WarpBlocks = tp.WarpBlocks
	cfg.Tracking.FallbackRadius = tp.FallbackRadius

	rp := tp.Regularization
	cfg.Regularization.MaximumIterations = rp.MaximumIterations
	cfg.Regularization.MetricLowerBound = rp.MetricLowerBound
	cfg.Regularization.StrainSigma = rp.StrainSigma
	cfg.Regularization.DataWeight = rp.DataWeight
	cfg.Regularization.ConvergenceThreshold = rp.ConvergenceThreshold
	cfg.Regularization.Neighbourhood = rp.Radius

	wp := tp.StrainWindow
	cfg.StrainWindow.MaximumIterations = wp.MaximumIterations
	cfg.StrainWindow.MaximumAbsStrain = wp.MaximumAbsStrain
	cfg.StrainWindow.Fallback = wp.Fallback.String()

	cfg.Strain.Radius = tp.Strain.Radius
	cfg.Strain.Form = tp.Strain.Form.String()

	sp := tracking.DefaultSeriesParams()
	cfg.Series.StartIndex = sp.StartIndex
	cfg.Series.EndIndex = sp.EndIndex
	cfg.Series.FrameSkip = sp.FrameSkip

	cp := scanconvert.DefaultParams()
	cfg.ScanConversion.Geometry = GeometryCurvilinear
	cfg.ScanConversion.Method = cp.Method.String()
	cfg.ScanConversion.SincRadius = cp.SincRadius
	cfg.ScanConversion.GaussianSigma = cp.GaussianSigma
	cfg.ScanConversion.Size = cp.Size
	cfg.ScanConversion.Spacing = cp.Spacing
	cfg.ScanConversion.LateralAngularSeparation = 0.01
	cfg.ScanConversion.RadiusSampleSize = 0.1
	cfg.ScanConversion.FirstSampleDistance = 10
	cfg.ScanConversion.Sweep.SampleSpacing = 0.1
	cfg.ScanConversion.Sweep.OriginStep = [2]float64{0.2, 0}

	cfg.Backscatter.SamplingFrequency = 40
	cfg.Backscatter.BandStart = 3
	cfg.Backscatter.BandEnd = 7
	cfg.Backscatter.Window = 64

	cfg.Output.Directory = "output"
	cfg.Output.WriteComponents = true
	cfg.Output.WriteHeatMaps = false
	cfg.Output.Diagnostics = false
	cfg.Output.Scale = 4
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// Validate checks value ranges and enumerated names. Tracking parameters are
// checked by building them.
func (c *Config) Validate() error {
	if c.Processing.Spacing[0] <= 0 || c.Processing.Spacing[1] <= 0 {
		return fmt.Errorf("%w: processing.spacing must be positive, got %v", ErrInvalid, c.Processing.Spacing)
	}
	if c.Processing.FrameInterval <= 0 {
		return fmt.Errorf("%w: processing.frameInterval must be positive, got %g", ErrInvalid, c.Processing.FrameInterval)
	}
	if _, err := c.TrackingParams(); err != nil {
		return err
	}
	if c.Series.StartIndex < 0 || c.Series.FrameSkip < 1 {
		return fmt.Errorf("%w: series needs startIndex >= 0 and frameSkip >= 1", ErrInvalid)
	}
	if _, err := c.ScanConversionParams(); err != nil {
		return err
	}
	if _, err := c.ScanGeometry(2); err != nil {
		return err
	}
	if _, err := c.BackscatterParams(); err != nil {
		return err
	}
	if c.Output.Directory == "" {
		return fmt.Errorf("%w: output.directory is empty", ErrInvalid)
	}
	return nil
}

// TrackingParams maps the tracking, regularization, strainWindow and strain
// sections onto validated tracking parameters.
func (c *Config) TrackingParams() (*tracking.Params, error) {
	calc, err := tracking.ParseCalculator(c.Tracking.Calculator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	form, err := strain.ParseForm(c.Strain.Form)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	fallback, err := regularization.ParseFallback(c.StrainWindow.Fallback)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	sp := strain.Params{Radius: c.Strain.Radius, Form: form, NumWorkers: c.Processing.NumCores}
	p := &tracking.Params{
		Levels:       c.Tracking.Levels,
		BlockRadius:  search.RadiusSchedule{Min: c.Tracking.BlockRadiusMin, Max: c.Tracking.BlockRadiusMax},
		SearchRadius: search.RadiusSchedule{Min: c.Tracking.SearchRadiusMin, Max: c.Tracking.SearchRadiusMax},
		BlockOverlap: c.Tracking.BlockOverlap,
		TopFactor:    c.Tracking.TopFactor,
		BottomFactor: c.Tracking.BottomFactor,
		Calculator:   calc,
		Regularization: regularization.Params{
			MaximumIterations:    c.Regularization.MaximumIterations,
			MetricLowerBound:     c.Regularization.MetricLowerBound,
			StrainSigma:          c.Regularization.StrainSigma,
			DataWeight:           c.Regularization.DataWeight,
			ConvergenceThreshold: c.Regularization.ConvergenceThreshold,
			Radius:               c.Regularization.Neighbourhood,
		},
		StrainWindow: regularization.WindowParams{
			MaximumIterations: c.StrainWindow.MaximumIterations,
			MaximumAbsStrain:  c.StrainWindow.MaximumAbsStrain,
			Fallback:          fallback,
			Strain:            sp,
			Radius:            c.Regularization.Neighbourhood,
		},
		Strain:         sp,
		WarpBlocks:     c.Tracking.WarpBlocks,
		FallbackRadius: c.Tracking.FallbackRadius,
		NumWorkers:     c.Processing.NumCores,
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return p, nil
}

// SeriesParams returns the series section.
func (c *Config) SeriesParams() tracking.SeriesParams {
	return tracking.SeriesParams{
		StartIndex: c.Series.StartIndex,
		EndIndex:   c.Series.EndIndex,
		FrameSkip:  c.Series.FrameSkip,
	}
}

// ScanConversionParams maps the scanConversion section onto the output grid
// parameters. The origin is left to the converter.
func (c *Config) ScanConversionParams() (scanconvert.Params, error) {
	m, err := scanconvert.ParseMethod(c.ScanConversion.Method)
	if err != nil {
		return scanconvert.Params{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	sc := c.ScanConversion
	if sc.Size[0] < 1 || sc.Size[1] < 1 || sc.Spacing[0] <= 0 || sc.Spacing[1] <= 0 {
		return scanconvert.Params{}, fmt.Errorf("%w: scanConversion size %v and spacing %v must be positive", ErrInvalid, sc.Size, sc.Spacing)
	}
	if sc.SincRadius < 1 || sc.GaussianSigma <= 0 {
		return scanconvert.Params{}, fmt.Errorf("%w: scanConversion needs sincRadius >= 1 and gaussianSigma > 0", ErrInvalid)
	}
	return scanconvert.Params{
		Method:        m,
		Size:          sc.Size,
		Spacing:       sc.Spacing,
		SincRadius:    sc.SincRadius,
		GaussianSigma: sc.GaussianSigma,
		NumWorkers:    c.Processing.NumCores,
	}, nil
}

// BackscatterParams maps the backscatter section onto the band fit. The
// spectral window is read directly by callers.
func (c *Config) BackscatterParams() (rf.BackscatterParams, error) {
	b := c.Backscatter
	if b.SamplingFrequency <= 0 || b.BandStart < 0 || b.BandEnd <= b.BandStart {
		return rf.BackscatterParams{}, fmt.Errorf("%w: backscatter band [%g, %g] MHz at %g MHz", ErrInvalid, b.BandStart, b.BandEnd, b.SamplingFrequency)
	}
	if b.Window < 4 || b.Window%2 != 0 {
		return rf.BackscatterParams{}, fmt.Errorf("%w: backscatter.window must be even and at least 4, got %d", ErrInvalid, b.Window)
	}
	p := rf.BackscatterParams{
		SamplingFrequency: b.SamplingFrequency,
		BandStart:         b.BandStart,
		BandEnd:           b.BandEnd,
		NumWorkers:        c.Processing.NumCores,
	}
	if n := len(p.BandComponents(b.Window/2 + 1)); n < 2 {
		return p, fmt.Errorf("%w: backscatter band holds %d spectral components, need at least 2", ErrInvalid, n)
	}
	return p, nil
}

// Scan conversion geometries.
const (
	GeometryCurvilinear = "curvilinear"
	GeometrySweptSlices = "swept-slices"
)

// ScanGeometry returns the acquisition geometry of the scanConversion
// section for an input grid with lines scan lines.
func (c *Config) ScanGeometry(lines int) (scanconvert.Geometry, error) {
	switch c.ScanConversion.Geometry {
	case GeometryCurvilinear, "":
		return c.Curvilinear()
	case GeometrySweptSlices:
		return c.SweptSlices(lines)
	}
	return nil, fmt.Errorf("%w: unknown scanConversion geometry %q", ErrInvalid, c.ScanConversion.Geometry)
}

// SweptSlices returns the regular sweep of the scanConversion section for
// lines scan lines.
func (c *Config) SweptSlices(lines int) (scanconvert.SweptSlices, error) {
	sw := c.ScanConversion.Sweep
	if sw.OriginStep == ([2]float64{}) && sw.AngleStep == 0 {
		return scanconvert.SweptSlices{}, fmt.Errorf("%w: scanConversion sweep needs a non-zero originStep or angleStep", ErrInvalid)
	}
	s := scanconvert.SweptSlices{
		SampleSpacing: sw.SampleSpacing,
		Slices:        scanconvert.RegularSweep(lines, scanconvert.Slice{Origin: sw.FirstOrigin, Angle: sw.FirstAngle}, sw.OriginStep, sw.AngleStep),
	}
	if err := s.Check([2]int{1, lines}); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return s, nil
}

// Curvilinear returns the curvilinear array geometry of the scanConversion
// section.
func (c *Config) Curvilinear() (scanconvert.Curvilinear, error) {
	cv := scanconvert.Curvilinear{
		LateralAngularSeparation: c.ScanConversion.LateralAngularSeparation,
		RadiusSampleSize:         c.ScanConversion.RadiusSampleSize,
		FirstSampleDistance:      c.ScanConversion.FirstSampleDistance,
	}
	if err := cv.Validate(); err != nil {
		return cv, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return cv, nil
}
