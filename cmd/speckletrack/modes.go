package main

import (
	"context"
	"fmt"
	"path/filepath"

	"speckletrack/internal/frames"
	"speckletrack/internal/phantom"
	"speckletrack/pkg/config"
	"speckletrack/pkg/field"
	"speckletrack/pkg/rf"
	"speckletrack/pkg/scanconvert"
	"speckletrack/pkg/strain"
	"speckletrack/pkg/tracking"
	"speckletrack/pkg/visualization"
)

type modeFunc func(ctx context.Context, cfg *config.Config, opt *options) error

var modes = map[string]modeFunc{
	"track":       runTrack,
	"strain":      runStrain,
	"series":      runSeries,
	"bmode":       runBMode,
	"highpass":    runHighpass,
	"scanconvert": runScanConvert,
	"backscatter": runBackscatter,
	"phantom":     runPhantom,
}

func frameGeometry(cfg *config.Config) field.Geometry {
	g := field.DefaultGeometry()
	g.Spacing = cfg.Processing.Spacing
	return g
}

func loadFrame(path string, geom field.Geometry) (*field.Image, error) {
	if path == "" {
		return nil, fmt.Errorf("no image given")
	}
	img, err := frames.LoadImage(path)
	if err != nil {
		return nil, err
	}
	return frames.ImageToGrid(img, geom), nil
}

// newTracker builds a tracker from cfg, attaching a diagnostics recorder
// when enabled.
func newTracker(cfg *config.Config, viewer *visualization.Viewer) (*tracking.Tracker, *visualization.DiagnosticsRecorder, error) {
	params, err := cfg.TrackingParams()
	if err != nil {
		return nil, nil, err
	}
	tr := tracking.NewTracker(params)
	var rec *visualization.DiagnosticsRecorder
	if cfg.Output.Diagnostics {
		var v *visualization.Viewer
		if cfg.Output.WriteHeatMaps {
			v = viewer
		}
		rec = visualization.NewDiagnosticsRecorder(v)
		tr.AddObserver(rec)
	}
	return tr, rec, nil
}

func trackPair(ctx context.Context, cfg *config.Config, opt *options) (*tracking.Result, *visualization.Viewer, error) {
	geom := frameGeometry(cfg)
	fixed, err := loadFrame(opt.fixed, geom)
	if err != nil {
		return nil, nil, fmt.Errorf("fixed frame: %w", err)
	}
	moving, err := loadFrame(opt.moving, geom)
	if err != nil {
		return nil, nil, fmt.Errorf("moving frame: %w", err)
	}

	viewer := visualization.NewViewer(cfg.Output.Directory, cfg.Output.Scale)
	tr, rec, err := newTracker(cfg, viewer)
	if err != nil {
		return nil, nil, err
	}
	fmt.Printf("Tracking %v frames with the %s calculator...\n", fixed.Size(), cfg.Tracking.Calculator)
	res, err := tr.Track(ctx, fixed, moving)
	if err != nil {
		return nil, nil, err
	}
	printLevels(res.Levels)
	if err := writeDiagnostics(rec, cfg.Output.Directory); err != nil {
		return nil, nil, err
	}
	return res, viewer, nil
}

func runTrack(ctx context.Context, cfg *config.Config, opt *options) error {
	res, viewer, err := trackPair(ctx, cfg, opt)
	if err != nil {
		return err
	}
	mean := res.MeanDisplacement()
	fmt.Printf("Mean displacement: (%.4f, %.4f)\n", mean[0], mean[1])
	return writeDisplacement(cfg, viewer, "displacement", res.Displacement)
}

func runStrain(ctx context.Context, cfg *config.Config, opt *options) error {
	res, viewer, err := trackPair(ctx, cfg, opt)
	if err != nil {
		return err
	}
	params, err := cfg.TrackingParams()
	if err != nil {
		return err
	}
	s, err := res.Strain(params.Strain)
	if err != nil {
		return err
	}
	printStrain(s)
	if err := writeDisplacement(cfg, viewer, "displacement", res.Displacement); err != nil {
		return err
	}
	return writeStrain(cfg, viewer, "strain", s)
}

func runSeries(ctx context.Context, cfg *config.Config, opt *options) error {
	if opt.input == "" {
		return fmt.Errorf("-input frame directory is required")
	}
	series, err := frames.LoadDirectory(opt.input, frameGeometry(cfg), cfg.Processing.FrameInterval)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d frames of size %v\n", series.Len(), series.Size())

	viewer := visualization.NewViewer(cfg.Output.Directory, cfg.Output.Scale)
	tr, rec, err := newTracker(cfg, viewer)
	if err != nil {
		return err
	}
	params, err := cfg.TrackingParams()
	if err != nil {
		return err
	}
	results, err := tr.TrackSeries(ctx, series.Images(), cfg.SeriesParams())
	for _, pr := range results {
		mean := pr.MeanDisplacement()
		fixed, moving := series.Frames[pr.Fixed], series.Frames[pr.Moving]
		fmt.Printf("%s -> %s: mean displacement (%.4f, %.4f), velocity (%.4f, %.4f) per second\n",
			fixed.Filename, moving.Filename, mean[0], mean[1],
			mean[0]/(moving.Time-fixed.Time), mean[1]/(moving.Time-fixed.Time))

		prefix := fmt.Sprintf("pair_%03d", pr.Fixed)
		if werr := writeDisplacement(cfg, viewer, prefix, pr.Displacement); werr != nil {
			return werr
		}
		s, serr := pr.Strain(params.Strain)
		if serr != nil {
			return serr
		}
		if werr := writeStrain(cfg, viewer, prefix+"_strain", s); werr != nil {
			return werr
		}
	}
	if err != nil {
		return err
	}
	return writeDiagnostics(rec, cfg.Output.Directory)
}

func runBMode(ctx context.Context, cfg *config.Config, opt *options) error {
	im, err := loadFrame(opt.input, frameGeometry(cfg))
	if err != nil {
		return err
	}
	out, err := rf.BMode(ctx, im, opt.axis, cfg.Processing.NumCores)
	if err != nil {
		return err
	}
	return saveFrame(cfg, "bmode", out)
}

func runHighpass(ctx context.Context, cfg *config.Config, opt *options) error {
	im, err := loadFrame(opt.input, frameGeometry(cfg))
	if err != nil {
		return err
	}
	out, err := rf.Highpass(ctx, im, rf.HighpassParams{
		Axis:       opt.axis,
		Cutoff:     opt.cutoff,
		Order:      opt.order,
		NumWorkers: cfg.Processing.NumCores,
	})
	if err != nil {
		return err
	}
	return saveFrame(cfg, "highpass", out)
}

func runScanConvert(ctx context.Context, cfg *config.Config, opt *options) error {
	im, err := loadFrame(opt.input, field.DefaultGeometry())
	if err != nil {
		return err
	}
	geom, err := cfg.ScanGeometry(im.Size()[1])
	if err != nil {
		return err
	}
	p, err := cfg.ScanConversionParams()
	if err != nil {
		return err
	}
	if sweep, ok := geom.(scanconvert.SweptSlices); ok {
		p.Size = sweep.FitSize(im.Size(), p.Spacing)
	}
	fmt.Printf("Scan converting %v samples (%s) with %s resampling onto %v\n",
		im.Size(), cfg.ScanConversion.Geometry, p.Method, p.Size)
	out, err := scanconvert.Convert(ctx, im, geom, p)
	if err != nil {
		return err
	}
	return saveFrame(cfg, "scanconverted", out)
}

func runBackscatter(ctx context.Context, cfg *config.Config, opt *options) error {
	im, err := loadFrame(opt.input, frameGeometry(cfg))
	if err != nil {
		return err
	}
	p, err := cfg.BackscatterParams()
	if err != nil {
		return err
	}
	spectra, err := rf.Spectra(ctx, im, opt.axis, cfg.Backscatter.Window, cfg.Processing.NumCores)
	if err != nil {
		return err
	}
	fmt.Printf("Fitting %d of %d spectral components between %g and %g MHz\n",
		len(p.BandComponents(len(spectra))), len(spectra), p.BandStart, p.BandEnd)
	bsc, err := rf.ComputeBackscatter(ctx, spectra, p)
	if err != nil {
		return err
	}
	for name, out := range map[string]*field.Image{
		"bsc_average":   bsc.Average,
		"bsc_slope":     bsc.Slope,
		"bsc_intercept": bsc.Intercept,
	} {
		if err := saveFrame(cfg, name, out); err != nil {
			return err
		}
	}
	return nil
}

func runPhantom(ctx context.Context, cfg *config.Config, opt *options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	size := [2]int{opt.size, opt.size}
	ph := phantom.New(size, opt.seed, phantom.DefaultParams())
	u := phantom.Translation(field.Vector(opt.shift))
	if opt.axialStr != 0 {
		centre := [2]float64{float64(size[0]-1) / 2, float64(size[1]-1) / 2}
		stretch := phantom.Stretch(centre, field.Vector{0, opt.axialStr})
		shift := u
		u = func(x, y float64) field.Vector {
			a, b := shift(x, y), stretch(x, y)
			return field.Vector{a[0] + b[0], a[1] + b[1]}
		}
	}
	fixed, moving := ph.Pair(u)
	for i, im := range []*field.Image{fixed, moving} {
		path := filepath.Join(cfg.Output.Directory, fmt.Sprintf("frame_%03d.png", i))
		if err := frames.SaveImage(path, im); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
	}
	return nil
}

func saveFrame(cfg *config.Config, name string, im *field.Image) error {
	path := filepath.Join(cfg.Output.Directory, name+".png")
	if err := frames.SaveImage(path, im); err != nil {
		return err
	}
	raw := filepath.Join(cfg.Output.Directory, name+".raw")
	if err := frames.SaveRaw(raw, im); err != nil {
		return err
	}
	fmt.Printf("Output saved to: %s and %s\n", path, raw)
	return nil
}

func writeDisplacement(cfg *config.Config, viewer *visualization.Viewer, prefix string, disp *field.VectorField) error {
	for c, axis := range []string{"x", "y"} {
		raw := filepath.Join(cfg.Output.Directory, fmt.Sprintf("%s_%s.raw", prefix, axis))
		if err := frames.SaveRaw(raw, field.VectorComponent(disp, c)); err != nil {
			return err
		}
	}
	if !cfg.Output.WriteComponents {
		return nil
	}
	_, err := viewer.SaveDisplacement(prefix, disp)
	return err
}

func writeStrain(cfg *config.Config, viewer *visualization.Viewer, prefix string, s *strain.Result) error {
	if cfg.Output.WriteComponents {
		if _, err := viewer.SaveStrain(prefix, s.Strain); err != nil {
			return err
		}
	}
	if cfg.Output.WriteHeatMaps {
		exx := field.TensorComponent(s.Strain, 0)
		eyy := field.TensorComponent(s.Strain, 2)
		if _, err := viewer.SaveHeatMap(prefix+"_xx_plot", "Lateral strain", exx); err != nil {
			return err
		}
		if _, err := viewer.SaveHeatMap(prefix+"_yy_plot", "Axial strain", eyy); err != nil {
			return err
		}
	}
	return nil
}

func writeDiagnostics(rec *visualization.DiagnosticsRecorder, dir string) error {
	if rec == nil {
		return nil
	}
	if err := rec.Err(); err != nil {
		return err
	}
	records := rec.Records()
	path := filepath.Join(dir, "convergence.png")
	if err := visualization.ConvergencePlot(records, path); err != nil {
		fmt.Printf("No convergence plot: %v\n", err)
		return nil
	}
	fmt.Printf("Recorded %d tracking events, convergence plot saved to %s\n", len(records), path)
	return nil
}

func printLevels(levels []tracking.LevelReport) {
	fmt.Println("\nLevel summary:")
	fmt.Println("=======================================")
	for _, l := range levels {
		fmt.Printf("Level %d: image %v, block radius %v, search radius %v, %d blocks (%d degraded, %d clipped)\n",
			l.Level, l.ImageSize, l.BlockRadius, l.SearchRadius, l.Blocks, l.Degraded, l.Clipped)
		if l.Regularization.Iterations > 0 {
			fmt.Printf("- regularization: %d iterations, max change %.3g, converged %v\n",
				l.Regularization.Iterations, l.Regularization.MaxChange, l.Regularization.Converged)
		}
		if l.StrainWindow.Iterations > 0 {
			fmt.Printf("- strain window: %d passes, %d blocks revised, converged %v\n",
				l.StrainWindow.Iterations, l.StrainWindow.Revised, l.StrainWindow.Converged)
		}
		for _, w := range l.Warnings {
			fmt.Printf("- warning: %s\n", w)
		}
	}
}

func printStrain(s *strain.Result) {
	var sum field.Tensor
	n := 0
	for k, t := range s.Strain.Pix() {
		if !s.Valid[k] {
			continue
		}
		for c := range sum {
			sum[c] += t[c]
		}
		n++
	}
	if n == 0 {
		fmt.Println("No valid strain estimates")
		return
	}
	fmt.Printf("Mean strain over %d points: xx %.5f, xy %.5f, yy %.5f (%d singular)\n",
		n, sum[0]/float64(n), sum[1]/float64(n), sum[2]/float64(n), s.Singular)
}
