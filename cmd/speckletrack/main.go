package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"speckletrack/internal/monitoring"
	"speckletrack/pkg/config"
)

// options collects the command line; zero values leave the config file in
// charge.
type options struct {
	mode       string
	configPath string
	input      string
	fixed      string
	moving     string
	outputDir  string
	numCores   int
	levels     int
	calculator string
	warp       bool

	// highpass
	axis   int
	cutoff float64
	order  int

	// phantom
	size     int
	seed     int64
	shift    [2]float64
	axialStr float64
}

func main() {
	var opt options
	flag.StringVar(&opt.mode, "mode", "track", "One of track, series, strain, bmode, highpass, scanconvert, backscatter, phantom")
	flag.StringVar(&opt.configPath, "config", "speckletrack.yaml", "YAML configuration file (defaults are used when missing)")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	flag.StringVar(&opt.input, "input", "", "Frame directory (series) or image file (bmode, highpass, scanconvert, backscatter)")
	flag.StringVar(&opt.fixed, "fixed", "", "Fixed frame image (track, strain)")
	flag.StringVar(&opt.moving, "moving", "", "Moving frame image (track, strain)")
	flag.StringVar(&opt.outputDir, "output", "", "Output directory (overrides output.directory)")
	flag.IntVar(&opt.numCores, "cores", 0, "Number of CPU cores to use (overrides processing.numCores)")
	flag.IntVar(&opt.levels, "levels", 0, "Number of resolution levels (overrides tracking.levels)")
	flag.StringVar(&opt.calculator, "calculator", "", "Displacement calculator: interpolation, regularized or strain-windowed")
	flag.BoolVar(&opt.warp, "warp", false, "Warp blocks by the coarser level's gradient (strain-windowed only)")
	flag.IntVar(&opt.axis, "axis", 1, "Propagation axis for highpass, bmode and backscatter (0 = x, 1 = y)")
	flag.Float64Var(&opt.cutoff, "cutoff", 0.05, "Highpass cutoff in cycles per sample")
	flag.IntVar(&opt.order, "order", 4, "Highpass Butterworth order")
	flag.IntVar(&opt.size, "size", 128, "Phantom frame size in pixels")
	flag.Int64Var(&opt.seed, "seed", 1, "Phantom random seed")
	flag.Float64Var(&opt.shift[0], "dx", 2.5, "Phantom lateral translation in pixels")
	flag.Float64Var(&opt.shift[1], "dy", -1.5, "Phantom axial translation in pixels")
	flag.Float64Var(&opt.axialStr, "axial-strain", 0, "Phantom axial strain about the frame centre")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(opt.configPath); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", opt.configPath)
		return
	}

	cfg, err := config.LoadConfig(opt.configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	applyOverrides(cfg, &opt)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if !cfg.Output.Verbose {
		monitoring.SetLogger(nil)
	}

	fmt.Println("================================")
	fmt.Println("MULTI-RESOLUTION ULTRASOUND SPECKLE TRACKING")
	fmt.Printf("Mode: %s, output: %s\n", opt.mode, cfg.Output.Directory)
	fmt.Println("================================")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	run, ok := modes[opt.mode]
	if !ok {
		flag.Usage()
		os.Exit(1)
	}
	startTime := time.Now()
	if err := run(ctx, cfg, &opt); err != nil {
		log.Fatalf("%s failed: %v", opt.mode, err)
	}
	fmt.Printf("\nCompleted in %.2f seconds using %d cores\n", time.Since(startTime).Seconds(), cfg.Processing.NumCores)
}

// applyOverrides copies the flags that were set onto cfg.
func applyOverrides(cfg *config.Config, opt *options) {
	if opt.outputDir != "" {
		cfg.Output.Directory = opt.outputDir
	}
	if opt.numCores > 0 {
		cfg.Processing.NumCores = opt.numCores
	}
	if opt.levels > 0 {
		cfg.Tracking.Levels = opt.levels
	}
	if opt.calculator != "" {
		cfg.Tracking.Calculator = opt.calculator
	}
	if opt.warp {
		cfg.Tracking.WarpBlocks = true
	}
}
