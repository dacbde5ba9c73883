package visualization

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"speckletrack/pkg/field"
	"speckletrack/pkg/strain"
	"speckletrack/pkg/tracking"
)

// Record is one observed tracking event.
type Record struct {
	Level     int
	Stage     tracking.Stage
	Iteration int
	// MeanMagnitude is the mean displacement length over the field.
	MeanMagnitude float64
	// MaxChange is the largest block change since the previous event of
	// the same level, 0 for the first.
	MaxChange float64
	// MaxStrain is the largest absolute strain component when the event
	// carried strain, NaN otherwise.
	MaxStrain float64
}

// DiagnosticsRecorder is a tracking.Observer that keeps per-event field
// statistics and, with a viewer, writes a strain heat map at the end of
// every level that carries strain.
type DiagnosticsRecorder struct {
	mu      sync.Mutex
	viewer  *Viewer
	records []Record
	last    map[int]*field.VectorField
	err     error
}

// NewDiagnosticsRecorder creates a recorder. viewer may be nil.
func NewDiagnosticsRecorder(viewer *Viewer) *DiagnosticsRecorder {
	return &DiagnosticsRecorder{viewer: viewer, last: make(map[int]*field.VectorField)}
}

// Observe implements tracking.Observer.
func (d *DiagnosticsRecorder) Observe(e tracking.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec := Record{Level: e.Level, Stage: e.Stage, Iteration: e.Iteration, MaxStrain: math.NaN()}
	var sum float64
	for _, u := range e.Displacement.Pix() {
		sum += math.Hypot(u[0], u[1])
	}
	if n := e.Displacement.Len(); n > 0 {
		rec.MeanMagnitude = sum / float64(n)
	}
	if prev := d.last[e.Level]; prev != nil && field.SameShape(prev, e.Displacement) {
		for k, u := range e.Displacement.Pix() {
			p := prev.Pix()[k]
			rec.MaxChange = math.Max(rec.MaxChange, math.Hypot(u[0]-p[0], u[1]-p[1]))
		}
	}
	d.last[e.Level] = e.Displacement.Clone()

	if e.Strain != nil {
		rec.MaxStrain = 0
		for k, t := range e.Strain.Strain.Pix() {
			if e.Strain.Valid[k] {
				rec.MaxStrain = math.Max(rec.MaxStrain, strain.MaxAbs(t))
			}
		}
		if e.Stage == tracking.StageLevel && d.viewer != nil && d.err == nil {
			name := fmt.Sprintf("level_%02d_strain_xx", e.Level)
			title := fmt.Sprintf("Level %d axial strain", e.Level)
			if _, err := d.viewer.SaveHeatMap(name, title, field.TensorComponent(e.Strain.Strain, 0)); err != nil {
				d.err = err
			}
		}
	}
	d.records = append(d.records, rec)
}

// Records returns a copy of the recorded events in arrival order.
func (d *DiagnosticsRecorder) Records() []Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Record(nil), d.records...)
}

// Err returns the first error hit while writing heat maps.
func (d *DiagnosticsRecorder) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// ConvergencePlot plots the per-iteration field change of every level and
// stage that iterated, one line each, and saves it to path.
func ConvergencePlot(records []Record, path string) error {
	type key struct {
		level int
		stage tracking.Stage
	}
	series := make(map[key]plotter.XYs)
	for _, r := range records {
		if r.Stage == tracking.StageLevel {
			continue
		}
		k := key{r.Level, r.Stage}
		series[k] = append(series[k], plotter.XY{X: float64(r.Iteration), Y: r.MaxChange})
	}
	if len(series) == 0 {
		return fmt.Errorf("no iterative stages to plot")
	}
	keys := make([]key, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].level != keys[j].level {
			return keys[i].level < keys[j].level
		}
		return keys[i].stage < keys[j].stage
	})

	p := plot.New()
	p.Title.Text = "Displacement change per iteration"
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Max change"
	p.Legend.Top = true

	colors := generateColors(len(keys))
	for i, k := range keys {
		line, err := plotter.NewLine(series[k])
		if err != nil {
			return fmt.Errorf("level %d %s: %w", k.level, k.stage, err)
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("level %d %s", k.level, k.stage), line)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}

// generateColors spreads n hues around the color wheel.
func generateColors(n int) []color.Color {
	out := make([]color.Color, n)
	for i := range out {
		h := float64(i) / float64(max(n, 1))
		out[i] = hsv(h, 0.8, 0.85)
	}
	return out
}

func hsv(h, s, v float64) color.Color {
	i := math.Floor(h * 6)
	f := h*6 - i
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)
	var r, g, b float64
	switch int(i) % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return color.RGBA{R: uint8(r * 255), G: uint8(g * 255), B: uint8(b * 255), A: 255}
}
