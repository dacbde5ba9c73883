// Package visualization renders displacement and strain fields as images
// and plots, and records tracking diagnostics.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"speckletrack/pkg/field"
)

// Viewer writes field components to an output directory.
type Viewer struct {
	// outputDir receives every file the viewer writes
	outputDir string

	// scale is the pixel magnification of component images; block
	// lattices are small, so previews are enlarged
	scale int
}

// NewViewer creates a viewer writing to outputDir. Scale values below one
// are treated as one.
func NewViewer(outputDir string, scale int) *Viewer {
	return &Viewer{outputDir: outputDir, scale: max(scale, 1)}
}

// OutputDir returns the directory the viewer writes to.
func (v *Viewer) OutputDir() string { return v.outputDir }

// symmetricRange returns ±max|x| over the finite samples of data, so that
// zero maps to the centre of a diverging palette.
func symmetricRange(data []float64) (float64, float64) {
	m := 0.0
	for _, x := range data {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			m = math.Max(m, math.Abs(x))
		}
	}
	if m == 0 {
		m = 1
	}
	return -m, m
}

func divergingMap(lo, hi float64) palette.ColorMap {
	cm := moreland.SmoothBlueRed()
	cm.SetMax(hi)
	cm.SetMin(lo)
	return cm
}

// ColorImage maps im through a blue-red diverging palette centred on zero.
// Non-finite samples are black.
func ColorImage(im *field.Image) *image.RGBA {
	lo, hi := symmetricRange(im.Pix())
	cm := divergingMap(lo, hi)
	size := im.Size()
	img := image.NewRGBA(image.Rect(0, 0, size[0], size[1]))
	for y := 0; y < size[1]; y++ {
		for x := 0; x < size[0]; x++ {
			val := im.At(x, y)
			c, err := cm.At(math.Max(lo, math.Min(hi, val)))
			if err != nil || math.IsNaN(val) || math.IsInf(val, 0) {
				c = color.Black
			}
			img.Set(x, y, c)
		}
	}
	return img
}

// SaveComponent writes im as a color-mapped PNG named name.png, enlarged by
// the viewer scale.
func (v *Viewer) SaveComponent(name string, im *field.Image) (string, error) {
	src := ColorImage(im)
	size := im.Size()
	dst := image.NewRGBA(image.Rect(0, 0, size[0]*v.scale, size[1]*v.scale))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	path := filepath.Join(v.outputDir, name+".png")
	if err := os.MkdirAll(v.outputDir, 0755); err != nil {
		return "", err
	}
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	if err := png.Encode(file, dst); err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return path, nil
}

// SaveDisplacement writes the two displacement components as
// prefix_x.png and prefix_y.png.
func (v *Viewer) SaveDisplacement(prefix string, disp *field.VectorField) ([]string, error) {
	var paths []string
	for c, suffix := range []string{"x", "y"} {
		p, err := v.SaveComponent(prefix+"_"+suffix, field.VectorComponent(disp, c))
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// SaveStrain writes the three strain tensor components as prefix_xx.png,
// prefix_xy.png and prefix_yy.png.
func (v *Viewer) SaveStrain(prefix string, tf *field.TensorField) ([]string, error) {
	var paths []string
	for c, suffix := range []string{"xx", "xy", "yy"} {
		p, err := v.SaveComponent(prefix+"_"+suffix, field.TensorComponent(tf, c))
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// gridXYZ adapts an image to plotter.GridXYZ in physical coordinates.
type gridXYZ struct {
	im *field.Image
}

func (g gridXYZ) Dims() (c, r int) {
	size := g.im.Size()
	return size[0], size[1]
}

func (g gridXYZ) Z(c, r int) float64 { return g.im.At(c, r) }

func (g gridXYZ) X(c int) float64 { return g.im.IndexToPoint(c, 0)[0] }

func (g gridXYZ) Y(r int) float64 { return g.im.IndexToPoint(0, r)[1] }

// SaveHeatMap plots im as a heat map with physical axes and writes it to
// name.png.
func (v *Viewer) SaveHeatMap(name, title string, im *field.Image) (string, error) {
	lo, hi := symmetricRange(im.Pix())
	hm := plotter.NewHeatMap(gridXYZ{im}, divergingMap(lo, hi).Palette(255))
	hm.Min, hm.Max = lo, hi
	hm.NaN = color.Black

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Lateral"
	p.Y.Label.Text = "Axial"
	p.Add(hm)

	if err := os.MkdirAll(v.outputDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(v.outputDir, name+".png")
	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return "", fmt.Errorf("failed to save heat map %s: %w", path, err)
	}
	return path, nil
}
