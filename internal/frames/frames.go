// Package frames reads and writes frame images and field components.
package frames

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"

	"speckletrack/internal/models"
	"speckletrack/pkg/field"
)

// supported lists the frame file extensions LoadDirectory picks up.
var supported = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
}

// LoadDirectory loads every frame image in dir, ordered by the number in
// the file name, and gives each the geometry geom. All frames must share the
// same size.
func LoadDirectory(dir string, geom field.Geometry, frameInterval float64) (*models.FrameSeries, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if supported[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no frame images found in %s", dir)
	}

	// Acquisition order follows the frame number, not the lexical order
	// ("frame10" after "frame9").
	sort.SliceStable(names, func(i, j int) bool {
		ni, nj := extractNumber(names[i]), extractNumber(names[j])
		if ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})

	series := &models.FrameSeries{FrameInterval: frameInterval}
	for _, name := range names {
		img, err := LoadImage(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to load frame %s: %w", name, err)
		}
		im := ImageToGrid(img, geom)
		if series.Len() > 0 && im.Size() != series.Size() {
			return nil, fmt.Errorf("%w: frame %s is %v, series is %v", field.ErrSizeMismatch, name, im.Size(), series.Size())
		}
		series.Append(im, name)
	}
	return series, nil
}

// extractNumber extracts the digits of a filename as one number, 0 when
// there are none
func extractNumber(filename string) int {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() == 0 {
		return 0
	}
	num, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return num
}

// LoadImage decodes a PNG, JPEG or TIFF file.
func LoadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return png.Decode(file)
	case ".jpg", ".jpeg":
		return jpeg.Decode(file)
	case ".tif", ".tiff":
		return tiff.Decode(file)
	}
	return nil, fmt.Errorf("unsupported image format %q", filepath.Ext(path))
}

// ImageToGrid converts an image to gray levels in [0, 1].
func ImageToGrid(img image.Image, geom field.Geometry) *field.Image {
	b := img.Bounds()
	im := field.NewImage([2]int{b.Dx(), b.Dy()}, geom)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			im.Set(x, y, float64(g.Y)/65535.0)
		}
	}
	return im
}

// GridToImage maps im linearly onto 16-bit gray, stretching [lo, hi] to
// the full range. lo == hi uses the data range.
func GridToImage(im *field.Image, lo, hi float64) *image.Gray16 {
	if lo == hi {
		lo, hi = Range(im.Pix())
	}
	size := im.Size()
	out := image.NewGray16(image.Rect(0, 0, size[0], size[1]))
	scale := 0.0
	if hi > lo {
		scale = 65535.0 / (hi - lo)
	}
	for y := 0; y < size[1]; y++ {
		for x := 0; x < size[0]; x++ {
			v := (im.At(x, y) - lo) * scale
			v = math.Max(0, math.Min(65535, v))
			out.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(v))})
		}
	}
	return out
}

// Range returns the smallest and largest finite values of data.
func Range(data []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}

// SaveImage writes im as a PNG or TIFF, chosen by the file extension,
// stretched to its data range.
func SaveImage(path string, im *field.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer file.Close()

	img := GridToImage(im, 0, 0)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		err = tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		err = png.Encode(file, img)
	}
	if err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return nil
}

// SaveRaw writes the samples of im as little-endian float32, row by row.
// The companion header records size, origin and spacing.
func SaveRaw(path string, im *field.Image) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create raw file: %w", err)
	}
	defer file.Close()

	buf := make([]float32, im.Len())
	for i, v := range im.Pix() {
		buf[i] = float32(v)
	}
	if err := binary.Write(file, binary.LittleEndian, buf); err != nil {
		return fmt.Errorf("failed to write raw data: %w", err)
	}

	size, origin, spacing := im.Size(), im.Origin(), im.Spacing()
	header := fmt.Sprintf("size %d %d\norigin %g %g\nspacing %g %g\ntype float32 little-endian\n",
		size[0], size[1], origin[0], origin[1], spacing[0], spacing[1])
	return os.WriteFile(strings.TrimSuffix(path, filepath.Ext(path))+".txt", []byte(header), 0644)
}

// LoadRaw reads a file written by SaveRaw into a grid of the given size.
func LoadRaw(path string, size [2]int, geom field.Geometry) (*field.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	buf := make([]float32, size[0]*size[1])
	if err := binary.Read(file, binary.LittleEndian, buf); err != nil {
		return nil, fmt.Errorf("failed to read raw data: %w", err)
	}
	data := make([]float64, len(buf))
	for i, v := range buf {
		data[i] = float64(v)
	}
	return field.NewImageFromData(size, geom, data)
}
