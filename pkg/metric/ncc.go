package metric

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"speckletrack/pkg/field"
)

// varianceFloor is the relative size below which a sum of squared
// deviations is treated as zero variance.
const varianceFloor = 1e-12

// MetricImage holds one similarity score per candidate offset. Offsets
// describes the candidate displacements in moving-image pixels relative to
// the block centre: Scores.At(i, j) is the score of offset
// Offsets.Index + (i, j).
type MetricImage struct {
	Offsets field.Region
	Scores  *field.Image
	// Degenerate is set when no offset had a defined correlation because
	// the block or every window had zero variance. The scores are all 0.
	Degenerate bool
}

// At returns the score at local metric index (i, j).
func (m *MetricImage) At(i, j int) float64 { return m.Scores.At(i, j) }

// OffsetOf converts a local metric index to a displacement in pixels.
func (m *MetricImage) OffsetOf(i, j int) [2]int {
	return [2]int{m.Offsets.Index[0] + i, m.Offsets.Index[1] + j}
}

// NormalizedCrossCorrelation scores block against moving for every integer
// offset in offsets:
//
//	NCC(d) = Σ (F(x)-μF)(M(x+d)-μM) / sqrt(Σ(F(x)-μF)² · Σ(M(x+d)-μM)²)
//
// The moving-window sums Σ M and Σ M² are read from summed-area tables over
// the search extent, built on samples shifted by the extent mean, so each
// offset costs one pass over the block for the cross term only. A block or
// window with zero variance scores 0. Scores are clamped to [-1, 1] and
// non-finite intermediates become 0.
func NormalizedCrossCorrelation(block Block, moving *field.Image, offsets field.Region) (*MetricImage, error) {
	if offsets.Empty() {
		return nil, fmt.Errorf("%w: empty offset range", ErrNoPeakFound)
	}
	bs := block.Size()
	n := bs[0] * bs[1]
	if len(block.Values) != n {
		return nil, fmt.Errorf("%w: block holds %d samples, want %d", field.ErrSizeMismatch, len(block.Values), n)
	}

	extent := field.Region{
		Index: [2]int{
			block.Center[0] + offsets.Index[0] - block.Radius[0],
			block.Center[1] + offsets.Index[1] - block.Radius[1],
		},
		Size: [2]int{offsets.Size[0] + bs[0] - 1, offsets.Size[1] + bs[1] - 1},
	}
	if !moving.Bounds().ContainsRegion(extent) {
		return nil, fmt.Errorf("%w: search extent %+v in image %v", ErrOutsideImage, extent, moving.Size())
	}

	scores := field.NewImage(offsets.Size, field.Geometry{
		Origin:    [2]float64{float64(offsets.Index[0]), float64(offsets.Index[1])},
		Spacing:   [2]float64{1, 1},
		Direction: [2][2]float64{{1, 0}, {0, 1}},
	})
	out := &MetricImage{Offsets: offsets, Scores: scores}

	// Centre the fixed block once; the cross term then needs no moving mean
	// because Σ(F-μF) = 0.
	mean := stat.Mean(block.Values, nil)
	centred := make([]float64, n)
	copy(centred, block.Values)
	floats.AddConst(-mean, centred)
	sff := floats.Dot(centred, centred)
	if sff <= varianceFloor*floats.Dot(block.Values, block.Values) {
		out.Degenerate = true
		return out, nil
	}

	ew, eh := extent.Size[0], extent.Size[1]
	buf := make([]float64, ew*eh)
	for j := 0; j < eh; j++ {
		off := moving.Offset(extent.Index[0], extent.Index[1]+j)
		copy(buf[j*ew:(j+1)*ew], moving.Pix()[off:off+ew])
	}
	ref := stat.Mean(buf, nil)
	floats.AddConst(-ref, buf)

	s1, s2 := summedAreaTables(buf, ew, eh)
	stride := ew + 1
	rect := func(t []float64, x, y int) float64 {
		x1, y1 := x+bs[0], y+bs[1]
		return t[y1*stride+x1] - t[y*stride+x1] - t[y1*stride+x] + t[y*stride+x]
	}

	fn := float64(n)
	scored := 0
	for oy := 0; oy < offsets.Size[1]; oy++ {
		for ox := 0; ox < offsets.Size[0]; ox++ {
			sum := rect(s1, ox, oy)
			sumSq := rect(s2, ox, oy)
			smm := sumSq - sum*sum/fn
			if smm <= varianceFloor*sumSq {
				continue
			}
			scored++
			var cross float64
			for by := 0; by < bs[1]; by++ {
				row := buf[(oy+by)*ew+ox : (oy+by)*ew+ox+bs[0]]
				cross += floats.Dot(centred[by*bs[0]:(by+1)*bs[0]], row)
			}
			v := cross / math.Sqrt(sff*smm)
			switch {
			case math.IsNaN(v) || math.IsInf(v, 0):
				v = 0
			case v > 1:
				v = 1
			case v < -1:
				v = -1
			}
			scores.Set(ox, oy, v)
		}
	}
	out.Degenerate = scored == 0
	return out, nil
}

// summedAreaTables returns (w+1) x (h+1) tables of running sums of v and
// v², with a zero first row and column.
func summedAreaTables(v []float64, w, h int) ([]float64, []float64) {
	stride := w + 1
	s1 := make([]float64, stride*(h+1))
	s2 := make([]float64, stride*(h+1))
	for y := 0; y < h; y++ {
		var row1, row2 float64
		for x := 0; x < w; x++ {
			a := v[y*w+x]
			row1 += a
			row2 += a * a
			s1[(y+1)*stride+x+1] = s1[y*stride+x+1] + row1
			s2[(y+1)*stride+x+1] = s2[y*stride+x+1] + row2
		}
	}
	return s1, s2
}
