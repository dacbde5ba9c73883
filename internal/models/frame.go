package models

import (
	"speckletrack/pkg/field"
)

// Frame is a single ultrasound frame with metadata
type Frame struct {
	// Image holds the intensities in physical geometry
	Image *field.Image

	// Index is the position of this frame in the series
	Index int

	// Filename is the original filename of the frame, empty for
	// synthesized frames
	Filename string

	// Time is the acquisition time in seconds relative to the first frame
	Time float64
}

// FrameSeries is an ordered acquisition of same-sized frames
type FrameSeries struct {
	Frames []Frame

	// FrameInterval is the time between consecutive frames in seconds
	FrameInterval float64
}

// Len returns the number of frames
func (s *FrameSeries) Len() int { return len(s.Frames) }

// Size returns the frame size, or zero for an empty series
func (s *FrameSeries) Size() [2]int {
	if len(s.Frames) == 0 {
		return [2]int{}
	}
	return s.Frames[0].Image.Size()
}

// Images returns the frame images in series order
func (s *FrameSeries) Images() []*field.Image {
	out := make([]*field.Image, len(s.Frames))
	for i, f := range s.Frames {
		out[i] = f.Image
	}
	return out
}

// Append adds an image as the next frame
func (s *FrameSeries) Append(im *field.Image, filename string) {
	idx := len(s.Frames)
	s.Frames = append(s.Frames, Frame{
		Image:    im,
		Index:    idx,
		Filename: filename,
		Time:     float64(idx) * s.FrameInterval,
	})
}
