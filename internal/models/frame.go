package models

import (
	"fmt"
	"image"
	"image/color"
)

// Frame is a single detector image of a rocking scan.
type Frame struct {
	// Width and Height are the frame dimensions in pixels
	Width, Height int

	// Data holds the intensities in row-major order, row 0 at the top
	Data []float64

	// Index is the position of this frame in the scan, starting at 0
	Index int

	// Name is the file or object name the frame was read from
	Name string
}

// NewFrame allocates a zeroed width x height frame.
func NewFrame(width, height int) *Frame {
	return &Frame{Width: width, Height: height, Data: make([]float64, width*height)}
}

// FrameFromImage converts any image into a frame. Gray images keep their
// full bit depth, colour images are reduced to 16-bit luminance.
func FrameFromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := NewFrame(b.Dx(), b.Dy())
	switch src := img.(type) {
	case *image.Gray16:
		for z := 0; z < f.Height; z++ {
			for x := 0; x < f.Width; x++ {
				f.Data[z*f.Width+x] = float64(src.Gray16At(b.Min.X+x, b.Min.Y+z).Y)
			}
		}
	case *image.Gray:
		for z := 0; z < f.Height; z++ {
			for x := 0; x < f.Width; x++ {
				f.Data[z*f.Width+x] = float64(src.GrayAt(b.Min.X+x, b.Min.Y+z).Y)
			}
		}
	default:
		for z := 0; z < f.Height; z++ {
			for x := 0; x < f.Width; x++ {
				g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+z)).(color.Gray16)
				f.Data[z*f.Width+x] = float64(g.Y)
			}
		}
	}
	return f
}

// At returns the intensity at (x, z).
func (f *Frame) At(x, z int) float64 { return f.Data[z*f.Width+x] }

// Set stores v at (x, z).
func (f *Frame) Set(x, z int, v float64) { f.Data[z*f.Width+x] = v }

// Row returns row z. The slice aliases the frame data.
func (f *Frame) Row(z int) []float64 { return f.Data[z*f.Width : (z+1)*f.Width] }

// SameSize reports an error unless other has the dimensions of f.
func (f *Frame) SameSize(other *Frame) error {
	if f.Width != other.Width || f.Height != other.Height {
		return fmt.Errorf("frame %q is %dx%d, expected %dx%d",
			other.Name, other.Width, other.Height, f.Width, f.Height)
	}
	return nil
}

// ProgressCallback receives progress after each processed image.
type ProgressCallback func(completed, total int, message string)
