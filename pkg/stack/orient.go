package stack

import (
	"context"
	"errors"
	"fmt"

	"hesxrd/internal/models"
)

// ErrRotation is returned for rotations that are not a multiple of 90°.
var ErrRotation = errors.New("stack: rotation must be a multiple of 90 degrees")

// Orientation is the preprocessing applied to every raw frame before
// reduction: a clockwise rotation, then a horizontal and a vertical flip.
type Orientation struct {
	Rotate         int  `yaml:"rotate"`
	FlipHorizontal bool `yaml:"flipHorizontal"`
	FlipVertical   bool `yaml:"flipVertical"`
}

// IsIdentity reports whether o leaves frames unchanged.
func (o Orientation) IsIdentity() bool {
	return normalizeRotation(o.Rotate) == 0 && !o.FlipHorizontal && !o.FlipVertical
}

func (o Orientation) validate() error {
	if o.Rotate%90 != 0 {
		return fmt.Errorf("%w: got %d", ErrRotation, o.Rotate)
	}
	return nil
}

func normalizeRotation(deg int) int {
	return ((deg % 360) + 360) % 360
}

// Apply returns a reoriented copy of f.
func (o Orientation) Apply(f *models.Frame) (*models.Frame, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	out := f
	for i := 0; i < normalizeRotation(o.Rotate)/90; i++ {
		out = rotateClockwise(out)
	}
	if out == f {
		out = copyFrame(f)
	}
	if o.FlipHorizontal {
		for z := 0; z < out.Height; z++ {
			row := out.Row(z)
			for i, j := 0, len(row)-1; i < j; i, j = i+1, j-1 {
				row[i], row[j] = row[j], row[i]
			}
		}
	}
	if o.FlipVertical {
		for top, bottom := 0, out.Height-1; top < bottom; top, bottom = top+1, bottom-1 {
			a, b := out.Row(top), out.Row(bottom)
			for x := range a {
				a[x], b[x] = b[x], a[x]
			}
		}
	}
	return out, nil
}

func copyFrame(f *models.Frame) *models.Frame {
	out := &models.Frame{Width: f.Width, Height: f.Height, Index: f.Index, Name: f.Name}
	out.Data = append([]float64(nil), f.Data...)
	return out
}

func rotateClockwise(f *models.Frame) *models.Frame {
	out := models.NewFrame(f.Height, f.Width)
	out.Index, out.Name = f.Index, f.Name
	for z := 0; z < out.Height; z++ {
		for x := 0; x < out.Width; x++ {
			out.Set(x, z, f.At(z, f.Height-1-x))
		}
	}
	return out
}

// Oriented applies an Orientation to every frame of a source.
type Oriented struct {
	src Source
	o   Orientation
}

// NewOriented wraps src. It fails if o is not a valid orientation.
func NewOriented(src Source, o Orientation) (*Oriented, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	return &Oriented{src: src, o: o}, nil
}

func (s *Oriented) Len() int { return s.src.Len() }

func (s *Oriented) Frame(ctx context.Context, i int) (*models.Frame, error) {
	f, err := s.src.Frame(ctx, i)
	if err != nil {
		return nil, err
	}
	if s.o.IsIdentity() {
		return f, nil
	}
	return s.o.Apply(f)
}
