package stack

import (
	"context"

	"hesxrd/internal/models"
)

// MemorySource serves frames held in memory.
type MemorySource struct {
	frames []*models.Frame
}

// NewMemorySource wraps frames, which must all have the same size. Frame
// indices are reassigned to the slice positions.
func NewMemorySource(frames ...*models.Frame) (*MemorySource, error) {
	if len(frames) == 0 {
		return nil, ErrEmpty
	}
	for i, f := range frames {
		if err := frames[0].SameSize(f); err != nil {
			return nil, fmtSize(err)
		}
		f.Index = i
	}
	return &MemorySource{frames: frames}, nil
}

func (s *MemorySource) Len() int { return len(s.frames) }

func (s *MemorySource) Frame(ctx context.Context, i int) (*models.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkIndex(i, len(s.frames)); err != nil {
		return nil, err
	}
	return s.frames[i], nil
}
