package stack

import (
	"context"
	"fmt"

	"hesxrd/internal/logging"
	"hesxrd/internal/models"
)

// TotalImage returns the per-pixel maximum over all frames of src. It is
// the usual overview image for choosing a rod region. progress may be nil.
func TotalImage(ctx context.Context, src Source, progress models.ProgressCallback) (*models.Frame, error) {
	n := src.Len()
	if n == 0 {
		return nil, ErrEmpty
	}
	var total *models.Frame
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := src.Frame(ctx, i)
		if err != nil {
			return nil, err
		}
		if total == nil {
			total = copyFrame(f)
			total.Index, total.Name = 0, "total"
		} else {
			if err := total.SameSize(f); err != nil {
				return nil, fmtSize(err)
			}
			for j, v := range f.Data {
				if v > total.Data[j] {
					total.Data[j] = v
				}
			}
		}
		if progress != nil {
			progress(i+1, n, fmt.Sprintf("Merging image %d of %d", i+1, n))
		}
	}
	logging.Logger().Debug("total image built", "images", n, "width", total.Width, "height", total.Height)
	return total, nil
}
