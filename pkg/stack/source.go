// Package stack provides the detector image stacks of a rocking scan.
//
// A Source hands out frames one at a time so that extractors never hold
// more than the frame they are working on. Frames can come from a local
// directory, an S3 bucket or memory, and any source can be wrapped with
// Oriented to apply the rotation and flips the detector mounting needs.
package stack

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "golang.org/x/image/tiff"

	"hesxrd/internal/models"
)

var (
	// ErrEmpty is returned when a source holds no frames.
	ErrEmpty = errors.New("stack: no images found")

	// ErrIndex is returned for a frame index outside [0, Len()).
	ErrIndex = errors.New("stack: frame index out of range")

	// ErrSizeMismatch is returned when frames of one stack differ in size.
	ErrSizeMismatch = errors.New("stack: frames differ in size")
)

// Source is an ordered, index addressable sequence of equally sized frames.
type Source interface {
	Len() int
	Frame(ctx context.Context, i int) (*models.Frame, error)
}

var imageExtensions = map[string]bool{
	".tif":  true,
	".tiff": true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

func isImageName(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// sortByNumber orders names by the number embedded in their base name,
// falling back to lexical order for equal numbers.
func sortByNumber(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		ni, nj := extractNumber(names[i]), extractNumber(names[j])
		if ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})
}

// extractNumber returns the last run of digits in the base name, so that
// "scan3_00012.tif" sorts by 12.
func extractNumber(name string) int {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	end := -1
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] >= '0' && base[i] <= '9' {
			end = i + 1
			break
		}
	}
	if end < 0 {
		return 0
	}
	start := end - 1
	for start > 0 && base[start-1] >= '0' && base[start-1] <= '9' {
		start--
	}
	n, err := strconv.Atoi(base[start:end])
	if err != nil {
		return 0
	}
	return n
}

func decodeFrame(r io.Reader, name string, index int) (*models.Frame, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("stack: decode %s: %w", name, err)
	}
	f := models.FrameFromImage(img)
	f.Index = index
	f.Name = name
	return f, nil
}

func checkIndex(i, n int) error {
	if i < 0 || i >= n {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrIndex, i, n)
	}
	return nil
}

func fmtSize(err error) error {
	return fmt.Errorf("%w: %v", ErrSizeMismatch, err)
}
