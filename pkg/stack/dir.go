package stack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"hesxrd/internal/logging"
	"hesxrd/internal/models"
)

// DirSource reads TIFF, PNG and JPEG frames from a directory, ordered by
// the frame number in their file names.
type DirSource struct {
	dir   string
	files []string
}

// OpenDir lists the image files of dir.
func OpenDir(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("stack: read dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !isImageName(e.Name()) {
			continue
		}
		files = append(files, e.Name())
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrEmpty, dir)
	}
	sortByNumber(files)
	logging.Logger().Info("image stack opened", "dir", dir, "images", len(files))
	return &DirSource{dir: dir, files: files}, nil
}

func (s *DirSource) Len() int { return len(s.files) }

// Names returns the file names in frame order.
func (s *DirSource) Names() []string { return append([]string(nil), s.files...) }

func (s *DirSource) Frame(ctx context.Context, i int) (*models.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkIndex(i, len(s.files)); err != nil {
		return nil, err
	}
	path := filepath.Join(s.dir, s.files[i])
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("stack: %w", err)
	}
	defer f.Close()
	return decodeFrame(f, s.files[i], i)
}
