// Package visualization writes rendered projections and detector frames
// to image files.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"

	"hesxrd/internal/models"
	"hesxrd/pkg/projection"
)

// Format is an output image encoding.
type Format string

const (
	PNG  Format = "png"
	TIFF Format = "tiff"
	JPEG Format = "jpeg"
)

// ParseFormat accepts png, tif/tiff and jpg/jpeg in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "png":
		return PNG, nil
	case "tif", "tiff":
		return TIFF, nil
	case "jpg", "jpeg":
		return JPEG, nil
	}
	return "", fmt.Errorf("invalid image format: %s (must be png, tiff or jpeg)", s)
}

// Ext returns the file extension of f, including the dot.
func (f Format) Ext() string {
	switch f {
	case TIFF:
		return ".tiff"
	case JPEG:
		return ".jpg"
	}
	return ".png"
}

// Encode writes img to out in format f. TIFF output is deflate compressed
// and keeps 16-bit depth; JPEG is 8-bit.
func Encode(out io.Writer, img image.Image, f Format) error {
	switch f {
	case TIFF:
		return tiff.Encode(out, img, &tiff.Options{Compression: tiff.Deflate})
	case JPEG:
		return jpeg.Encode(out, img, &jpeg.Options{Quality: 90})
	}
	return png.Encode(out, img)
}

// FrameImage converts f to a 16-bit image, clamping intensities to the
// 16-bit range.
func FrameImage(f *models.Frame) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, f.Width, f.Height))
	for z := 0; z < f.Height; z++ {
		for x := 0; x < f.Width; x++ {
			value := uint16(math.Max(0, math.Min(65535, math.Round(f.At(x, z)))))
			img.SetGray16(x, z, color.Gray16{Y: value})
		}
	}
	return img
}

// Writer saves images into one output directory.
type Writer struct {
	dir    string
	format Format
}

// NewWriter returns a writer for dir. The directory is created on the
// first save.
func NewWriter(dir string, format Format) *Writer {
	if format == "" {
		format = PNG
	}
	return &Writer{dir: dir, format: format}
}

func (w *Writer) Dir() string { return w.dir }

func (w *Writer) Format() Format { return w.format }

// SaveImage encodes img to <dir>/<name><ext> and returns the path.
func (w *Writer) SaveImage(img image.Image, name string) (string, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(w.dir, name+w.format.Ext())
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := Encode(file, img, w.format); err != nil {
		file.Close()
		return "", fmt.Errorf("encode %s: %w", path, err)
	}
	return path, file.Close()
}

// SaveFrame writes a detector frame such as a total image.
func (w *Writer) SaveFrame(f *models.Frame, name string) (string, error) {
	return w.SaveImage(FrameImage(f), name)
}

// ProjectionName is the base file name of the projection at l.
func ProjectionName(l float64) string {
	return fmt.Sprintf("hk_L%.4f", l)
}

// SaveProjection writes the rendered projection.
func (w *Writer) SaveProjection(p *projection.Projection) (string, error) {
	return w.SaveImage(p.Image(), ProjectionName(p.L()))
}

// SaveProjections writes a sequence of projections and returns their
// paths in order.
func (w *Writer) SaveProjections(ps []*projection.Projection) ([]string, error) {
	paths := make([]string, 0, len(ps))
	for _, p := range ps {
		path, err := w.SaveProjection(p)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
