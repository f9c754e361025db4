package reduction

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"hesxrd/internal/logging"
	"hesxrd/pkg/fitting"
	"hesxrd/pkg/rod"
	"hesxrd/pkg/store"
)

// RodResult is the outcome of a rod reduction.
type RodResult struct {
	Rod          *rod.Rod
	ProfilesPath string
	TablePath    string
	RunID        int64 // 0 when not archived
}

// ParseRegion reads a region from the command line forms "x1,y1,x2,y2"
// (kind "line") and "x,y,w,h" (kind "rect").
func ParseRegion(kind, value string) (rod.Region, error) {
	fields := strings.Split(value, ",")
	if len(fields) != 4 {
		return nil, fmt.Errorf("%s %q: want four comma separated integers", kind, value)
	}
	var v [4]int
	for i, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", kind, value, err)
		}
		v[i] = n
	}
	switch kind {
	case "line":
		return rod.Line{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}, nil
	case "rect":
		if v[2] <= 0 || v[3] <= 0 {
			return nil, fmt.Errorf("rect %q: width and height must be positive", value)
		}
		return rod.Rect{X: v[0], Y: v[1], W: v[2], H: v[3]}, nil
	}
	return nil, fmt.Errorf("unknown region kind %q", kind)
}

// skipReason labels a skipped rocking curve for the metrics.
func skipReason(err error) string {
	switch {
	case errors.Is(err, fitting.ErrNotConverged):
		return "not_converged"
	case errors.Is(err, fitting.ErrNaN):
		return "nan"
	case errors.Is(err, fitting.ErrOutOfBounds):
		return "out_of_bounds"
	case errors.Is(err, fitting.ErrTooFewPoints):
		return "too_few_points"
	case errors.Is(err, rod.ErrNonPositiveIntensity):
		return "non_positive_intensity"
	}
	return "other"
}

// Rod extracts the rod along region and writes rod_profiles.txt and
// rod_table.txt into the output directory. profilesPath overrides the
// location of the profiles file when not empty.
func (r *Reducer) Rod(ctx context.Context, region rod.Region, profilesPath string) (*RodResult, error) {
	start := time.Now()
	params, err := r.cfg.RodParams()
	if err != nil {
		return nil, err
	}
	src, err := r.openSource(ctx)
	if err != nil {
		return nil, err
	}

	logging.Logger().Info("extracting rod", "images", src.Len(), "width", params.Width, "step", params.Step)
	ex := rod.NewExtractor(r.exp, params)
	ex.SetProgressCallback(r.progress)
	rd, err := ex.Extract(ctx, src, region)
	if err != nil {
		return nil, fmt.Errorf("rod extraction: %w", err)
	}
	r.metrics.RowsFitted.Add(float64(rd.Len()))
	for _, f := range rd.Failures() {
		r.metrics.RowsSkipped.WithLabelValues(skipReason(f.Err)).Inc()
	}

	res := &RodResult{Rod: rd, ProfilesPath: profilesPath}
	if res.ProfilesPath == "" {
		res.ProfilesPath = filepath.Join(r.cfg.Output.Dir, "rod_profiles.txt")
	}
	if err := writeFile(res.ProfilesPath, func(w *bufio.Writer) error { return rod.WriteProfiles(w, rd) }); err != nil {
		return nil, err
	}
	res.TablePath = filepath.Join(r.cfg.Output.Dir, "rod_table.txt")
	if err := writeFile(res.TablePath, func(w *bufio.Writer) error { return writeTable(w, rd) }); err != nil {
		return nil, err
	}

	id, s, err := r.createRun(ctx, store.KindRod, rd.Images(), fmt.Sprintf("%+v", region))
	if err != nil {
		return nil, err
	}
	if s != nil {
		if err := s.SaveRod(ctx, id, rd); err != nil {
			return nil, err
		}
		res.RunID = id
	}

	logging.Logger().Info("rod written", "rows", rd.Len(), "skipped", len(rd.Failures()), "profiles", res.ProfilesPath)
	return res, r.finish(start)
}

// writeTable writes the filtered results table as tab separated columns.
func writeTable(w *bufio.Writer, rd *rod.Rod) error {
	fmt.Fprintln(w, "L\tINT\tSTR\tERR")
	for _, row := range rd.Table() {
		fmt.Fprintf(w, "%.4f\t%.4f\t%.4f\t%.4f\n", row.L, row.Intensity, row.StructureFactor, row.Error)
	}
	return nil
}

func writeFile(path string, fill func(*bufio.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	if err := fill(w); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return file.Close()
}
