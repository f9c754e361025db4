// Package reduction runs complete reductions: it opens the frame source
// named by the run configuration, drives the rod or projection extractor
// and writes every output (profile files, images, the results archive and
// the metrics file).
package reduction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hesxrd/internal/logging"
	"hesxrd/internal/metrics"
	"hesxrd/internal/models"
	"hesxrd/pkg/config"
	"hesxrd/pkg/experiment"
	"hesxrd/pkg/stack"
	"hesxrd/pkg/store"
	"hesxrd/pkg/visualization"
)

// Reducer handles one reduction run. It is not safe for concurrent use.
type Reducer struct {
	cfg *config.Config
	exp *experiment.Experiment

	source   stack.Source
	writer   *visualization.Writer
	archive  *store.Store
	metrics  *metrics.Metrics
	progress models.ProgressCallback
}

// NewReducer creates a reducer for the beamline exp with run settings cfg.
func NewReducer(cfg *config.Config, exp *experiment.Experiment) *Reducer {
	return &Reducer{
		cfg:     cfg,
		exp:     exp,
		writer:  visualization.NewWriter(cfg.Output.Dir, cfg.ImageFormat()),
		metrics: metrics.New(),
	}
}

// SetProgressCallback installs cb, passed on to the extractors.
func (r *Reducer) SetProgressCallback(cb models.ProgressCallback) { r.progress = cb }

// SetSource replaces the configured frame source. The orientation from
// the configuration is still applied.
func (r *Reducer) SetSource(src stack.Source) { r.source = src }

func (r *Reducer) Metrics() *metrics.Metrics { return r.metrics }

// Close releases the results archive, if one was opened.
func (r *Reducer) Close() error {
	if r.archive == nil {
		return nil
	}
	err := r.archive.Close()
	r.archive = nil
	return err
}

// openSource returns the oriented, counted frame source.
func (r *Reducer) openSource(ctx context.Context) (stack.Source, error) {
	src := r.source
	if src == nil {
		var err error
		switch r.cfg.Source.Driver {
		case "s3":
			src, err = stack.OpenS3(ctx, r.cfg.S3())
		default:
			src, err = stack.OpenDir(r.cfg.Source.Dir)
		}
		if err != nil {
			return nil, err
		}
	}
	if !r.cfg.Orientation.IsIdentity() {
		oriented, err := stack.NewOriented(src, r.cfg.Orientation)
		if err != nil {
			return nil, err
		}
		src = oriented
	}
	logging.Logger().Info("frame source ready", "driver", r.cfg.Source.Driver, "images", src.Len())
	return &countingSource{Source: src, metrics: r.metrics}, nil
}

// countingSource counts every frame handed out.
type countingSource struct {
	stack.Source
	metrics *metrics.Metrics
}

func (c *countingSource) Frame(ctx context.Context, i int) (*models.Frame, error) {
	f, err := c.Source.Frame(ctx, i)
	if err == nil {
		c.metrics.ImagesProcessed.Inc()
	}
	return f, err
}

// openArchive opens the results archive on first use, or returns nil
// when archiving is disabled.
func (r *Reducer) openArchive(ctx context.Context) (*store.Store, error) {
	if !r.cfg.Storage.Enabled {
		return nil, nil
	}
	if r.archive == nil {
		s, err := store.Open(ctx, r.cfg.Storage.Driver, r.cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		r.archive = s
	}
	return r.archive, nil
}

// createRun records a run in the archive. It returns 0 when archiving is
// disabled.
func (r *Reducer) createRun(ctx context.Context, kind string, images int, note string) (int64, *store.Store, error) {
	s, err := r.openArchive(ctx)
	if err != nil || s == nil {
		return 0, nil, err
	}
	var buf bytes.Buffer
	if err := r.exp.Format(&buf); err != nil {
		return 0, nil, err
	}
	id, err := s.CreateRun(ctx, kind, images, buf.String(), note)
	if err != nil {
		return 0, nil, err
	}
	return id, s, nil
}

// finish records the run time and writes the metrics file if configured.
func (r *Reducer) finish(start time.Time) error {
	r.metrics.RunSeconds.Set(time.Since(start).Seconds())
	path := r.cfg.Output.MetricsFile
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create metrics directory: %w", err)
		}
	}
	return r.metrics.WriteFile(path)
}

// Total writes the per-pixel maximum of the source as name and returns
// the file path.
func (r *Reducer) Total(ctx context.Context, name string) (string, error) {
	start := time.Now()
	src, err := r.openSource(ctx)
	if err != nil {
		return "", err
	}
	logging.Logger().Info("building total image", "images", src.Len())
	total, err := stack.TotalImage(ctx, src, r.progress)
	if err != nil {
		return "", err
	}
	path, err := r.writer.SaveFrame(total, name)
	if err != nil {
		return "", err
	}
	return path, r.finish(start)
}
