package reduction

import (
	"context"
	"fmt"
	"time"

	"hesxrd/internal/logging"
	"hesxrd/pkg/projection"
	"hesxrd/pkg/store"
)

// ProjectionResult is the outcome of a projection reduction.
type ProjectionResult struct {
	Projections []*projection.Projection
	Paths       []string
	RunID       int64 // 0 when not archived
}

// Projections builds the projections selected by the configuration: a
// series from MinL to MaxL when Step is positive, otherwise one at L,
// integrated when IntegrationInterval is positive.
func (r *Reducer) Projections(ctx context.Context) (*ProjectionResult, error) {
	start := time.Now()
	ex, err := projection.NewExtractor(r.exp, r.cfg.ProjectionParams())
	if err != nil {
		return nil, err
	}
	ex.SetProgressCallback(r.progress)
	src, err := r.openSource(ctx)
	if err != nil {
		return nil, err
	}

	p := r.cfg.Projection
	var ps []*projection.Projection
	switch {
	case p.Step > 0:
		logging.Logger().Info("building projection series", "minL", p.MinL, "maxL", p.MaxL, "step", p.Step, "interval", p.IntegrationInterval)
		ps, err = ex.Multi(ctx, src, p.MinL, p.MaxL, p.Step, p.IntegrationInterval)
	case p.IntegrationInterval > 0:
		logging.Logger().Info("building integrated projection", "L", p.L, "interval", p.IntegrationInterval)
		var one *projection.Projection
		one, err = ex.Integrated(ctx, src, p.L, p.IntegrationInterval)
		ps = []*projection.Projection{one}
	default:
		logging.Logger().Info("building projection", "L", p.L)
		var one *projection.Projection
		one, err = ex.Single(ctx, src, p.L)
		ps = []*projection.Projection{one}
	}
	if err != nil {
		return nil, fmt.Errorf("projection: %w", err)
	}
	r.metrics.ProjectionsBuilt.Add(float64(len(ps)))

	res := &ProjectionResult{Projections: ps}
	if res.Paths, err = r.writer.SaveProjections(ps); err != nil {
		return nil, err
	}

	id, s, err := r.createRun(ctx, store.KindProjection, src.Len(), fmt.Sprintf("%d projections", len(ps)))
	if err != nil {
		return nil, err
	}
	if s != nil {
		for _, pr := range ps {
			if _, err := s.SaveProjection(ctx, id, pr); err != nil {
				return nil, err
			}
		}
		res.RunID = id
	}
	logging.Logger().Info("projections written", "count", len(ps), "dir", r.writer.Dir())
	return res, r.finish(start)
}
