package projection

import (
	"context"
	"errors"
	"fmt"
	"math"

	"hesxrd/internal/logging"
	"hesxrd/internal/models"
	"hesxrd/pkg/experiment"
	"hesxrd/pkg/stack"
)

var (
	ErrLOutOfRange      = errors.New("projection: L is not a finite number")
	ErrImproperInterval = errors.New("projection: integration interval improperly selected")
	ErrDetectorMismatch = errors.New("projection: frame size differs from the detector resolution")
	ErrBadAzimuthalStep = errors.New("projection: azimuthal step must be positive")
	ErrBadMultiRange    = errors.New("projection: maximum L below minimum L")
)

// Params describe the scan. AzimuthalStep is the rotation between two
// consecutive images in degrees; FirstImage is the 1-based number of the
// first image of the source within the full scan.
type Params struct {
	Resolution    int
	AzimuthalStep float64
	FirstImage    int
}

// Extractor builds projections from a rocking scan. It is not safe for
// concurrent use.
type Extractor struct {
	exp      *experiment.Experiment
	params   Params
	progress models.ProgressCallback
}

// NewExtractor validates params and returns an extractor for exp.
func NewExtractor(exp *experiment.Experiment, params Params) (*Extractor, error) {
	if params.Resolution <= 0 {
		params.Resolution = DefaultResolution
	}
	if params.FirstImage < 1 {
		params.FirstImage = 1
	}
	if !(params.AzimuthalStep > 0) {
		return nil, fmt.Errorf("%w: %v", ErrBadAzimuthalStep, params.AzimuthalStep)
	}
	return &Extractor{exp: exp, params: params}, nil
}

// SetProgressCallback installs cb, called after every image.
func (e *Extractor) SetProgressCallback(cb models.ProgressCallback) { e.progress = cb }

func (e *Extractor) Params() Params { return e.params }

// target is one detector row folded into one projection.
type target struct {
	row  int
	proj *Projection
}

// checkL rejects non-finite L. Finite values beyond the detector coverage
// are accepted and end up on the clamped boundary row.
func (e *Extractor) checkL(l float64) error {
	if math.IsNaN(l) || math.IsInf(l, 0) {
		return fmt.Errorf("%w: %v", ErrLOutOfRange, l)
	}
	if b := e.exp.Bounds(); l < b.LMin || l > b.LMax {
		logging.Logger().Warn("L outside the detector coverage, using the boundary row",
			"L", l, "LMin", b.LMin, "LMax", b.LMax)
	}
	return nil
}

// Single projects the detector row that samples l.
func (e *Extractor) Single(ctx context.Context, src stack.Source, l float64) (*Projection, error) {
	if err := e.checkL(l); err != nil {
		return nil, err
	}
	t := target{row: e.exp.RowForL(l), proj: New(e.exp.Bounds(), l, e.params.Resolution)}
	if err := e.accumulate(ctx, src, []target{t}); err != nil {
		return nil, err
	}
	return t.proj, nil
}

// Integrated sums the projections of every detector row inside
// [l-interval/2, l+interval/2]. A window reaching past the covered L range
// is shifted back inside it.
func (e *Extractor) Integrated(ctx context.Context, src stack.Source, l, interval float64) (*Projection, error) {
	if err := e.checkL(l); err != nil {
		return nil, err
	}
	if err := e.checkInterval(interval, e.exp.Bounds().LMax); err != nil {
		return nil, err
	}
	ts := e.window(l, interval)
	if err := e.accumulate(ctx, src, ts); err != nil {
		return nil, err
	}
	return Sum(projections(ts), l)
}

// Multi returns projections at minL, minL+step, ... up to maxL, each
// integrated over interval. An interval of 0 takes a single row per
// projection. All projections are built in one pass over the images.
func (e *Extractor) Multi(ctx context.Context, src stack.Source, minL, maxL, step, interval float64) ([]*Projection, error) {
	if err := e.checkL(minL); err != nil {
		return nil, err
	}
	if err := e.checkL(maxL); err != nil {
		return nil, err
	}
	if maxL < minL {
		return nil, fmt.Errorf("%w: %.4f < %.4f", ErrBadMultiRange, maxL, minL)
	}
	if step < e.exp.PixelSizeRLU() {
		return nil, fmt.Errorf("%w: step %.4f below one pixel (%.4f)", ErrImproperInterval, step, e.exp.PixelSizeRLU())
	}
	if interval != 0 {
		if err := e.checkInterval(interval, step); err != nil {
			return nil, err
		}
	}

	n := int(math.Floor((maxL-minL)/step+1e-9)) + 1
	groups := make([][]target, n)
	var all []target
	for i := range groups {
		l := minL + float64(i)*step
		if interval == 0 {
			groups[i] = []target{{row: e.exp.RowForL(l), proj: New(e.exp.Bounds(), l, e.params.Resolution)}}
		} else {
			groups[i] = e.window(l, interval)
		}
		all = append(all, groups[i]...)
	}
	if err := e.accumulate(ctx, src, all); err != nil {
		return nil, err
	}

	out := make([]*Projection, n)
	for i, g := range groups {
		l := minL + float64(i)*step
		if len(g) == 1 {
			out[i] = g[0].proj
			continue
		}
		p, err := Sum(projections(g), l)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func (e *Extractor) checkInterval(interval, upper float64) error {
	px := e.exp.PixelSizeRLU()
	if interval < px || interval > upper || math.IsNaN(interval) {
		return fmt.Errorf("%w: %.4f not in [%.4f, %.4f]", ErrImproperInterval, interval, px, upper)
	}
	return nil
}

// window returns one target per detector row between l-interval/2 and
// l+interval/2, spaced by one pixel in L.
func (e *Extractor) window(l, interval float64) []target {
	b := e.exp.Bounds()
	lo, hi := l-interval/2, l+interval/2
	switch {
	case lo <= b.LMin:
		lo, hi = b.LMin, b.LMin+interval
	case hi >= b.LMax:
		lo, hi = b.LMax-interval, b.LMax
	}
	px := e.exp.PixelSizeRLU()
	_, cz := e.exp.CenterPixel()
	_, sizeZ := e.exp.DetectorResolution()
	base := int(math.Round(float64(cz) - lo*float64(cz)/b.LMax))

	n := int(math.Floor((hi-lo)/px+1e-9)) + 1
	ts := make([]target, n)
	for k := range ts {
		row := min(max(base-k, 0), sizeZ-1)
		ts[k] = target{row: row, proj: New(b, lo+float64(k)*px, e.params.Resolution)}
	}
	return ts
}

func projections(ts []target) []*Projection {
	ps := make([]*Projection, len(ts))
	for i, t := range ts {
		ps[i] = t.proj
	}
	return ps
}

// accumulate folds the rows of every target through all images. The
// first image is transformed with the full geometry at its azimuth, later
// ones reuse the previous samples rotated by the azimuthal step.
func (e *Extractor) accumulate(ctx context.Context, src stack.Source, ts []target) error {
	images := src.Len()
	if images == 0 {
		return stack.ErrEmpty
	}
	sizeX, sizeZ := e.exp.DetectorResolution()
	omega0 := float64(e.params.FirstImage-1) * e.params.AzimuthalStep
	lines := make([]Line, len(ts))
	dropped := 0

	for i := 0; i < images; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := src.Frame(ctx, i)
		if err != nil {
			return err
		}
		if f.Width != sizeX || f.Height != sizeZ {
			return fmt.Errorf("%w: %q is %dx%d, detector is %dx%d",
				ErrDetectorMismatch, f.Name, f.Width, f.Height, sizeX, sizeZ)
		}
		for j, t := range ts {
			pixels := f.Row(t.row)
			if i == 0 {
				hkl, err := e.exp.RowHKL(t.row, sizeX, omega0)
				if err != nil {
					return err
				}
				lines[j] = NewLine(hkl, pixels)
			} else {
				lines[j] = Rotate(lines[j], e.params.AzimuthalStep).WithIntensities(pixels)
			}
			dropped += t.proj.Add(lines[j])
		}
		if e.progress != nil {
			e.progress(i+1, images, fmt.Sprintf("Projecting image %d of %d", i+1, images))
		}
	}
	if dropped > 0 {
		logging.Logger().Debug("samples outside the projection grid", "dropped", dropped)
	}
	logging.Logger().Info("projections built", "count", len(ts), "images", images)
	return nil
}
