package rod

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"hesxrd/internal/logging"
	"hesxrd/internal/models"
	"hesxrd/pkg/experiment"
	"hesxrd/pkg/fitting"
	"hesxrd/pkg/stack"
)

const defaultStep = 10

var (
	ErrNoRegion             = errors.New("rod: region of interest required")
	ErrEmptyPath            = errors.New("rod: region contains no positions")
	ErrRegionOutside        = errors.New("rod: region lies outside the image")
	ErrBadParams            = errors.New("rod: width and step must be at least 1")
	ErrState                = errors.New("rod: operation not allowed in current state")
	ErrNonPositiveIntensity = errors.New("rod: integrated intensity is not positive")
)

// State is the position of an Extractor in its life cycle.
type State int

const (
	Idle State = iota
	PathDefined
	ProfileFilled
	Fitted
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PathDefined:
		return "path defined"
	case ProfileFilled:
		return "profile filled"
	case Fitted:
		return "fitted"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// FailurePolicy decides what happens when a single rocking curve cannot
// be fitted or its fit is rejected.
type FailurePolicy int

const (
	// SkipFailures records the failure on the rod and continues.
	SkipFailures FailurePolicy = iota
	// AbortOnFailure stops the extraction at the first failure.
	AbortOnFailure
)

// ParseFailurePolicy maps "skip" and "abort" to a policy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "", "skip":
		return SkipFailures, nil
	case "abort":
		return AbortOnFailure, nil
	}
	return 0, fmt.Errorf("rod: unknown failure policy %q", s)
}

// Params control the sampling of the region. Zero values select the
// defaults: the rectangle width (18 for lines) and a step of 10 rows.
type Params struct {
	Width         int
	Step          int
	FailurePolicy FailurePolicy
}

// Extractor turns a region of a rocking scan into a Rod:
//
//	DefinePath -> FillProfiles -> Fit
//
// Each step requires the previous one. An Extractor is not safe for
// concurrent use and is meant for a single rod.
type Extractor struct {
	exp      *experiment.Experiment
	params   Params
	progress models.ProgressCallback

	state State
	path  []image.Point
	rod   *Rod
}

// NewExtractor returns an idle extractor using the geometry of exp.
func NewExtractor(exp *experiment.Experiment, params Params) *Extractor {
	return &Extractor{exp: exp, params: params}
}

// SetProgressCallback installs cb, called after every image while filling
// profiles and after every row while fitting.
func (e *Extractor) SetProgressCallback(cb models.ProgressCallback) { e.progress = cb }

func (e *Extractor) State() State { return e.state }

// Params returns the parameters in effect, defaults resolved once a path
// is defined.
func (e *Extractor) Params() Params { return e.params }

// Rod returns the rod being built, nil before FillProfiles.
func (e *Extractor) Rod() *Rod { return e.rod }

func (e *Extractor) fail(err error) error {
	e.state = Failed
	return err
}

func (e *Extractor) report(done, total int, msg string) {
	if e.progress != nil {
		e.progress(done, total, msg)
	}
}

// DefinePath samples region and resolves the default width and step.
func (e *Extractor) DefinePath(region Region) error {
	if e.state != Idle {
		return fmt.Errorf("%w: DefinePath in state %v", ErrState, e.state)
	}
	if region == nil {
		return e.fail(ErrNoRegion)
	}
	if e.params.Width == 0 {
		e.params.Width = region.defaultWidth()
	}
	if e.params.Step == 0 {
		e.params.Step = defaultStep
	}
	if e.params.Width < 1 || e.params.Step < 1 {
		return e.fail(fmt.Errorf("%w: width %d, step %d", ErrBadParams, e.params.Width, e.params.Step))
	}
	e.path = Path(region)
	if len(e.path) == 0 {
		return e.fail(ErrEmptyPath)
	}
	e.state = PathDefined
	logging.Logger().Debug("rod path defined", "positions", len(e.path),
		"width", e.params.Width, "step", e.params.Step)
	return nil
}

// window returns the columns [x1, x2] summed around path column x: Width
// pixels, the extra one of an even width to the right, clamped to the
// image.
func (e *Extractor) window(x, imageWidth int) (x1, x2 int) {
	w := e.params.Width
	x1 = x - (w-1)/2
	x2 = x1 + w - 1
	return max(x1, 0), min(x2, imageWidth-1)
}

// FillProfiles sums the window around every path position of every frame
// into the rocking curves of the path blocks. Each block collects Step
// consecutive positions; the trailing partial block is kept but never
// fitted.
func (e *Extractor) FillProfiles(ctx context.Context, src stack.Source) error {
	if e.state != PathDefined {
		return fmt.Errorf("%w: FillProfiles in state %v", ErrState, e.state)
	}
	images := src.Len()
	if images == 0 {
		return e.fail(stack.ErrEmpty)
	}
	step := e.params.Step
	blocks := len(e.path)/step + 1
	r := New(blocks, images)

	for j := 0; j < images; j++ {
		if err := ctx.Err(); err != nil {
			return e.fail(err)
		}
		f, err := src.Frame(ctx, j)
		if err != nil {
			return e.fail(err)
		}
		for i, p := range e.path {
			if p.Y < 0 || p.Y >= f.Height || p.X < 0 || p.X >= f.Width {
				return e.fail(fmt.Errorf("%w: (%d, %d) on %dx%d frame", ErrRegionOutside, p.X, p.Y, f.Width, f.Height))
			}
			row := f.Row(p.Y)
			x1, x2 := e.window(p.X, f.Width)
			var sum float64
			for x := x1; x <= x2; x++ {
				sum += row[x]
			}
			r.Profiles[i/step][j+1] += math.Round(sum)
		}
		e.report(j+1, images, fmt.Sprintf("Summing image %d of %d", j+1, images))
	}

	// The representative pixel lies half a block, rounded up, above the
	// block's last position; a single-position block is its own.
	half := (step + 1) / 2
	if step == 1 {
		half = 0
	}
	for b := 0; b < len(e.path)/step; b++ {
		p := e.path[(b+1)*step-1-half]
		hkl, err := e.exp.LabToHKL(p.X, p.Y, 0)
		if err != nil {
			return e.fail(err)
		}
		r.X[b], r.Z[b] = p.X, p.Y
		r.Profiles[b][0] = hkl.L()
	}
	e.rod = r
	e.state = ProfileFilled
	return nil
}

// Fit fits the rocking curve of every complete block and writes accepted
// rows. Blocks that fail to fit or whose fit is rejected are recorded as
// failures and skipped, unless the policy is AbortOnFailure.
func (e *Extractor) Fit() error {
	if e.state != ProfileFilled {
		return fmt.Errorf("%w: Fit in state %v", ErrState, e.state)
	}
	r := e.rod
	m := r.Images()
	x := make([]float64, m)
	for j := range x {
		x[j] = float64(j + 1)
	}
	total := r.Size() - 1

	for i := 0; i < total; i++ {
		profile := r.Profiles[i]
		if err := e.fitBlock(i, x, profile); err != nil {
			var failure *blockFailure
			if !errors.As(err, &failure) {
				return e.fail(err)
			}
			r.failures = append(r.failures, RowFailure{Block: i, L: profile[0], Err: failure.err})
			logging.Logger().Warn("rod row skipped", "block", i, "L", profile[0], "err", failure.err)
			if e.params.FailurePolicy == AbortOnFailure {
				return e.fail(fmt.Errorf("rod: block %d: %w", i, failure.err))
			}
		}
		e.report(i+1, total, fmt.Sprintf("Fitting row %d of %d", i+1, total))
	}
	e.state = Fitted
	logging.Logger().Info("rod fitted", "rows", r.Len(), "skipped", len(r.failures))
	return nil
}

// blockFailure marks a recoverable, per-block error.
type blockFailure struct{ err error }

func (f *blockFailure) Error() string { return f.err.Error() }

func (e *Extractor) fitBlock(i int, x, profile []float64) error {
	y := profile[1:]
	res, err := fitting.Fit(x, y, fitting.InitialGuess(x, y))
	if err != nil {
		return &blockFailure{err}
	}
	if err := fitting.Check(res.Params, len(y)); err != nil {
		return &blockFailure{err}
	}
	intensity := fitting.Integral(res.Params)
	if intensity <= 0 {
		return &blockFailure{ErrNonPositiveIntensity}
	}
	r := e.rod
	sf := math.Sqrt(intensity / e.exp.TotalCorrectionFactor(r.X[i], r.Z[i]))
	values := make([]float64, numChannels)
	values[L] = profile[0]
	values[Intensity] = intensity
	values[StructureFactor] = sf
	values[Error] = res.RSquared
	return r.accept(values, fitting.Expression(res.Params), profile)
}

// Extract runs the whole extraction of region over src.
func (e *Extractor) Extract(ctx context.Context, src stack.Source, region Region) (*Rod, error) {
	if err := e.DefinePath(region); err != nil {
		return nil, err
	}
	if err := e.FillProfiles(ctx, src); err != nil {
		return nil, err
	}
	if err := e.Fit(); err != nil {
		return nil, err
	}
	e.state = Done
	return e.rod, nil
}
