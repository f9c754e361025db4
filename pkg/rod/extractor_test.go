package rod

import (
	"context"
	"errors"
	"math"
	"testing"

	"hesxrd/internal/models"
	"hesxrd/pkg/experiment"
	"hesxrd/pkg/fitting"
	"hesxrd/pkg/stack"
)

const (
	detector = 64
	images   = 30
	pathX    = 40
	pathTop  = 5
	pathRows = 40
)

func testExperiment(t *testing.T) *experiment.Experiment {
	t.Helper()
	e, err := experiment.New(experiment.Config{
		PhotonEnergy:           85000,
		HorizontalPolarization: 0.98,
		DetectorDistance:       1750,
		Lattice:                [3]float64{2.75, 2.75, 3.89},
		LatticeAngles:          [3]float64{90, 90, 90},
		DetectorSize:           [2]float64{12.8, 12.8},
		DetectorResolution:     [2]float64{detector, detector},
		Center:                 [2]float64{20, 50},
	})
	if err != nil {
		t.Fatalf("experiment.New: %v", err)
	}
	return e
}

// curve returns the rocking curve summed by one detector row of block b.
func curve(b int) fitting.Params {
	return fitting.Params{A: 2, B: 1e5, C: float64(10 + 2*b), D: 30, E: 500}
}

// syntheticScan builds frames in which each row of the window around
// pathX carries curve(block) spread evenly over width pixels. Blocks
// listed in dead stay dark.
func syntheticScan(t *testing.T, width int, dead map[int]bool) stack.Source {
	t.Helper()
	frames := make([]*models.Frame, images)
	for j := range frames {
		f := models.NewFrame(detector, detector)
		for y := pathTop; y < pathTop+pathRows; y++ {
			b := (y - pathTop) / 10
			if dead[b] {
				continue
			}
			v := curve(b).Eval(float64(j+1)) / float64(width)
			for x := pathX - (width-1)/2; x <= pathX+width/2; x++ {
				f.Set(x, y, v)
			}
		}
		frames[j] = f
	}
	src, err := stack.NewMemorySource(frames...)
	if err != nil {
		t.Fatalf("NewMemorySource: %v", err)
	}
	return src
}

func vertical() Region { return Line{X1: pathX, Y1: pathTop, X2: pathX, Y2: pathTop + pathRows - 1} }

func TestExtractRecoversGaussian(t *testing.T) {
	exp := testExperiment(t)
	src := syntheticScan(t, 4, nil)

	ex := NewExtractor(exp, Params{Width: 4})
	progress := 0
	ex.SetProgressCallback(func(done, total int, _ string) { progress++ })

	r, err := ex.Extract(context.Background(), src, vertical())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ex.State() != Done {
		t.Errorf("State() = %v, want done", ex.State())
	}
	if r.Size() != 5 || r.Len() != 4 {
		t.Fatalf("Size() = %d, Len() = %d, want 5 and 4", r.Size(), r.Len())
	}
	if len(r.Failures()) != 0 {
		t.Errorf("unexpected failures: %v", r.Failures())
	}
	if progress != images+4 {
		t.Errorf("progress called %d times, want %d", progress, images+4)
	}

	for b := 0; b < 4; b++ {
		c := curve(b)
		want := math.Sqrt(2*math.Pi) * c.A * 10 * c.B
		got := r.Value(Intensity, b)
		if math.Abs(got-want) > 1e-3*want {
			t.Errorf("block %d: intensity %v, want %v", b, got, want)
		}

		if r.X[b] != pathX || r.Z[b] != pathTop+10*b+4 {
			t.Errorf("block %d: representative pixel (%d, %d)", b, r.X[b], r.Z[b])
		}
		hkl, _ := exp.LabToHKL(r.X[b], r.Z[b], 0)
		if r.Value(L, b) != hkl.L() {
			t.Errorf("block %d: L = %v, want %v", b, r.Value(L, b), hkl.L())
		}
		sf := math.Sqrt(got / exp.TotalCorrectionFactor(r.X[b], r.Z[b]))
		if math.Abs(r.Value(StructureFactor, b)-sf) > 1e-12*sf {
			t.Errorf("block %d: structure factor %v, want %v", b, r.Value(StructureFactor, b), sf)
		}
		if r.Value(Error, b) < 0.9999 {
			t.Errorf("block %d: R^2 = %v", b, r.Value(Error, b))
		}
		if r.Functions[b] == "" || r.Fitted[b][0] != r.Profiles[b][0] {
			t.Errorf("block %d: fitted profile or function missing", b)
		}
	}
	// L grows towards the top of the detector.
	if !(r.Value(L, 0) > r.Value(L, 3)) {
		t.Errorf("L not decreasing down the path: %v", r.Values(L))
	}
}

func TestExtractSkipsRejectedBlocks(t *testing.T) {
	exp := testExperiment(t)
	src := syntheticScan(t, 4, map[int]bool{1: true})

	r, err := NewExtractor(exp, Params{Width: 4}).Extract(context.Background(), src, vertical())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
	failures := r.Failures()
	if len(failures) != 1 || failures[0].Block != 1 {
		t.Fatalf("Failures() = %+v", failures)
	}
	var vErr *fitting.ValidationError
	if !errors.As(failures[0].Err, &vErr) {
		t.Errorf("failure error = %v, want *fitting.ValidationError", failures[0].Err)
	}
	// Accepted rows are compacted.
	hkl, _ := exp.LabToHKL(pathX, pathTop+24, 0)
	if r.Value(L, 1) != hkl.L() {
		t.Errorf("row 1 holds L = %v, want block 2 L = %v", r.Value(L, 1), hkl.L())
	}
}

func TestExtractAbortOnFailure(t *testing.T) {
	exp := testExperiment(t)
	src := syntheticScan(t, 4, map[int]bool{2: true})

	ex := NewExtractor(exp, Params{Width: 4, FailurePolicy: AbortOnFailure})
	_, err := ex.Extract(context.Background(), src, vertical())
	if !errors.Is(err, fitting.ErrOutOfBounds) {
		t.Errorf("Extract = %v, want ErrOutOfBounds", err)
	}
	if ex.State() != Failed {
		t.Errorf("State() = %v, want failed", ex.State())
	}
}

func TestExtractRequiresRegion(t *testing.T) {
	ex := NewExtractor(testExperiment(t), Params{})
	if _, err := ex.Extract(context.Background(), syntheticScan(t, 4, nil), nil); !errors.Is(err, ErrNoRegion) {
		t.Errorf("Extract(nil region) = %v, want ErrNoRegion", err)
	}
}

func TestExtractRegionOutside(t *testing.T) {
	ex := NewExtractor(testExperiment(t), Params{})
	_, err := ex.Extract(context.Background(), syntheticScan(t, 4, nil), Line{X1: 10, Y1: 50, X2: 10, Y2: 80})
	if !errors.Is(err, ErrRegionOutside) {
		t.Errorf("Extract = %v, want ErrRegionOutside", err)
	}
}

func TestRepresentativePixel(t *testing.T) {
	tests := []struct {
		step int
		want []int // path index of the first blocks
	}{
		{1, []int{0, 1, 2}},
		{2, []int{0, 2, 4}},
		{3, []int{0, 3, 6}},
		{4, []int{1, 5, 9}},
		{5, []int{1, 6, 11}},
	}
	for _, tt := range tests {
		ex := NewExtractor(testExperiment(t), Params{Width: 4, Step: tt.step})
		if err := ex.DefinePath(vertical()); err != nil {
			t.Fatalf("DefinePath: %v", err)
		}
		if err := ex.FillProfiles(context.Background(), syntheticScan(t, 4, nil)); err != nil {
			t.Fatalf("FillProfiles: %v", err)
		}
		r := ex.Rod()
		for b, idx := range tt.want {
			if r.Z[b] != pathTop+idx {
				t.Errorf("step %d, block %d: row %d, want %d", tt.step, b, r.Z[b], pathTop+idx)
			}
		}
	}
}

func TestExtractFullHeightRect(t *testing.T) {
	ex := NewExtractor(testExperiment(t), Params{})
	r, err := ex.Extract(context.Background(), syntheticScan(t, 4, nil), Rect{X: 38, Y: 0, W: 5, H: detector})
	if err != nil {
		t.Fatalf("Extract over the full frame height: %v", err)
	}
	if r.Size() != detector/10+1 {
		t.Errorf("Size() = %d, want %d", r.Size(), detector/10+1)
	}
	if r.Len() == 0 {
		t.Error("no row accepted")
	}
}

func TestDefaultParams(t *testing.T) {
	ex := NewExtractor(testExperiment(t), Params{})
	if err := ex.DefinePath(Rect{X: 30, Y: 0, W: 7, H: 20}); err != nil {
		t.Fatalf("DefinePath: %v", err)
	}
	if p := ex.Params(); p.Width != 7 || p.Step != 10 {
		t.Errorf("Params() = %+v, want width 7 step 10", p)
	}
	ex = NewExtractor(testExperiment(t), Params{})
	if err := ex.DefinePath(vertical()); err != nil {
		t.Fatalf("DefinePath: %v", err)
	}
	if p := ex.Params(); p.Width != 18 {
		t.Errorf("line width default = %d, want 18", p.Width)
	}
}

func TestStateOrder(t *testing.T) {
	ex := NewExtractor(testExperiment(t), Params{})
	if err := ex.Fit(); !errors.Is(err, ErrState) {
		t.Errorf("Fit before FillProfiles = %v, want ErrState", err)
	}
	if err := ex.FillProfiles(context.Background(), syntheticScan(t, 4, nil)); !errors.Is(err, ErrState) {
		t.Errorf("FillProfiles before DefinePath = %v, want ErrState", err)
	}
}

func TestWindowClamped(t *testing.T) {
	ex := NewExtractor(testExperiment(t), Params{Width: 18})
	if x1, x2 := ex.window(3, 64); x1 != 0 || x2 != 12 {
		t.Errorf("window(3) = [%d, %d], want [0, 12]", x1, x2)
	}
	if x1, x2 := ex.window(60, 64); x1 != 52 || x2 != 63 {
		t.Errorf("window(60) = [%d, %d], want [52, 63]", x1, x2)
	}
	ex.params.Width = 5
	if x1, x2 := ex.window(30, 64); x1 != 28 || x2 != 32 {
		t.Errorf("odd window = [%d, %d], want [28, 32]", x1, x2)
	}
}

func TestExtractCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex := NewExtractor(testExperiment(t), Params{Width: 4})
	if _, err := ex.Extract(ctx, syntheticScan(t, 4, nil), vertical()); !errors.Is(err, context.Canceled) {
		t.Errorf("Extract = %v, want context.Canceled", err)
	}
}
