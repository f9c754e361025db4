package projection

import (
	"errors"
	"math"
	"testing"

	"hesxrd/pkg/experiment"
)

// unitBounds gives a 23x23 grid at resolution 10 with (0,0) in bin 11.
var unitBounds = experiment.Bounds{HMin: -1, HMax: 1, KMin: -1, KMax: 1, LMin: 0.01, LMax: 1}

func TestNewGridSize(t *testing.T) {
	p := New(unitBounds, 0.5, 10)
	if h, k := p.Dims(); h != 23 || k != 23 {
		t.Fatalf("Dims() = %dx%d, want 23x23", h, k)
	}
	h, k, ok := p.Bin(0, 0)
	if !ok || h != 11 || k != 11 {
		t.Errorf("Bin(0, 0) = (%d, %d, %v), want (11, 11, true)", h, k, ok)
	}
	if p.L() != 0.5 || p.Resolution() != 10 {
		t.Errorf("L, Resolution = %v, %v", p.L(), p.Resolution())
	}
}

func TestAddKeepsMaximum(t *testing.T) {
	p := New(unitBounds, 0.5, 10)
	dropped := p.Add(Line{
		{H: 0, K: 0, I: 5},
		{H: 0.01, K: -0.01, I: 3},
		{H: 0.1, K: 0, I: 7.4},
		{H: 5, K: 0, I: 9},
	})
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if got := p.At(11, 11); got != 5 {
		t.Errorf("center bin = %d, want max 5", got)
	}
	if got := p.At(12, 11); got != 7 {
		t.Errorf("H=0.1 bin = %d, want rounded 7", got)
	}
	p.Add(Line{{H: 0, K: 0, I: 2}})
	if got := p.At(11, 11); got != 5 {
		t.Errorf("smaller sample replaced the bin: %d", got)
	}
}

func TestSumDoesNotModifyInputs(t *testing.T) {
	a := New(unitBounds, 0.5, 10)
	a.Add(Line{{H: 0, K: 0, I: 5}})
	b := New(unitBounds, 0.6, 10)
	b.Add(Line{{H: 0, K: 0, I: 2}, {H: 0.2, K: 0.2, I: 4}})

	s, err := Sum([]*Projection{a, a, b}, 0.55)
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if got := s.At(11, 11); got != 12 {
		t.Errorf("summed center = %d, want 12", got)
	}
	if got := s.At(13, 13); got != 4 {
		t.Errorf("summed (0.2, 0.2) = %d, want 4", got)
	}
	if s.L() != 0.55 {
		t.Errorf("L() = %v, want 0.55", s.L())
	}
	if a.At(11, 11) != 5 || b.At(11, 11) != 2 {
		t.Errorf("inputs modified: %d, %d", a.At(11, 11), b.At(11, 11))
	}

	other := New(experiment.Bounds{HMin: -2, HMax: 2, KMin: -1, KMax: 1}, 0.5, 10)
	if _, err := Sum([]*Projection{a, other}, 0.5); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
	if _, err := Sum(nil, 0.5); err == nil {
		t.Error("expected error for empty sum")
	}
}

func TestMeanAndRender(t *testing.T) {
	p := New(unitBounds, 0.5, 10)
	if p.Mean() != 0 {
		t.Errorf("Mean of empty projection = %v, want 0", p.Mean())
	}
	p.Add(Line{
		{H: 0, K: 0, I: 2},
		{H: 0.1, K: 0.5, I: 10},
	})
	if got := p.Mean(); got != 6 {
		t.Errorf("Mean() = %v, want 6", got)
	}

	pix, w, h := p.Render()
	if w != 23 || h != 23 {
		t.Fatalf("Render size = %dx%d", w, h)
	}
	if pix[(h-1-11)*w+11] != 0 {
		t.Errorf("bin below the mean should render as 0, got %v", pix[(h-1-11)*w+11])
	}
	// K = 0.5 is bin 16, drawn above the center row.
	if got := pix[(h-1-16)*w+12]; got != 10 {
		t.Errorf("bright bin rendered %v at row %d, want 10", got, h-1-16)
	}

	img := p.Image()
	if img.Bounds().Dx() != w || img.Bounds().Dy() != h {
		t.Fatalf("Image bounds = %v", img.Bounds())
	}
	if got := img.Gray16At(12, h-1-16).Y; got != math.MaxUint16 {
		t.Errorf("brightest bin = %d, want white", got)
	}
}

func TestRotateRoundTrip(t *testing.T) {
	line := Line{{H: 0.3, K: -0.1, I: 4}, {H: -1, K: 2, I: 8}}
	back := Rotate(Rotate(line, 7.5), -7.5)
	for i := range line {
		if math.Abs(back[i].H-line[i].H) > 1e-12 || math.Abs(back[i].K-line[i].K) > 1e-12 || back[i].I != line[i].I {
			t.Errorf("sample %d: %+v after round trip, want %+v", i, back[i], line[i])
		}
	}
	if line[0].H != 0.3 {
		t.Error("Rotate modified its input")
	}

	q := Rotate(Line{{H: 1, K: 0}}, 90)[0]
	if math.Abs(q.H) > 1e-12 || math.Abs(q.K+1) > 1e-12 {
		t.Errorf("(1, 0) turned by 90 = (%v, %v), want (0, -1)", q.H, q.K)
	}
}

func TestWithIntensities(t *testing.T) {
	line := Line{{H: 1, K: 2, I: 3}, {H: 4, K: 5, I: 6}}
	got := line.WithIntensities([]float64{9})
	if got[0].I != 9 || got[1].I != 0 || got[1].H != 4 {
		t.Errorf("WithIntensities = %+v", got)
	}
	if line[0].I != 3 {
		t.Error("WithIntensities modified its receiver")
	}
}
