package matrix

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func mustNew(t *testing.T, rows, cols int, data []float64) *Matrix {
	t.Helper()
	m, err := New(rows, cols, data)
	if err != nil {
		t.Fatalf("New(%d, %d): %v", rows, cols, err)
	}
	return m
}

func TestNewRejectsBadShape(t *testing.T) {
	if _, err := New(0, 3, nil); !errors.Is(err, ErrBadShape) {
		t.Errorf("expected ErrBadShape for zero rows, got %v", err)
	}
	if _, err := New(2, 2, []float64{1, 2, 3}); !errors.Is(err, ErrBadShape) {
		t.Errorf("expected ErrBadShape for short data, got %v", err)
	}
}

func TestNewCopiesData(t *testing.T) {
	data := []float64{1, 2, 3, 4}
	m := mustNew(t, 2, 2, data)
	data[0] = 100
	if m.At(0, 0) != 1 {
		t.Errorf("matrix aliases its input slice: At(0,0) = %v", m.At(0, 0))
	}
}

func TestMultiply(t *testing.T) {
	a := mustNew(t, 2, 3, []float64{1, 2, 3, 4, 5, 6})
	b := mustNew(t, 3, 2, []float64{7, 8, 9, 10, 11, 12})

	got, err := Multiply(a, b)
	if err != nil {
		t.Fatalf("Multiply: %v", err)
	}
	want := mustNew(t, 2, 2, []float64{58, 64, 139, 154})
	if !got.EqualApprox(want, 1e-12) {
		t.Errorf("Multiply = %v, want %v", got, want)
	}

	if _, err := Multiply(a, a); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestTranspose(t *testing.T) {
	a := mustNew(t, 2, 3, []float64{1, 2, 3, 4, 5, 6})
	tr := Transpose(a)
	if r, c := tr.Dims(); r != 3 || c != 2 {
		t.Fatalf("Transpose dims = %dx%d, want 3x2", r, c)
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			if tr.At(j, i) != a.At(i, j) {
				t.Errorf("Transpose(%d,%d) = %v, want %v", j, i, tr.At(j, i), a.At(i, j))
			}
		}
	}
}

func TestDeterminantIdentity(t *testing.T) {
	for n := 1; n <= MaxOrder; n++ {
		det, err := Determinant(Identity(n))
		if err != nil {
			t.Fatalf("Determinant(I%d): %v", n, err)
		}
		if det != 1 {
			t.Errorf("Determinant(I%d) = %v, want 1", n, det)
		}
	}
}

func TestDeterminantZeroRow(t *testing.T) {
	m := mustNew(t, 3, 3, []float64{
		1, 2, 3,
		0, 0, 0,
		7, 8, 9,
	})
	det, err := Determinant(m)
	if err != nil {
		t.Fatalf("Determinant: %v", err)
	}
	if det != 0 {
		t.Errorf("Determinant with zero row = %v, want 0", det)
	}
}

func TestDeterminantMatchesGonum(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for n := 2; n <= MaxOrder; n++ {
		data := make([]float64, n*n)
		for i := range data {
			data[i] = rng.NormFloat64()
		}
		det, err := Determinant(mustNew(t, n, n, data))
		if err != nil {
			t.Fatalf("Determinant: %v", err)
		}
		want := mat.Det(mat.NewDense(n, n, data))
		if math.Abs(det-want) > 1e-9 {
			t.Errorf("order %d: Determinant = %v, gonum Det = %v", n, det, want)
		}
	}
}

func TestDeterminantErrors(t *testing.T) {
	if _, err := Determinant(mustNew(t, 2, 3, nil)); !errors.Is(err, ErrNotSquare) {
		t.Errorf("expected ErrNotSquare, got %v", err)
	}
	if _, err := Determinant(Identity(MaxOrder + 1)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}

func TestInverseSingular(t *testing.T) {
	m := mustNew(t, 3, 3, []float64{
		1, 2, 3,
		2, 4, 6,
		1, 1, 1,
	})
	if det, _ := Determinant(m); det != 0 {
		t.Fatalf("test matrix should be exactly singular, det = %v", det)
	}
	if _, err := Inverse(m); !errors.Is(err, ErrSingular) {
		t.Errorf("expected ErrSingular, got %v", err)
	}
	if _, err := LeftDivide(m, Column(1, 2, 3)); !errors.Is(err, ErrSingular) {
		t.Errorf("LeftDivide: expected ErrSingular, got %v", err)
	}
}

func TestInverseNearlySingular(t *testing.T) {
	m := mustNew(t, 2, 2, []float64{
		1, 1,
		1, 1 + 1e-15,
	})
	if _, err := Inverse(m); !errors.Is(err, ErrSingular) {
		t.Errorf("expected ErrSingular for negligible determinant, got %v", err)
	}
}

func TestInverse(t *testing.T) {
	m := mustNew(t, 3, 3, []float64{
		2, 1, 1,
		1, 3, 1,
		1, 1, 4,
	})
	inv, err := Inverse(m)
	if err != nil {
		t.Fatalf("Inverse: %v", err)
	}
	prod, err := Multiply(m, inv)
	if err != nil {
		t.Fatalf("Multiply: %v", err)
	}
	if !prod.EqualApprox(Identity(3), 1e-12) {
		t.Errorf("m * inverse(m) = %v, want identity", prod)
	}
}

func TestInverseOneByOne(t *testing.T) {
	inv, err := Inverse(mustNew(t, 1, 1, []float64{4}))
	if err != nil {
		t.Fatalf("Inverse: %v", err)
	}
	if inv.At(0, 0) != 0.25 {
		t.Errorf("Inverse([4]) = %v, want 0.25", inv.At(0, 0))
	}
}

func TestLeftDivideRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		data := make([]float64, 9)
		for i := range data {
			data[i] = rng.Float64()*10 - 5
		}
		a := mustNew(t, 3, 3, data)
		if det, _ := Determinant(a); math.Abs(det) < 1e-3 {
			continue
		}
		x := Column(rng.Float64()*4-2, rng.Float64()*4-2, rng.Float64()*4-2)
		b, err := Multiply(a, x)
		if err != nil {
			t.Fatalf("Multiply: %v", err)
		}
		got, err := LeftDivide(a, b)
		if err != nil {
			t.Fatalf("LeftDivide: %v", err)
		}
		if !got.EqualApprox(x, 1e-9) {
			t.Errorf("trial %d: LeftDivide(A, A*x) = %v, want %v", trial, got, x)
		}
	}
}

func TestOperationsDoNotMutate(t *testing.T) {
	a := mustNew(t, 2, 2, []float64{4, 7, 2, 6})
	before := mustNew(t, 2, 2, []float64{4, 7, 2, 6})

	_, _ = Inverse(a)
	_ = Transpose(a)
	_, _ = Cofactor(a)
	_ = Scale(3, a)
	_, _ = Subtract(a, a)

	if !a.EqualApprox(before, 0) {
		t.Errorf("operand was modified: %v", a)
	}
}
