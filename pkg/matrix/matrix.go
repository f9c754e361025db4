// Package matrix provides the small dense matrix primitive used by the
// diffraction geometry. It only has to deal with 3x3 and 3x1 systems, so the
// determinant and the inverse are computed by cofactor expansion and the
// order of any matrix passed to them is bounded by MaxOrder.
package matrix

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// MaxOrder is the largest square matrix accepted by Determinant, Cofactor
// and Inverse. Recursive cofactor expansion is O(n!) and has no pivoting;
// wider systems need an LU based solver instead.
const MaxOrder = 4

// singularTolerance is the relative size below which a determinant is
// treated as zero.
const singularTolerance = 1e-12

var (
	// ErrBadShape is returned when a matrix is requested with a non-positive
	// dimension or with a backing slice of the wrong length.
	ErrBadShape = errors.New("matrix: invalid shape")

	// ErrDimensionMismatch is returned when operand shapes are incompatible,
	// e.g. Multiply where a.Cols() != b.Rows().
	ErrDimensionMismatch = errors.New("matrix: dimension mismatch")

	// ErrNotSquare is returned when a square matrix is required.
	ErrNotSquare = errors.New("matrix: matrix is not square")

	// ErrSingular is returned by Inverse and LeftDivide when the determinant
	// is zero, not finite, or negligible relative to the matrix entries.
	ErrSingular = errors.New("matrix: singular matrix")

	// ErrTooLarge is returned when the order exceeds MaxOrder.
	ErrTooLarge = errors.New("matrix: order exceeds cofactor expansion limit")
)

// Matrix is a dense real matrix. Operations never modify their operands and
// always return a new Matrix.
type Matrix struct {
	d *mat.Dense
}

// New creates a rows x cols matrix from row-major data. The data slice is
// copied.
func New(rows, cols int, data []float64) (*Matrix, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("new %dx%d: %w", rows, cols, ErrBadShape)
	}
	if data != nil && len(data) != rows*cols {
		return nil, fmt.Errorf("new %dx%d from %d values: %w", rows, cols, len(data), ErrBadShape)
	}
	backing := make([]float64, rows*cols)
	copy(backing, data)
	return &Matrix{d: mat.NewDense(rows, cols, backing)}, nil
}

// Identity returns the n x n identity matrix.
func Identity(n int) *Matrix {
	m := zeros(n, n)
	for i := 0; i < n; i++ {
		m.d.Set(i, i, 1)
	}
	return m
}

// Diagonal returns a square matrix with v on its diagonal.
func Diagonal(v ...float64) *Matrix {
	m := zeros(len(v), len(v))
	for i, x := range v {
		m.d.Set(i, i, x)
	}
	return m
}

// Column returns a len(v) x 1 column vector.
func Column(v ...float64) *Matrix {
	m := zeros(len(v), 1)
	for i, x := range v {
		m.d.Set(i, 0, x)
	}
	return m
}

func zeros(rows, cols int) *Matrix {
	return &Matrix{d: mat.NewDense(rows, cols, nil)}
}

// Dims returns the number of rows and columns.
func (m *Matrix) Dims() (rows, cols int) { return m.d.Dims() }

// Rows returns the number of rows.
func (m *Matrix) Rows() int { r, _ := m.d.Dims(); return r }

// Cols returns the number of columns.
func (m *Matrix) Cols() int { _, c := m.d.Dims(); return c }

// IsSquare reports whether the matrix has as many rows as columns.
func (m *Matrix) IsSquare() bool { r, c := m.d.Dims(); return r == c }

// At returns the element at row i, column j.
func (m *Matrix) At(i, j int) float64 { return m.d.At(i, j) }

// EqualApprox reports whether both matrices have the same shape and all
// elements are within tol of each other.
func (m *Matrix) EqualApprox(other *Matrix, tol float64) bool {
	return mat.EqualApprox(m.d, other.d, tol)
}

func (m *Matrix) String() string {
	return fmt.Sprintf("%v", mat.Formatted(m.d, mat.Squeeze()))
}

// Multiply returns a*b.
func Multiply(a, b *Matrix) (*Matrix, error) {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ac != br {
		return nil, fmt.Errorf("multiply %dx%d by %dx%d: %w", ar, ac, br, bc, ErrDimensionMismatch)
	}
	out := zeros(ar, bc)
	out.d.Mul(a.d, b.d)
	return out, nil
}

// Subtract returns a-b.
func Subtract(a, b *Matrix) (*Matrix, error) {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return nil, fmt.Errorf("subtract %dx%d and %dx%d: %w", ar, ac, br, bc, ErrDimensionMismatch)
	}
	out := zeros(ar, ac)
	out.d.Sub(a.d, b.d)
	return out, nil
}

// Scale returns f*m.
func Scale(f float64, m *Matrix) *Matrix {
	r, c := m.Dims()
	out := zeros(r, c)
	out.d.Scale(f, m.d)
	return out
}

// Transpose returns the transpose of m.
func Transpose(m *Matrix) *Matrix {
	return &Matrix{d: mat.DenseCopyOf(m.d.T())}
}

// Determinant returns the determinant of m computed by cofactor expansion
// along the first row.
func Determinant(m *Matrix) (float64, error) {
	if err := checkExpandable(m, "determinant"); err != nil {
		return 0, err
	}
	return determinant(m.d), nil
}

// Cofactor returns the matrix of cofactors of m.
func Cofactor(m *Matrix) (*Matrix, error) {
	if err := checkExpandable(m, "cofactor"); err != nil {
		return nil, err
	}
	return &Matrix{d: cofactor(m.d)}, nil
}

// Inverse returns the inverse of m as the transposed cofactor matrix divided
// by the determinant.
func Inverse(m *Matrix) (*Matrix, error) {
	if err := checkExpandable(m, "inverse"); err != nil {
		return nil, err
	}
	det := determinant(m.d)
	if isNegligible(det, m.d) {
		return nil, fmt.Errorf("inverse: determinant %g: %w", det, ErrSingular)
	}
	n := m.Rows()
	if n == 1 {
		return Column(1 / m.d.At(0, 0)), nil
	}
	out := zeros(n, n)
	out.d.Scale(1/det, cofactor(m.d).T())
	return out, nil
}

// LeftDivide solves a*x = b for x.
func LeftDivide(a, b *Matrix) (*Matrix, error) {
	inv, err := Inverse(a)
	if err != nil {
		return nil, fmt.Errorf("left divide: %w", err)
	}
	return Multiply(inv, b)
}

func checkExpandable(m *Matrix, op string) error {
	r, c := m.Dims()
	if r != c {
		return fmt.Errorf("%s of %dx%d: %w", op, r, c, ErrNotSquare)
	}
	if r > MaxOrder {
		return fmt.Errorf("%s of order %d: %w", op, r, ErrTooLarge)
	}
	return nil
}

func determinant(a *mat.Dense) float64 {
	n, _ := a.Dims()
	switch n {
	case 1:
		return a.At(0, 0)
	case 2:
		return a.At(0, 0)*a.At(1, 1) - a.At(0, 1)*a.At(1, 0)
	}
	var sum float64
	for j := 0; j < n; j++ {
		sum += sign(j) * a.At(0, j) * determinant(minor(a, 0, j))
	}
	return sum
}

func cofactor(a *mat.Dense) *mat.Dense {
	n, _ := a.Dims()
	out := mat.NewDense(n, n, nil)
	if n == 1 {
		out.Set(0, 0, 1)
		return out
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out.Set(i, j, sign(i)*sign(j)*determinant(minor(a, i, j)))
		}
	}
	return out
}

// minor returns a copy of a without row skipRow and column skipCol.
func minor(a *mat.Dense, skipRow, skipCol int) *mat.Dense {
	n, _ := a.Dims()
	out := mat.NewDense(n-1, n-1, nil)
	r := 0
	for i := 0; i < n; i++ {
		if i == skipRow {
			continue
		}
		c := 0
		for j := 0; j < n; j++ {
			if j == skipCol {
				continue
			}
			out.Set(r, c, a.At(i, j))
			c++
		}
		r++
	}
	return out
}

// sign returns (-1)^i.
func sign(i int) float64 {
	if i%2 == 0 {
		return 1
	}
	return -1
}

// isNegligible compares det against the product of the largest absolute
// entry of every row, which bounds |det| from above up to a factor n!.
func isNegligible(det float64, a *mat.Dense) bool {
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return true
	}
	n, _ := a.Dims()
	scale := 1.0
	for i := 0; i < n; i++ {
		rowMax := 0.0
		for j := 0; j < n; j++ {
			rowMax = math.Max(rowMax, math.Abs(a.At(i, j)))
		}
		scale *= rowMax
	}
	return math.Abs(det) <= singularTolerance*scale
}
