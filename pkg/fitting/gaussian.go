// Package fitting fits rocking curves to a Gaussian peak on a linear
// background,
//
//	y = b*exp(-(x-c)^2/(2*a^2)) + d*x + e
//
// using Levenberg-Marquardt least squares.
package fitting

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const numParams = 5

const (
	maxIterations = 2000
	tolerance     = 1e-12
	initialLambda = 1e-3
	maxLambda     = 1e16
	initialWidth  = 0.5
)

// Params are the model coefficients.
type Params struct {
	A float64 // width (standard deviation)
	B float64 // amplitude
	C float64 // center
	D float64 // background slope
	E float64 // background offset
}

func (p Params) vector() []float64 { return []float64{p.A, p.B, p.C, p.D, p.E} }

func fromVector(v []float64) Params { return Params{v[0], v[1], v[2], v[3], v[4]} }

// Eval returns the model value at x.
func (p Params) Eval(x float64) float64 {
	u := x - p.C
	return p.B*math.Exp(-u*u/(2*p.A*p.A)) + p.D*x + p.E
}

// Result is a converged fit.
type Result struct {
	Params     Params
	RSquared   float64
	SSR        float64 // sum of squared residuals
	Iterations int
}

// InitialGuess seeds a fit: amplitude at the maximum of y, center at its
// position, a narrow width, flat background at the minimum of y.
func InitialGuess(x, y []float64) Params {
	i := floats.MaxIdx(y)
	return Params{
		A: initialWidth,
		B: y[i],
		C: x[i],
		D: 0,
		E: floats.Min(y),
	}
}

// Fit fits the model to (x, y) starting from init. A few restarts with
// wider starting peaks are tried as well and the best converged result
// wins. The returned width is always non-negative.
func Fit(x, y []float64, init Params) (Result, error) {
	if len(x) != len(y) {
		return Result{}, &FitError{Err: fmt.Errorf("%w: %d x values, %d y values", ErrTooFewPoints, len(x), len(y))}
	}
	if len(x) < numParams {
		return Result{}, &FitError{Err: fmt.Errorf("%w: %d points", ErrTooFewPoints, len(x))}
	}

	starts := []Params{init}
	span := floats.Max(x) - floats.Min(x)
	for _, w := range []float64{1, 2, 4, span / 8} {
		if w > init.A {
			s := init
			s.A = w
			starts = append(starts, s)
		}
	}

	var best Result
	var lastErr error
	found := false
	iterations := 0
	for _, s := range starts {
		r, err := levenbergMarquardt(x, y, s)
		iterations += r.Iterations
		if err != nil {
			lastErr = err
			continue
		}
		if !found || r.SSR < best.SSR {
			best, found = r, true
		}
	}
	if !found {
		return Result{}, &FitError{Iterations: iterations, Err: lastErr}
	}
	best.Params.A = math.Abs(best.Params.A)
	estimates := make([]float64, len(x))
	for i, xi := range x {
		estimates[i] = best.Params.Eval(xi)
	}
	best.RSquared = stat.RSquaredFrom(estimates, y, nil)
	return best, nil
}

func ssr(x, y []float64, p Params) float64 {
	var s float64
	for i, xi := range x {
		r := y[i] - p.Eval(xi)
		s += r * r
	}
	return s
}

// jacobian fills row i of jac with the partial derivatives of the model at
// x[i] and res with the residuals.
func jacobian(x, y []float64, p Params, jac *mat.Dense, res *mat.VecDense) {
	for i, xi := range x {
		u := xi - p.C
		g := math.Exp(-u * u / (2 * p.A * p.A))
		jac.Set(i, 0, p.B*g*u*u/(p.A*p.A*p.A))
		jac.Set(i, 1, g)
		jac.Set(i, 2, p.B*g*u/(p.A*p.A))
		jac.Set(i, 3, xi)
		jac.Set(i, 4, 1)
		res.SetVec(i, y[i]-(p.B*g+p.D*xi+p.E))
	}
}

func levenbergMarquardt(x, y []float64, init Params) (Result, error) {
	n := len(x)
	p := init
	cost := ssr(x, y, p)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return Result{}, ErrNaN
	}

	jac := mat.NewDense(n, numParams, nil)
	res := mat.NewVecDense(n, nil)
	var jtj mat.Dense
	var grad, step mat.VecDense
	lambda := initialLambda

	for iter := 1; iter <= maxIterations; iter++ {
		jacobian(x, y, p, jac, res)
		jtj.Mul(jac.T(), jac)
		grad.MulVec(jac.T(), res)

		for lambda <= maxLambda {
			damped := mat.DenseCopyOf(&jtj)
			for j := 0; j < numParams; j++ {
				d := jtj.At(j, j)
				damped.Set(j, j, d+lambda*math.Max(d, 1e-12))
			}
			if err := step.SolveVec(damped, &grad); err != nil {
				lambda *= 10
				continue
			}
			v := p.vector()
			for j := range v {
				v[j] += step.AtVec(j)
			}
			trial := fromVector(v)
			trialCost := ssr(x, y, trial)
			if math.IsNaN(trialCost) || trialCost >= cost {
				lambda *= 10
				continue
			}

			improvement := cost - trialCost
			p, cost = trial, trialCost
			lambda = math.Max(lambda/10, 1e-12)
			if improvement <= tolerance*(cost+tolerance) {
				return Result{Params: p, SSR: cost, Iterations: iter}, nil
			}
			break
		}
		if lambda > maxLambda {
			// No step lowers the cost any more: a local minimum.
			return Result{Params: p, SSR: cost, Iterations: iter}, nil
		}
	}
	return Result{Params: p, SSR: cost, Iterations: maxIterations}, ErrNotConverged
}

// Check rejects fits whose amplitude is not positive, whose center lies
// outside the n images of the scan or whose width exceeds half the scan.
func Check(p Params, n int) error {
	if p.B <= 0 {
		return &ValidationError{Param: "amplitude", Value: p.B, Min: 0, Max: math.Inf(1)}
	}
	if p.C < 1 || p.C > float64(n) {
		return &ValidationError{Param: "center", Value: p.C, Min: 1, Max: float64(n)}
	}
	if half := float64(n / 2); p.A < 0 || p.A > half {
		return &ValidationError{Param: "width", Value: p.A, Min: 0, Max: half}
	}
	return nil
}

// Integral returns the area under the Gaussian peak, sqrt(2*pi)*|b|*|a|.
func Integral(p Params) float64 {
	return math.Sqrt(2*math.Pi) * math.Abs(p.B) * math.Abs(p.A)
}

// Expression renders the fitted function with its coefficients.
func Expression(p Params) string {
	return fmt.Sprintf("y = %.4f*exp(-(x-%.4f)*(x-%.4f)/(2*%.4f*%.4f)) + %.4f*x + %.4f",
		p.B, p.C, p.C, p.A, p.A, p.D, p.E)
}
