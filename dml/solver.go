package dml

import (
	"math"

	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// NonlinearScore is a score that is solved by root finding.
// Evaluate and Derivative return psi(θ) and ∂psi/∂θ at the rows inds.
type NonlinearScore interface {
	Evaluate(theta float64, inds []int) []float64
	Derivative(theta float64, inds []int) []float64
	Bounds() (lo, hi float64)
	StartValue() float64
}

// LinearScore is psi(θ) = psi_a·θ + psi_b. It is solved in closed form and
// also satisfies NonlinearScore, so the root finder can be checked against
// the closed form.
type LinearScore struct {
	PsiA, PsiB []float64

	lo, hi, start float64
}

// NewLinearScore wraps the psi_a and psi_b elements, unbounded with start value 0.
func NewLinearScore(el ScoreElements) *LinearScore {
	return &LinearScore{PsiA: el[PsiA], PsiB: el[PsiB], lo: math.Inf(-1), hi: math.Inf(1)}
}

// WithBounds returns a copy of s with the root-finding bracket and start value set.
func (s *LinearScore) WithBounds(lo, hi, start float64) *LinearScore {
	c := *s
	c.lo, c.hi, c.start = lo, hi, start
	return &c
}

// Evaluate implements NonlinearScore.
func (s *LinearScore) Evaluate(theta float64, inds []int) []float64 {
	out := make([]float64, len(inds))
	for k, i := range inds {
		out[k] = s.PsiA[i]*theta + s.PsiB[i]
	}
	return out
}

// Derivative implements NonlinearScore.
func (s *LinearScore) Derivative(_ float64, inds []int) []float64 {
	out := make([]float64, len(inds))
	for k, i := range inds {
		out[k] = s.PsiA[i]
	}
	return out
}

// Bounds implements NonlinearScore.
func (s *LinearScore) Bounds() (float64, float64) { return s.lo, s.hi }

// StartValue implements NonlinearScore.
func (s *LinearScore) StartValue() float64 { return s.start }

// Solve returns θ = -mean(psi_b)/mean(psi_a) over inds. A zero mean(psi_a)
// is reported as a NumericalInstabilityError naming the repetition and fold
// (fold -1 for the pooled sample).
func (s *LinearScore) Solve(inds []int, rep, fold int) (float64, error) {
	meanA := meanAt(s.PsiA, inds)
	if meanA == 0 || math.IsNaN(meanA) {
		return nan, errors.NewNumericalInstabilityErrorWithContext("solve", []float64{meanA}, rep,
			map[string]interface{}{"fold": fold, "reason": "mean(psi_a) is zero"})
	}
	return -meanAt(s.PsiB, inds) / meanA, nil
}

const (
	brentXTol     = 2e-12
	brentMaxIter  = 100
	maxExpansions = 64
)

// SolveRoot finds θ with mean(psi(θ)) = 0 over inds by Brent's method.
// Infinite bounds are bracketed by expanding symmetrically around the start
// value. No sign change inside the bounds and non-convergence are returned
// as ConvergenceError.
func SolveRoot(score NonlinearScore, inds []int, rep, fold int) (float64, error) {
	f := func(theta float64) float64 {
		psi := score.Evaluate(theta, inds)
		sum := 0.0
		for _, v := range psi {
			sum += v
		}
		return sum / float64(len(psi))
	}

	lo, hi := score.Bounds()
	a, b, fa, fb, ok := bracketRoot(f, lo, hi, score.StartValue())
	if !ok {
		return nan, errors.NewConvergenceError("brentq", rep, fold, 0,
			"mean score has no sign change within the bounds")
	}
	root, iter, converged := brent(f, a, b, fa, fb)
	if !converged {
		return nan, errors.NewConvergenceError("brentq", rep, fold, iter, "maximum number of iterations reached")
	}
	return root, nil
}

func bracketRoot(f func(float64) float64, lo, hi, start float64) (a, b, fa, fb float64, ok bool) {
	if !math.IsInf(lo, 0) && !math.IsInf(hi, 0) {
		fa, fb = f(lo), f(hi)
		return lo, hi, fa, fb, !sameSign(fa, fb)
	}
	start = math.Max(lo, math.Min(hi, start))
	step := 1.0
	for i := 0; i < maxExpansions; i++ {
		a = math.Max(lo, start-step)
		b = math.Min(hi, start+step)
		fa, fb = f(a), f(b)
		if !sameSign(fa, fb) {
			return a, b, fa, fb, true
		}
		if a == lo && b == hi {
			break
		}
		step *= 2
	}
	return a, b, fa, fb, false
}

func sameSign(x, y float64) bool {
	return (x > 0 && y > 0) || (x < 0 && y < 0) || math.IsNaN(x) || math.IsNaN(y)
}

// brent is Brent's zero-in on a bracket with f(a)·f(b) <= 0.
func brent(f func(float64) float64, a, b, fa, fb float64) (root float64, iter int, converged bool) {
	if fa == 0 {
		return a, 0, true
	}
	if fb == 0 {
		return b, 0, true
	}
	c, fc := a, fa
	d := b - a
	e := d
	for iter = 1; iter <= brentMaxIter; iter++ {
		if math.Abs(fc) < math.Abs(fb) {
			a, b, c = b, c, b
			fa, fb, fc = fb, fc, fb
		}
		tol := 2*eps*math.Abs(b) + 0.5*brentXTol
		m := 0.5 * (c - b)
		if math.Abs(m) <= tol || fb == 0 {
			return b, iter, true
		}
		if math.Abs(e) < tol || math.Abs(fa) <= math.Abs(fb) {
			d, e = m, m
		} else {
			s := fb / fa
			var p, q float64
			if a == c {
				// secant
				p = 2 * m * s
				q = 1 - s
			} else {
				// inverse quadratic interpolation
				q = fa / fc
				r := fb / fc
				p = s * (2*m*q*(q-r) - (b-a)*(r-1))
				q = (q - 1) * (r - 1) * (s - 1)
			}
			if p > 0 {
				q = -q
			} else {
				p = -p
			}
			if 2*p < math.Min(3*m*q-math.Abs(tol*q), math.Abs(e*q)) {
				e = d
				d = p / q
			} else {
				d, e = m, m
			}
		}
		a, fa = b, fb
		if math.Abs(d) > tol {
			b += d
		} else {
			b += math.Copysign(tol, m)
		}
		fb = f(b)
		if (fb > 0 && fc > 0) || (fb <= 0 && fc <= 0) {
			c, fc = a, fa
			d = b - a
			e = d
		}
	}
	return b, brentMaxIter, false
}

const eps = 2.220446049250313e-16
