package dml

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	msel "github.com/YuminosukeSato/causalgo/model_selection"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

var nan = math.NaN()

// Names of the score elements every linear score provides.
const (
	PsiA = "psi_a"
	PsiB = "psi_b"
)

// ScoreKind identifies the orthogonal score of a model.
type ScoreKind int

const (
	// PartiallingOut is the Robinson-style residual-on-residual score.
	PartiallingOut ScoreKind = iota
	// IVType regresses on the treatment itself and needs an estimate of g.
	IVType
	// LATE is the local average treatment effect score of the IIVM.
	LATE
	// Callable marks a user-supplied ScoreFunc.
	Callable
)

func (k ScoreKind) String() string {
	switch k {
	case PartiallingOut:
		return "partialling out"
	case IVType:
		return "IV-type"
	case LATE:
		return "LATE"
	case Callable:
		return "callable"
	default:
		return fmt.Sprintf("ScoreKind(%d)", int(k))
	}
}

// ParseScoreKind maps a score name to its ScoreKind.
func ParseScoreKind(name string) (ScoreKind, error) {
	switch name {
	case "partialling out":
		return PartiallingOut, nil
	case "IV-type":
		return IVType, nil
	case "LATE":
		return LATE, nil
	case "callable":
		return Callable, nil
	}
	return 0, errors.NewValidationError("score", "unknown score; valid scores are 'partialling out', 'IV-type', 'LATE'", name)
}

// ScoreElements holds the per-observation components of a score, keyed by
// element name. Every element has length n.
type ScoreElements map[string][]float64

func (el ScoreElements) clone() ScoreElements {
	out := make(ScoreElements, len(el))
	for k, v := range el {
		out[k] = append([]float64(nil), v...)
	}
	return out
}

// ScoreInput is what a callable score receives: the observed arrays of the
// treatment being estimated, the cross-fitted nuisance predictions keyed by
// learner name ("ml_l", "ml_m", "ml_g0", ...), and the folds of the repetition.
// Z is nil for models without an instrument.
type ScoreInput struct {
	Y     []float64
	D     []float64
	Z     []float64
	Preds map[string][]float64
	Folds []msel.Fold
}

// ScoreFunc computes score elements from a ScoreInput. The result must
// contain at least psi_a and psi_b, each of length n and finite on test rows.
type ScoreFunc func(in ScoreInput) (ScoreElements, error)

// validateScoreElements checks the shape of el and the finiteness of psi_a
// and psi_b on the test rows of folds.
func validateScoreElements(el ScoreElements, n int, folds []msel.Fold, treatment string, rep int) error {
	for _, name := range []string{PsiA, PsiB} {
		v, ok := el[name]
		if !ok {
			return errors.NewValidationError("score", "score elements must contain "+name, nil)
		}
		if len(v) != n {
			return errors.NewDimensionError("score("+name+")", n, len(v), 0)
		}
		if nBad := errors.CountNonFinite(v, testIndices(folds)); nBad > 0 {
			return errors.NewNonFiniteError("score element "+name, treatment, rep, len(folds), nBad)
		}
	}
	for name, v := range el {
		if len(v) != n {
			return errors.NewDimensionError("score("+name+")", n, len(v), 0)
		}
	}
	return nil
}

// testIndices returns the sorted union of the test sets of folds.
func testIndices(folds []msel.Fold) []int {
	if len(folds) == 1 {
		return folds[0].Test
	}
	seen := make(map[int]struct{})
	out := make([]int, 0)
	for _, f := range folds {
		for _, i := range f.Test {
			if _, ok := seen[i]; !ok {
				seen[i] = struct{}{}
				out = append(out, i)
			}
		}
	}
	sort.Ints(out)
	return out
}

// nanMean is the mean over idx ignoring NaN entries.
func nanMean(v []float64, idx []int) float64 {
	sum, cnt := 0.0, 0
	for _, i := range idx {
		if !math.IsNaN(v[i]) {
			sum += v[i]
			cnt++
		}
	}
	if cnt == 0 {
		return nan
	}
	return sum / float64(cnt)
}

func meanAt(v []float64, idx []int) float64 {
	sum := 0.0
	for _, i := range idx {
		sum += v[i]
	}
	return sum / float64(len(idx))
}

// elementwise helpers used by the built-in scores

func sub(a, b []float64) []float64 { return floats.SubTo(make([]float64, len(a)), a, b) }

func mul(a, b []float64) []float64 { return floats.MulTo(make([]float64, len(a)), a, b) }

func neg(a []float64) []float64 { return floats.ScaleTo(make([]float64, len(a)), -1, a) }

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
