package dml

import (
	"math"

	"github.com/YuminosukeSato/causalgo/core/model"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
	"github.com/YuminosukeSato/causalgo/pkg/log"
)

// Procedure is the aggregation of fold-level score components.
type Procedure string

const (
	// DML1 solves per fold and averages the fold estimates.
	DML1 Procedure = "dml1"
	// DML2 pools the score elements of all folds and solves once.
	DML2 Procedure = "dml2"
)

type config struct {
	nFolds       int
	nRep         int
	procedure    Procedure
	crossFitting bool
	score        string
	callable     ScoreFunc
	nJobs        int
	seed         int64
	logger       log.Logger

	nonlinear          bool
	lower, upper, init float64

	mlG model.Learner

	trimming     float64
	alwaysTakers bool
	neverTakers  bool
}

func defaultConfig(score string) config {
	return config{
		nFolds:       5,
		nRep:         1,
		procedure:    DML2,
		crossFitting: true,
		score:        score,
		trimming:     1e-12,
		alwaysTakers: true,
		neverTakers:  true,
	}
}

// Option configures a DML model.
type Option func(*config)

// WithNFolds sets the number of cross-fitting folds (default 5).
func WithNFolds(n int) Option {
	return func(c *config) { c.nFolds = n }
}

// WithNRep sets the number of repeated sample splits (default 1).
func WithNRep(n int) Option {
	return func(c *config) { c.nRep = n }
}

// WithDMLProcedure selects "dml1" or "dml2" (default "dml2").
func WithDMLProcedure(p string) Option {
	return func(c *config) { c.procedure = Procedure(p) }
}

// WithApplyCrossFitting toggles cross-fitting (default true). Without it only
// the first fold's test set is predicted and used for estimation.
func WithApplyCrossFitting(apply bool) Option {
	return func(c *config) { c.crossFitting = apply }
}

// WithScore selects a built-in score by name.
func WithScore(name string) Option {
	return func(c *config) {
		c.score = name
		c.callable = nil
	}
}

// WithCallableScore replaces the built-in score with fn.
func WithCallableScore(fn ScoreFunc) Option {
	return func(c *config) {
		c.score = Callable.String()
		c.callable = fn
	}
}

// WithNJobs sets the number of fold workers. n <= 0 uses runtime.NumCPU().
func WithNJobs(n int) Option {
	return func(c *config) { c.nJobs = n }
}

// WithSeed sets the base seed of sample splitting and the bootstrap.
func WithSeed(seed int64) Option {
	return func(c *config) { c.seed = seed }
}

// WithLogger sets the logger. The default is log.GetLoggerWithName("dml").
func WithLogger(l log.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithNonlinearSolver solves the score by bracketed root finding within
// [lower, upper] starting at init instead of the closed form. Infinite
// bounds are allowed.
func WithNonlinearSolver(lower, upper, init float64) Option {
	return func(c *config) {
		c.nonlinear = true
		c.lower, c.upper, c.init = lower, upper, init
	}
}

// WithMLG sets the learner for g, required by the IV-type scores of PLR and PLIV.
func WithMLG(l model.Learner) Option {
	return func(c *config) { c.mlG = l }
}

// WithTrimmingThreshold clips the IIVM propensity m̂ to [t, 1-t] (default 1e-12).
func WithTrimmingThreshold(t float64) Option {
	return func(c *config) { c.trimming = t }
}

// WithSubgroups sets the IIVM compliance subgroups. Without always takers
// r̂0 ≡ 0, without never takers r̂1 ≡ 1; the corresponding learner is not fitted.
func WithSubgroups(alwaysTakers, neverTakers bool) Option {
	return func(c *config) {
		c.alwaysTakers = alwaysTakers
		c.neverTakers = neverTakers
	}
}

func (c *config) validate(data *Data) error {
	if c.nFolds < 1 {
		return errors.NewValidationError("n_folds", "must be at least 1", c.nFolds)
	}
	if c.nRep < 1 {
		return errors.NewValidationError("n_rep", "must be at least 1", c.nRep)
	}
	if c.procedure != DML1 && c.procedure != DML2 {
		return errors.NewValidationError("dml_procedure", "must be 'dml1' or 'dml2'", string(c.procedure))
	}
	if c.crossFitting && c.nFolds < 2 {
		return errors.NewValidationError("n_folds", "cross-fitting requires at least 2 folds", c.nFolds)
	}
	if !c.crossFitting {
		if c.nFolds > 2 {
			return errors.NewValidationError("n_folds",
				"estimation without cross-fitting supports at most 2 folds", c.nFolds)
		}
		if c.nRep != 1 {
			return errors.NewValidationError("n_rep", "repeated sample splitting requires cross-fitting", c.nRep)
		}
	}
	if c.nFolds > data.N() {
		return errors.NewValidationError("n_folds", "cannot exceed the number of observations", c.nFolds)
	}
	if c.nonlinear && c.lower >= c.upper {
		return errors.NewValidationError("coef_bounds", "lower bound must be below the upper bound", [2]float64{c.lower, c.upper})
	}
	if c.nonlinear && (math.IsNaN(c.init) || math.IsInf(c.init, 0)) {
		return errors.NewValidationError("coef_start_val", "must be finite", c.init)
	}
	if c.trimming < 0 || c.trimming >= 0.5 {
		return errors.NewValidationError("trimming_threshold", "must be in [0, 0.5)", c.trimming)
	}
	if c.score == Callable.String() && c.callable == nil {
		return errors.NewValidationError("score", "a callable score requires a function", nil)
	}
	return nil
}
