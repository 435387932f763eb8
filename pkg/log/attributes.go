// Package log defines standard attribute keys for estimation runs.
//
// The keys follow a hierarchical naming convention (e.g. "model.name",
// "data.samples", "dml.fold") so that logs from concurrent fold workers can
// be filtered and grouped by repetition, fold and learner.

package log

// Model and Operation Context
// These attributes identify the model type, instance, and operation being performed.
const (
	// ModelNameKey identifies the type of model.
	// Examples: "DoubleMLPLR", "LinearRegression", "LogisticRegression"
	ModelNameKey = "model.name"

	// EstimatorIDKey provides a unique identifier for a specific model instance.
	// DML models attach a UUID so that parallel fits can be told apart.
	EstimatorIDKey = "estimator.id"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "bootstrap", "tune"
	OperationKey = "ml.operation"

	// ComponentKey identifies which component or package is performing the operation.
	// Examples: "dml", "model_selection", "linear"
	ComponentKey = "ml.component"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns) in the dataset.
	FeaturesKey = "data.features"

	// TreatmentsKey indicates the number of treatment variables.
	TreatmentsKey = "data.treatments"

	// InstrumentsKey indicates the number of instrumental variables.
	InstrumentsKey = "data.instruments"

	// ClustersKey indicates the number of cluster dimensions.
	ClustersKey = "data.cluster_vars"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// LossKey records loss value during training or evaluation.
	LossKey = "metrics.loss"

	// ScoreKey records a tuning score (higher is better).
	ScoreKey = "metrics.score"

	// IterationKey records the current iteration number during iterative processes.
	IterationKey = "training.iteration"
)

// Double machine learning context
// Every record written from inside the cross-fitting loop carries enough of
// these keys to locate it in the (repetition, fold, learner) grid.
const (
	// ProcedureKey is the aggregation procedure ("dml1" or "dml2").
	ProcedureKey = "dml.procedure"

	// ScoreNameKey is the orthogonal score ("partialling out", "IV-type", "LATE", "callable").
	ScoreNameKey = "dml.score"

	// NFoldsKey is the number of cross-fitting folds.
	NFoldsKey = "dml.n_folds"

	// NRepKey is the number of cross-fitting repetitions.
	NRepKey = "dml.n_rep"

	// LearnerKey is the nuisance learner name ("ml_l", "ml_m", "ml_g0", ...).
	LearnerKey = "dml.learner"

	// TreatmentKey is the treatment column name.
	TreatmentKey = "dml.treatment"

	// RepKey is the cross-fitting repetition index.
	RepKey = "dml.rep"

	// FoldKey is the fold index within a repetition.
	FoldKey = "dml.fold"

	// CoefKey is an estimated causal parameter.
	CoefKey = "dml.coef"

	// SEKey is an estimated standard error.
	SEKey = "dml.se"

	// BootMethodKey is the multiplier bootstrap weight distribution.
	BootMethodKey = "boot.method"

	// BootNRepKey is the number of bootstrap replications.
	BootNRepKey = "boot.n_rep"
)

// Error and Warning Context
const (
	// ErrorTypeKey categorizes the type of error encountered.
	// Examples: "ValidationError", "ConvergenceError", "NonFiniteError"
	ErrorTypeKey = "error.type"

	// StacktraceKey contains stack trace information for debugging.
	// Automatically populated when an error carrying a stack is logged.
	StacktraceKey = "error.stacktrace"
)

// Hyperparameters and Configuration
const (
	// HyperParamsKey contains learner hyperparameters as a structured object.
	HyperParamsKey = "model.hyperparams"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"

	// WorkersKey records the size of the worker pool.
	WorkersKey = "config.n_jobs"
)

// Standard attribute value constants for common operations.
const (
	OperationFit       = "fit"
	OperationPredict   = "predict"
	OperationBootstrap = "bootstrap"
	OperationTune      = "tune"
	OperationSolve     = "solve"
)
