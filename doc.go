// Package causalgo estimates causal parameters with double/debiased machine
// learning (DML).
//
// Nuisance functions are learned by cross-fitting over K folds, plugged into
// Neyman-orthogonal scores and solved for the target parameter. Standard
// errors follow from the score variance; joint intervals and simultaneous
// inference come from a multiplier bootstrap.
//
// # Installation
//
//	go get github.com/YuminosukeSato/causalgo
//
// # Quick Start
//
//	sim, _ := datasets.MakePLR(500, 20, 0.5, 42)
//	data, _ := sim.Data()
//
//	plr, err := dml.NewPLR(data, linear.NewLinearRegression(), linear.NewLinearRegression(),
//	    dml.WithNFolds(5), dml.WithNRep(3), dml.WithSeed(1))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := plr.Fit(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	rows, _ := plr.Summary()
//	fmt.Printf("%s: %.3f (%.3f)\n", rows[0].Treatment, rows[0].Coef, rows[0].SE)
//
// # Packages
//
//   - dml: the PLR, PLIV and IIVM models, scores, solver, variance and bootstrap
//   - datasets: synthetic designs and CSV/XLSX tables
//   - report: JSON/YAML summaries and plots
//   - linear, sklearn/linear_model: nuisance learners
//   - preprocessing: per-fold feature scaling
//   - model_selection: fold generation and grid search
//   - metrics: scoring functions used by grid search
//   - core/model: learner interfaces and fitted-state bookkeeping
//   - core/parallel: worker pool for folds and repetitions
//   - pkg/errors, pkg/log: error types and structured logging
//
// The dml command (cmd/dml) runs a model from a YAML configuration file.
//
// # License
//
// causalgo is released under the MIT License.
package causalgo
