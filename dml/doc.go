// Package dml implements double/debiased machine learning for the partially
// linear regression (PLR), the partially linear IV regression (PLIV) and the
// interactive IV model (IIVM).
//
// Every model runs the same pipeline per cross-fitting repetition:
//
//  1. the sample is split into folds (model_selection.Resampling or
//     model_selection.ClusterResampling),
//  2. the nuisance learners are fitted on the train rows of each fold and
//     predict its test rows (CrossValPredict),
//  3. the predictions are assembled into the score elements psi_a and psi_b,
//  4. θ is solved per fold and averaged (DML1) or solved once on the pooled
//     folds (DML2), in closed form or with SolveRoot,
//  5. the standard error follows from the score and its derivative.
//
// Repetitions are combined by the median. Bootstrap adds multiplier bootstrap
// draws of the coefficient and the t-statistic.
//
// Example:
//
//	data, _ := dml.NewData(y, d, x)
//	plr, err := dml.NewPLR(data, linear.NewLinearRegression(), linear.NewLinearRegression(),
//	    dml.WithNFolds(5), dml.WithSeed(42))
//	if err != nil {
//	    return err
//	}
//	if err := plr.Fit(ctx); err != nil {
//	    return err
//	}
//	summary, _ := plr.Summary()
package dml
