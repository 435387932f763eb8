// Package report turns a fitted dml model into a serialisable summary and
// draws its bootstrap distribution and coefficient intervals with gonum/plot.
//
//	r, err := report.New(plr, 0.95)
//	if err != nil {
//	    return err
//	}
//	_ = r.Write(os.Stdout, report.FormatYAML)
package report
