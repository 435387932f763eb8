package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/YuminosukeSato/causalgo/core/model"
	"github.com/YuminosukeSato/causalgo/datasets"
	"github.com/YuminosukeSato/causalgo/dml"
	"github.com/YuminosukeSato/causalgo/linear"
	msel "github.com/YuminosukeSato/causalgo/model_selection"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
	"github.com/YuminosukeSato/causalgo/pkg/log"
	"github.com/YuminosukeSato/causalgo/preprocessing"
	"github.com/YuminosukeSato/causalgo/report"
	"github.com/YuminosukeSato/causalgo/sklearn/linear_model"
)

// estimator is what the CLI needs from a dml model.
type estimator interface {
	report.Source
	Fit(ctx context.Context) error
	Bootstrap(ctx context.Context, method string, nRepBoot int) (*dml.BootstrapResult, error)
	Tune(ctx context.Context, tuner msel.Tuner, grids map[string]msel.ParamGrid, tuneOnFolds bool) (dml.TuneResult, error)
}

// defaultLearners は設定で省略された学習器の型です。
var defaultLearners = map[string]map[string]string{
	"plr":            {"ml_l": "linear", "ml_m": "linear"},
	"pliv":           {"ml_l": "linear", "ml_m": "linear", "ml_r": "linear"},
	"pliv_partial_z": {"ml_r": "linear"},
	"iivm":           {"ml_g": "linear", "ml_m": "logistic", "ml_r": "logistic"},
}

func newLearner(cfg LearnerConfig) (model.Learner, error) {
	var l model.Learner
	switch strings.ToLower(cfg.Type) {
	case "linear", "":
		l = linear.NewLinearRegression()
	case "ridge":
		l = linear_model.NewRidge()
	case "logistic":
		l = linear_model.NewLogisticRegression()
	default:
		return nil, errors.NewValidationError("learner.type", "valid types are linear, ridge and logistic", cfg.Type)
	}
	if cfg.Standardize {
		var err error
		if l, err = preprocessing.Standardize(l); err != nil {
			return nil, err
		}
	}
	return model.CloneWithParams(l, cfg.Params)
}

// learners resolves every learner the model needs; ml_g is optional.
func (c *Config) learners() (map[string]model.Learner, error) {
	out := make(map[string]model.Learner)
	for name, typ := range defaultLearners[c.Model] {
		lc, ok := c.Learners[name]
		if !ok {
			lc = LearnerConfig{Type: typ}
		}
		l, err := newLearner(lc)
		if err != nil {
			return nil, errors.Wrapf(err, "learner %s", name)
		}
		out[name] = l
	}
	for name, lc := range c.Learners {
		if _, ok := out[name]; ok {
			continue
		}
		if name != "ml_g" || c.Model == "iivm" {
			return nil, errors.NewValidationError("learners", "unknown learner for model "+c.Model, name)
		}
		l, err := newLearner(lc)
		if err != nil {
			return nil, errors.Wrapf(err, "learner %s", name)
		}
		out[name] = l
	}
	return out, nil
}

func (c *Config) options(logger log.Logger) []dml.Option {
	opts := []dml.Option{
		dml.WithNFolds(c.NFolds),
		dml.WithNRep(c.NRep),
		dml.WithDMLProcedure(c.Procedure),
		dml.WithApplyCrossFitting(c.ApplyCrossFitting),
		dml.WithSeed(c.Seed),
		dml.WithLogger(logger),
	}
	if c.Score != "" {
		opts = append(opts, dml.WithScore(c.Score))
	}
	if c.NJobs != 0 {
		opts = append(opts, dml.WithNJobs(c.NJobs))
	}
	if c.Trimming > 0 {
		opts = append(opts, dml.WithTrimmingThreshold(c.Trimming))
	}
	return opts
}

func (c *Config) newEstimator(data *dml.Data, logger log.Logger) (estimator, error) {
	ls, err := c.learners()
	if err != nil {
		return nil, err
	}
	opts := c.options(logger)
	if g, ok := ls["ml_g"]; ok && c.Model != "iivm" {
		opts = append(opts, dml.WithMLG(g))
	}

	// 型付き nil をインタフェースに入れない
	switch c.Model {
	case "plr":
		m, err := dml.NewPLR(data, ls["ml_l"], ls["ml_m"], opts...)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "pliv":
		m, err := dml.NewPLIV(data, ls["ml_l"], ls["ml_m"], ls["ml_r"], opts...)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "pliv_partial_z":
		m, err := dml.NewPLIVPartialZ(data, ls["ml_r"], opts...)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "iivm":
		m, err := dml.NewIIVM(data, ls["ml_g"], ls["ml_m"], ls["ml_r"], opts...)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, errors.NewValidationError("model", "unknown model", c.Model)
}

// loadData reads data.path or simulates the configured design.
func (c *Config) loadData() (*dml.Data, error) {
	if c.Data.Path != "" {
		return datasets.Load(c.Data.Path, c.Data.Columns)
	}
	sim, err := simulate(c.design(), c.Data.Simulate)
	if err != nil {
		return nil, err
	}
	return sim.Data()
}

func simulate(design string, s SimulateConfig) (*datasets.Simulation, error) {
	switch design {
	case "plr":
		return datasets.MakePLR(s.N, s.DimX, s.Theta, s.Seed)
	case "pliv":
		return datasets.MakePLIV(s.N, s.DimX, s.DimZ, s.Theta, s.Seed)
	case "iivm":
		return datasets.MakeIIVM(s.N, s.DimX, s.Theta, s.AlphaX, s.Seed)
	case "cluster":
		sim, err := datasets.MakePLIVMultiwayCluster(s.N1, s.N2, s.DimX, s.Theta, s.Seed)
		if err != nil {
			return nil, err
		}
		if s.OneWay {
			sim.FirstClusterOnly()
		}
		return sim, nil
	}
	return nil, errors.NewValidationError("design", "valid designs are plr, pliv, iivm and cluster", design)
}

// runFit executes one estimation run and writes the report to stdout or output.path.
func runFit(ctx context.Context, cfg Config, stdout io.Writer) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	logger := log.GetLoggerWithName("cmd").With(log.ModelNameKey, cfg.Model, log.OperationKey, "fit")
	start := time.Now()

	data, err := cfg.loadData()
	if err != nil {
		return errors.Wrap(err, "load data")
	}
	est, err := cfg.newEstimator(data, log.GetLoggerWithName("dml"))
	if err != nil {
		return err
	}

	if cfg.Tune != nil && len(cfg.Tune.Grids) > 0 {
		tuner := msel.GridSearchCV{CV: 3, Scoring: cfg.Tune.Scoring, Seed: cfg.Seed, NJobs: cfg.NJobs,
			Logger: log.GetLoggerWithName("tune")}
		if _, err := est.Tune(ctx, tuner, cfg.Tune.Grids, cfg.Tune.OnFolds); err != nil {
			return errors.Wrap(err, "tune")
		}
	}
	if err := est.Fit(ctx); err != nil {
		return errors.Wrap(err, "fit")
	}

	var boot *dml.BootstrapResult
	if cfg.Bootstrap.Method != "" {
		boot, err = est.Bootstrap(ctx, cfg.Bootstrap.Method, cfg.Bootstrap.NRepBoot)
		if err != nil {
			return errors.Wrap(err, "bootstrap")
		}
	}

	r, err := report.New(est, cfg.Output.Level)
	if err != nil {
		return err
	}
	if err := writeReport(r, cfg.Output, stdout); err != nil {
		return err
	}
	if cfg.Output.PlotDir != "" {
		if err := writePlots(est, boot, cfg.Output); err != nil {
			return err
		}
	}

	logger.Info("run finished",
		log.EstimatorIDKey, est.ID(),
		log.SamplesKey, data.N(),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

func writeReport(r *report.Report, out OutputConfig, stdout io.Writer) error {
	if out.Path == "" {
		return r.Write(stdout, out.Format)
	}
	f, err := os.Create(out.Path)
	if err != nil {
		return errors.Wrapf(err, "create %s", out.Path)
	}
	if err := r.Write(f, out.Format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writePlots(est estimator, boot *dml.BootstrapResult, out OutputConfig) error {
	if err := os.MkdirAll(out.PlotDir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", out.PlotDir)
	}
	rows, err := est.Summary()
	if err != nil {
		return err
	}
	var intervals [][2]float64
	if boot != nil {
		if intervals, err = est.ConfInt(out.Level, true); err != nil {
			return err
		}
	}
	coef, err := report.CoefficientPlot(rows, intervals)
	if err != nil {
		return err
	}
	if err := report.Save(coef, filepath.Join(out.PlotDir, "coefficients.png")); err != nil {
		return err
	}
	if boot == nil {
		return nil
	}
	for j, row := range rows {
		hist, err := report.BootstrapHistogram(boot, j, row.Treatment, 40)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("bootstrap_%s.png", row.Treatment)
		if err := report.Save(hist, filepath.Join(out.PlotDir, name)); err != nil {
			return err
		}
	}
	return nil
}
