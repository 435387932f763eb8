package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/YuminosukeSato/causalgo/datasets"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
	"github.com/YuminosukeSato/causalgo/pkg/log"
)

var (
	version = "v0.0.1-default"

	logLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level [debug, info, warn, error]",
		Value:   "info",
		Sources: cli.EnvVars("DML_LOG_LEVEL"),
	}
	logBackendFlag = &cli.StringFlag{
		Name:  "log-backend",
		Usage: "Log backend [zerolog, slog]",
		Value: "zerolog",
	}
)

func newApp(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "dml",
		Usage:     "Double/debiased machine learning estimates of causal parameters",
		Version:   version,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags:     []cli.Flag{logLevelFlag, logBackendFlag},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if err := log.SetupLogger(cmd.String(logBackendFlag.Name), cmd.String(logLevelFlag.Name), stderr); err != nil {
				return ctx, err
			}
			log.RouteWarnings()
			return ctx, nil
		},
		Commands: []*cli.Command{
			fitCommand(),
			simulateCommand(),
		},
	}
}

func fitCommand() *cli.Command {
	return &cli.Command{
		Name:  "fit",
		Usage: "Fit a PLR, PLIV or IIVM model and print the report",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML run configuration"},
			&cli.StringFlag{Name: "model", Usage: "Model [plr, pliv, pliv_partial_z, iivm]"},
			&cli.StringFlag{Name: "data", Usage: "Input table (.csv or .xlsx); simulated when empty"},
			&cli.StringFlag{Name: "y", Usage: "Outcome column"},
			&cli.StringSliceFlag{Name: "d", Usage: "Treatment column(s)"},
			&cli.StringSliceFlag{Name: "x", Usage: "Covariate column(s); all remaining columns when empty"},
			&cli.StringSliceFlag{Name: "z", Usage: "Instrument column(s)"},
			&cli.StringSliceFlag{Name: "cluster", Usage: "Cluster column(s)"},
			&cli.IntFlag{Name: "n-folds", Usage: "Number of cross-fitting folds"},
			&cli.IntFlag{Name: "n-rep", Usage: "Number of repeated sample splits"},
			&cli.StringFlag{Name: "procedure", Usage: "DML procedure [dml1, dml2]"},
			&cli.StringFlag{Name: "score", Usage: "Score name"},
			&cli.Int64Flag{Name: "seed", Usage: "Seed of sample splitting and bootstrap"},
			&cli.StringFlag{Name: "bootstrap", Usage: "Bootstrap method [normal, Bayes, wild]"},
			&cli.IntFlag{Name: "n-boot", Usage: "Number of bootstrap draws"},
			&cli.FloatFlag{Name: "level", Usage: "Level of the joint intervals"},
			&cli.StringFlag{Name: "format", Usage: "Report format [json, yaml]"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Report file; stdout when empty"},
			&cli.StringFlag{Name: "plot-dir", Usage: "Directory for coefficient and bootstrap plots"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd.String("config"))
			if err != nil {
				return err
			}
			applyFlags(cmd, &cfg)
			return runFit(ctx, cfg, cmd.Root().Writer)
		},
	}
}

// applyFlags overrides cfg with every flag set on the command line.
func applyFlags(cmd *cli.Command, cfg *Config) {
	setString := func(name string, dst *string) {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}
	setStrings := func(name string, dst *[]string) {
		if cmd.IsSet(name) {
			*dst = cmd.StringSlice(name)
		}
	}
	setInt := func(name string, dst *int) {
		if cmd.IsSet(name) {
			*dst = cmd.Int(name)
		}
	}

	setString("model", &cfg.Model)
	setString("data", &cfg.Data.Path)
	setString("y", &cfg.Data.Columns.Y)
	setStrings("d", &cfg.Data.Columns.D)
	setStrings("x", &cfg.Data.Columns.X)
	setStrings("z", &cfg.Data.Columns.Z)
	setStrings("cluster", &cfg.Data.Columns.Cluster)
	setInt("n-folds", &cfg.NFolds)
	setInt("n-rep", &cfg.NRep)
	setString("procedure", &cfg.Procedure)
	setString("score", &cfg.Score)
	if cmd.IsSet("seed") {
		cfg.Seed = cmd.Int64("seed")
	}
	setString("bootstrap", &cfg.Bootstrap.Method)
	setInt("n-boot", &cfg.Bootstrap.NRepBoot)
	if cmd.IsSet("level") {
		cfg.Output.Level = cmd.Float("level")
	}
	setString("format", &cfg.Output.Format)
	setString("out", &cfg.Output.Path)
	setString("plot-dir", &cfg.Output.PlotDir)
}

func simulateCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "Draw a synthetic dataset and write it as CSV or XLSX",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "design", Value: "plr", Usage: "Design [plr, pliv, iivm, cluster]"},
			&cli.IntFlag{Name: "n", Value: 500, Usage: "Number of observations"},
			&cli.IntFlag{Name: "dim-x", Value: 20, Usage: "Number of covariates"},
			&cli.IntFlag{Name: "dim-z", Value: 1, Usage: "Number of instruments (pliv)"},
			&cli.FloatFlag{Name: "theta", Value: 0.5, Usage: "True effect"},
			&cli.FloatFlag{Name: "alpha-x", Value: 1, Usage: "Instrument strength (iivm)"},
			&cli.IntFlag{Name: "n1", Value: 25, Usage: "Row clusters (cluster)"},
			&cli.IntFlag{Name: "n2", Value: 25, Usage: "Column clusters (cluster)"},
			&cli.BoolFlag{Name: "one-way", Usage: "Keep only the first cluster variable (cluster)"},
			&cli.Int64Flag{Name: "seed", Usage: "Random seed"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file (.csv or .xlsx); CSV on stdout when empty"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sim, err := simulate(cmd.String("design"), SimulateConfig{
				N:      cmd.Int("n"),
				DimX:   cmd.Int("dim-x"),
				DimZ:   cmd.Int("dim-z"),
				Theta:  cmd.Float("theta"),
				AlphaX: cmd.Float("alpha-x"),
				N1:     cmd.Int("n1"),
				N2:     cmd.Int("n2"),
				OneWay: cmd.Bool("one-way"),
				Seed:   cmd.Int64("seed"),
			})
			if err != nil {
				return err
			}
			data, err := sim.Data()
			if err != nil {
				return err
			}

			path := cmd.String("out")
			if path == "" {
				return datasets.WriteCSV(cmd.Root().Writer, data)
			}
			f, err := os.Create(path)
			if err != nil {
				return errors.Wrapf(err, "create %s", path)
			}
			defer f.Close()
			switch strings.ToLower(filepath.Ext(path)) {
			case ".xlsx":
				err = datasets.WriteXLSX(f, data)
			default:
				err = datasets.WriteCSV(f, data)
			}
			if err != nil {
				return err
			}
			log.GetLoggerWithName("cmd").Info("dataset written",
				"path", path, "design", cmd.String("design"), log.SamplesKey, data.N())
			return nil
		},
	}
}
