package main

import (
	"bytes"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/causalgo/datasets"
	"github.com/YuminosukeSato/causalgo/dml"
	msel "github.com/YuminosukeSato/causalgo/model_selection"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// Config is one estimation run. Command line flags override the file.
type Config struct {
	Model             string                   `yaml:"model"`
	Data              DataConfig               `yaml:"data"`
	Learners          map[string]LearnerConfig `yaml:"learners,omitempty"`
	NFolds            int                      `yaml:"n_folds"`
	NRep              int                      `yaml:"n_rep"`
	Procedure         string                   `yaml:"dml_procedure"`
	Score             string                   `yaml:"score,omitempty"`
	Seed              int64                    `yaml:"seed"`
	NJobs             int                      `yaml:"n_jobs,omitempty"`
	ApplyCrossFitting bool                     `yaml:"apply_cross_fitting"`
	Trimming          float64                  `yaml:"trimming_threshold,omitempty"`
	Tune              *TuneConfig              `yaml:"tune,omitempty"`
	Bootstrap         BootstrapConfig          `yaml:"bootstrap"`
	Output            OutputConfig             `yaml:"output"`
}

// DataConfig reads a table from Path or, without a path, simulates one.
type DataConfig struct {
	Path     string           `yaml:"path,omitempty"`
	Columns  datasets.Columns `yaml:"columns,omitempty"`
	Simulate SimulateConfig   `yaml:"simulate"`
}

// SimulateConfig selects a synthetic design.
type SimulateConfig struct {
	Design string  `yaml:"design,omitempty"` // plr, pliv, iivm, cluster
	N      int     `yaml:"n"`
	DimX   int     `yaml:"dim_x"`
	DimZ   int     `yaml:"dim_z,omitempty"`
	Theta  float64 `yaml:"theta"`
	AlphaX float64 `yaml:"alpha_x,omitempty"`
	N1     int     `yaml:"n1,omitempty"`
	N2     int     `yaml:"n2,omitempty"`
	OneWay bool    `yaml:"one_way,omitempty"`
	Seed   int64   `yaml:"seed"`
}

// LearnerConfig names a learner type ("linear", "ridge", "logistic") and
// its hyperparameters. Standardize scales covariates inside every fit.
type LearnerConfig struct {
	Type        string                 `yaml:"type"`
	Params      map[string]interface{} `yaml:"params,omitempty"`
	Standardize bool                   `yaml:"standardize,omitempty"`
}

// TuneConfig holds grid search settings per learner name.
type TuneConfig struct {
	OnFolds bool                      `yaml:"on_folds"`
	Scoring string                    `yaml:"scoring,omitempty"`
	Grids   map[string]msel.ParamGrid `yaml:"grids"`
}

// BootstrapConfig enables the multiplier bootstrap when Method is set.
type BootstrapConfig struct {
	Method   string `yaml:"method,omitempty"`
	NRepBoot int    `yaml:"n_rep_boot"`
}

// OutputConfig controls where the report and plots go.
type OutputConfig struct {
	Format  string  `yaml:"format"`
	Path    string  `yaml:"path,omitempty"`
	PlotDir string  `yaml:"plot_dir,omitempty"`
	Level   float64 `yaml:"level"`
}

func defaultConfig() Config {
	return Config{
		Model:             "plr",
		NFolds:            5,
		NRep:              1,
		Procedure:         string(dml.DML2),
		ApplyCrossFitting: true,
		Data: DataConfig{
			Simulate: SimulateConfig{N: 500, DimX: 20, DimZ: 1, Theta: 0.5, AlphaX: 1, N1: 25, N2: 25},
		},
		Bootstrap: BootstrapConfig{NRepBoot: 500},
		Output:    OutputConfig{Format: "json", Level: 0.95},
	}
}

// loadConfig reads a YAML file over the defaults. Unknown keys are rejected.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Model {
	case "plr", "pliv", "pliv_partial_z", "iivm":
	default:
		return errors.NewValidationError("model", "valid models are plr, pliv, pliv_partial_z and iivm", c.Model)
	}
	if c.Data.Path != "" && (c.Data.Columns.Y == "" || len(c.Data.Columns.D) == 0) {
		return errors.NewValidationError("data.columns", "y and d columns are required with data.path", c.Data.Columns)
	}
	if c.Bootstrap.Method != "" {
		if _, err := dml.ParseBootstrapMethod(c.Bootstrap.Method); err != nil {
			return err
		}
	}
	switch strings.ToLower(c.Output.Format) {
	case "json", "yaml", "yml":
	default:
		return errors.NewValidationError("output.format", "valid formats are json and yaml", c.Output.Format)
	}
	return nil
}

// design returns the simulation design, defaulting to the one matching the model.
func (c *Config) design() string {
	if c.Data.Simulate.Design != "" {
		return c.Data.Simulate.Design
	}
	switch c.Model {
	case "pliv", "pliv_partial_z":
		return "pliv"
	case "iivm":
		return "iivm"
	}
	return "plr"
}
