package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/causalgo/core/model"
	"github.com/YuminosukeSato/causalgo/report"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := newApp(&stdout, &stderr).Run(context.Background(), append([]string{"dml", "--log-level", "error"}, args...))
	return stdout.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		cfg, err := loadConfig("")
		require.NoError(t, err)
		assert.Equal(t, defaultConfig(), cfg)
	})

	t.Run("file over defaults", func(t *testing.T) {
		path := writeFile(t, "run.yaml", `
model: iivm
n_folds: 3
learners:
  ml_g: {type: ridge, params: {alpha: 2}}
bootstrap: {method: wild}
`)
		cfg, err := loadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "iivm", cfg.Model)
		assert.Equal(t, 3, cfg.NFolds)
		assert.Equal(t, 1, cfg.NRep)
		assert.Equal(t, "wild", cfg.Bootstrap.Method)
		assert.Equal(t, 500, cfg.Bootstrap.NRepBoot)
		assert.Equal(t, "ridge", cfg.Learners["ml_g"].Type)
		assert.Equal(t, "iivm", cfg.design())
	})

	t.Run("unknown keys are rejected", func(t *testing.T) {
		path := writeFile(t, "run.yaml", "n_fold: 3\n")
		_, err := loadConfig(path)
		assert.Error(t, err)
	})

	t.Run("validation", func(t *testing.T) {
		for _, mutate := range []func(*Config){
			func(c *Config) { c.Model = "ols" },
			func(c *Config) { c.Data.Path = "x.csv" },
			func(c *Config) { c.Bootstrap.Method = "pairs" },
			func(c *Config) { c.Output.Format = "xml" },
		} {
			cfg := defaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.validate())
		}
	})
}

func TestLearners(t *testing.T) {
	cfg := defaultConfig()
	cfg.Learners = map[string]LearnerConfig{"ml_l": {Type: "ridge", Params: map[string]interface{}{"alpha": 3}}}
	ls, err := cfg.learners()
	require.NoError(t, err)
	assert.Len(t, ls, 2)

	cfg.Learners["ml_q"] = LearnerConfig{Type: "linear"}
	_, err = cfg.learners()
	assert.Error(t, err)

	l, err := newLearner(LearnerConfig{Type: "logistic", Standardize: true, Params: map[string]interface{}{"C": 0.5}})
	require.NoError(t, err)
	_, isClassifier := l.(model.Classifier)
	assert.True(t, isClassifier)

	_, err = newLearner(LearnerConfig{Type: "forest"})
	assert.Error(t, err)
	_, err = newLearner(LearnerConfig{Type: "ridge", Params: map[string]interface{}{"depth": 3}})
	assert.Error(t, err)
}

func TestFitCommand(t *testing.T) {
	t.Run("simulated plr with flag overrides", func(t *testing.T) {
		path := writeFile(t, "run.yaml", `
data:
  simulate: {n: 300, dim_x: 5, theta: 0.5, seed: 1}
n_folds: 5
output: {format: yaml}
`)
		out, err := run(t, "fit", "--config", path, "--n-folds", "3", "--format", "json", "--seed", "4")
		require.NoError(t, err)

		var r report.Report
		require.NoError(t, json.Unmarshal([]byte(out), &r))
		assert.Equal(t, "DoubleMLPLR", r.Model)
		assert.Equal(t, 3, r.NFolds)
		assert.Equal(t, 300, r.NObs)
		assert.InDelta(t, 0.5, r.Coefficients[0].Coef, 0.2)
		assert.Nil(t, r.Bootstrap)
	})

	t.Run("iivm with bootstrap and plots", func(t *testing.T) {
		dir := t.TempDir()
		out, err := run(t, "fit", "--model", "iivm", "--bootstrap", "normal", "--n-boot", "100",
			"--format", "yaml", "--plot-dir", dir, "--seed", "2")
		require.NoError(t, err)

		var r report.Report
		require.NoError(t, yaml.Unmarshal([]byte(out), &r))
		assert.Equal(t, "DoubleMLIIVM", r.Model)
		assert.Equal(t, "LATE", r.Score)
		require.NotNil(t, r.Bootstrap)
		assert.Equal(t, 100, r.Bootstrap.NRepBoot)
		assert.FileExists(t, filepath.Join(dir, "coefficients.png"))
		assert.FileExists(t, filepath.Join(dir, "bootstrap_d1.png"))
	})

	t.Run("tuned ridge learners", func(t *testing.T) {
		path := writeFile(t, "run.yaml", `
data:
  simulate: {n: 200, dim_x: 4, theta: 1, seed: 3}
learners:
  ml_l: {type: ridge, standardize: true}
  ml_m: {type: ridge}
tune:
  on_folds: false
  grids:
    ml_l: {alpha: [0.01, 1, 100]}
`)
		outPath := filepath.Join(t.TempDir(), "report.json")
		_, err := run(t, "fit", "--config", path, "--out", outPath)
		require.NoError(t, err)
		b, err := os.ReadFile(outPath)
		require.NoError(t, err)
		assert.Contains(t, string(b), `"coefficients"`)
	})

	t.Run("tuned with the learner's own score", func(t *testing.T) {
		path := writeFile(t, "run.yaml", `
data:
  simulate: {n: 200, dim_x: 4, theta: 1, seed: 3}
tune:
  scoring: score
  grids:
    ml_l: {fit_intercept: [true, false]}
`)
		out, err := run(t, "fit", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, `"coefficients"`)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := run(t, "fit", "--model", "ols")
		assert.Error(t, err)
		_, err = run(t, "fit", "--config", "does-not-exist.yaml")
		assert.Error(t, err)
		_, err = run(t, "fit", "--data", "data.csv")
		assert.Error(t, err, "columns are required")
	})
}

func TestSimulateThenFit(t *testing.T) {
	dir := t.TempDir()
	for _, ext := range []string{".csv", ".xlsx"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(dir, "pliv"+ext)
			_, err := run(t, "simulate", "--design", "pliv", "--n", "300", "--dim-x", "4", "--dim-z", "2",
				"--theta", "1", "--seed", "5", "--out", path)
			require.NoError(t, err)

			out, err := run(t, "fit", "--model", "pliv", "--data", path, "--y", "y", "--d", "d1",
				"--z", "z1", "--z", "z2", "--n-folds", "2")
			require.NoError(t, err)
			var r report.Report
			require.NoError(t, json.Unmarshal([]byte(out), &r))
			assert.Equal(t, "DoubleMLPLIV", r.Model)
			assert.InDelta(t, 1, r.Coefficients[0].Coef, 0.3)
		})
	}

	t.Run("csv on stdout", func(t *testing.T) {
		out, err := run(t, "simulate", "--design", "cluster", "--n1", "3", "--n2", "3", "--dim-x", "2", "--one-way")
		require.NoError(t, err)
		assert.Contains(t, out, "y,d1,X1,X2,z1,cluster1\n")
	})

	t.Run("unknown design", func(t *testing.T) {
		_, err := run(t, "simulate", "--design", "rdd")
		assert.Error(t, err)
	})
}
