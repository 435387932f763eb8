package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	causalErrors "github.com/YuminosukeSato/causalgo/pkg/errors"
)

func TestTestLogger(t *testing.T) {
	t.Run("levels and fields", func(t *testing.T) {
		testLogger, buffer := NewTestLogger(LevelDebug)

		testLogger.Debug("debug message", "key1", "value1", "number", 42)
		testLogger.Info("info message", OperationKey, OperationFit)
		testLogger.Warn("warning message", LearnerKey, "ml_m")
		testLogger.Error("error message", fmt.Errorf("test error"), FoldKey, 3)

		require.NotEmpty(t, buffer.String())
		for _, msg := range []string{"debug message", "info message", "warning message", "error message"} {
			assert.True(t, testLogger.ContainsMessage(msg), msg)
		}
		assert.True(t, testLogger.ContainsField("key1", "value1"))
		assert.True(t, testLogger.ContainsField("number", 42.0))
		assert.True(t, testLogger.ContainsField(ErrAttrKey, "test error"))
		assert.True(t, testLogger.ContainsField(FoldKey, 3.0))
	})

	t.Run("with carries context", func(t *testing.T) {
		testLogger, _ := NewTestLogger(LevelDebug)
		ctxLogger := testLogger.With(ModelNameKey, "DoubleMLPLR", EstimatorIDKey, "est-001")
		ctxLogger.Info("contextual message", RepKey, 1)

		entries, err := testLogger.GetLogEntries()
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "DoubleMLPLR", entries[0][ModelNameKey])
		assert.Equal(t, "est-001", entries[0][EstimatorIDKey])
		assert.Equal(t, 1.0, entries[0][RepKey])
		assert.Equal(t, "INFO", entries[0]["level"])
	})

	t.Run("enabled filters records", func(t *testing.T) {
		testLogger, _ := NewTestLogger(LevelInfo)
		ctx := context.Background()

		assert.True(t, testLogger.Enabled(ctx, LevelInfo))
		assert.True(t, testLogger.Enabled(ctx, LevelError))
		assert.False(t, testLogger.Enabled(ctx, LevelDebug))

		testLogger.Debug("hidden")
		testLogger.Info("shown")
		assert.False(t, testLogger.ContainsMessage("hidden"))
		assert.True(t, testLogger.ContainsMessage("shown"))
	})

	t.Run("concurrent writers", func(t *testing.T) {
		testLogger, _ := NewTestLogger(LevelInfo)
		var wg sync.WaitGroup
		for fold := 0; fold < 8; fold++ {
			wg.Add(1)
			go func(fold int) {
				defer wg.Done()
				testLogger.With(FoldKey, fold).Info("fold done", LearnerKey, "ml_l")
			}(fold)
		}
		wg.Wait()

		entries, err := testLogger.GetLogEntries()
		require.NoError(t, err)
		assert.Len(t, entries, 8)
	})
}

func TestTestLoggerProvider(t *testing.T) {
	provider, buffer := NewTestLoggerProvider(LevelDebug)

	provider.GetLogger().Info("provider message")
	provider.GetLoggerWithName("model_selection").Info("named message")
	provider.SetLevel(LevelError)
	provider.GetLogger().Info("suppressed")

	out := buffer.String()
	assert.Contains(t, out, "provider message")
	assert.Contains(t, out, "named message")
	assert.Contains(t, out, "model_selection")
	assert.NotContains(t, out, "suppressed")
}

func TestZerologLogger(t *testing.T) {
	t.Run("writes json with fields", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewZerologLogger(&buf, LevelInfo)
		logger.With(ModelNameKey, "DoubleMLIIVM").Info("fit finished", CoefKey, 0.5, NFoldsKey, 5)
		logger.Debug("not written")

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 1)

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
		assert.Equal(t, "fit finished", entry["message"])
		assert.Equal(t, "info", entry["level"])
		assert.Equal(t, "DoubleMLIIVM", entry[ModelNameKey])
		assert.Equal(t, 0.5, entry[CoefKey])
		assert.Equal(t, 5.0, entry[NFoldsKey])
	})

	t.Run("structured error detail and stack", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewZerologLogger(&buf, LevelDebug)
		err := causalErrors.NewNonFiniteError("ml_m", "d", 0, 5, 2)
		logger.Error("predictions rejected", err)

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Contains(t, entry[ErrAttrKey], "ml_m")
		assert.NotEmpty(t, entry[StacktraceKey])
		detail, ok := entry["error.detail"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "NonFiniteError", detail["type"])
		assert.Equal(t, 2.0, detail["n_bad"])
	})

	t.Run("provider level is shared", func(t *testing.T) {
		var buf bytes.Buffer
		provider := NewZerologProvider(&buf, LevelInfo)
		named := provider.GetLoggerWithName("dml")
		provider.SetLevel(LevelError)
		named.Info("dropped")
		named.Error("kept")

		assert.NotContains(t, buf.String(), "dropped")
		assert.Contains(t, buf.String(), "kept")
		assert.Contains(t, buf.String(), `"ml.component":"dml"`)
	})
}

func TestSetupLogger(t *testing.T) {
	t.Cleanup(func() { SetProvider(NewZerologProvider(&bytes.Buffer{}, LevelWarn)) })

	t.Run("slog backend", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, SetupLogger("slog", "debug", &buf))
		GetLoggerWithName("cli").Debug("slog record", fmt.Errorf("boom"), RandomSeedKey, 7)

		assert.Contains(t, buf.String(), "slog record")
		assert.Contains(t, buf.String(), `"error":"boom"`)
		assert.Contains(t, buf.String(), `"ml.component":"cli"`)
	})

	t.Run("zerolog backend with level change", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, SetupLogger("zerolog", "info", &buf))
		SetLevel(LevelError)
		GetLogger().Warn("hidden")
		GetLogger().Error("visible")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "visible")
	})

	t.Run("invalid values", func(t *testing.T) {
		assert.Error(t, SetupLogger("zerolog", "verbose", nil))
		assert.Error(t, SetupLogger("logrus", "info", nil))
	})
}

func TestRouteWarnings(t *testing.T) {
	var buf bytes.Buffer
	SetProvider(NewZerologProvider(&buf, LevelDebug))
	RouteWarnings()
	t.Cleanup(func() {
		causalErrors.SetZerologWarnFunc(nil)
		SetProvider(NewZerologProvider(&bytes.Buffer{}, LevelWarn))
	})

	causalErrors.Warn(causalErrors.NewPropensityWarning("ml_m", 0.01, 3))

	out := buf.String()
	assert.Contains(t, out, "propensity predictions of ml_m")
	assert.Contains(t, out, "*errors.PropensityWarning")
	assert.Contains(t, out, `"ml.component":"warnings"`)
}

