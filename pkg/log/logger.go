package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// SetupLogger configures the package-level provider.
// backend は "zerolog" (既定) または "slog" を指定します。
func SetupLogger(backend, loglevel string, w io.Writer) error {
	level, err := ToLogLevel(loglevel)
	if err != nil {
		return err
	}
	if w == nil {
		w = os.Stderr
	}

	switch strings.ToLower(backend) {
	case "", "zerolog":
		SetProvider(NewZerologProvider(w, level))
	case "slog":
		SetProvider(NewSlogProvider(w, level))
	default:
		return fmt.Errorf("invalid log backend: %s", backend)
	}
	return nil
}

// ToLogLevel parses a level name.
func ToLogLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "info", "":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "warn":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func toSlogLevel(level Level) slog.Level {
	return slog.Level(level)
}

const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = StacktraceKey
)

// ErrAttr is a wrapper to pass err to slog.
func ErrAttr(err error) slog.Attr {
	return slog.Any(ErrAttrKey, err)
}

// slogLogger adapts *slog.Logger to Logger.
type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps h with ErrFmtHandler and returns it as a Logger.
func NewSlogLogger(h slog.Handler) Logger {
	return &slogLogger{l: slog.New(WrapByErrFmtHandler(h))}
}

func (s *slogLogger) Debug(msg string, fields ...any) { s.l.Debug(msg, normalizeFields(fields)...) }
func (s *slogLogger) Info(msg string, fields ...any)  { s.l.Info(msg, normalizeFields(fields)...) }
func (s *slogLogger) Warn(msg string, fields ...any)  { s.l.Warn(msg, normalizeFields(fields)...) }
func (s *slogLogger) Error(msg string, fields ...any) { s.l.Error(msg, normalizeFields(fields)...) }

func (s *slogLogger) With(fields ...any) Logger {
	return &slogLogger{l: s.l.With(normalizeFields(fields)...)}
}

func (s *slogLogger) Enabled(ctx context.Context, level Level) bool {
	return s.l.Enabled(ctx, toSlogLevel(level))
}

// normalizeFields は先頭にerrorが渡された場合にキー "error" を補います。
func normalizeFields(fields []any) []any {
	if len(fields) > 0 {
		if err, ok := fields[0].(error); ok {
			out := make([]any, 0, len(fields)+1)
			out = append(out, ErrAttrKey, err)
			return append(out, fields[1:]...)
		}
	}
	return fields
}

// slogProvider implements LoggerProvider on top of a JSON slog handler.
type slogProvider struct {
	w     io.Writer
	level *slog.LevelVar
	root  Logger
}

// NewSlogProvider returns a provider writing JSON records to w.
func NewSlogProvider(w io.Writer, level Level) LoggerProvider {
	lv := new(slog.LevelVar)
	lv.Set(toSlogLevel(level))
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lv})
	return &slogProvider{w: w, level: lv, root: NewSlogLogger(h)}
}

func (p *slogProvider) GetLogger() Logger { return p.root }

func (p *slogProvider) GetLoggerWithName(name string) Logger {
	return p.root.With(ComponentKey, name)
}

func (p *slogProvider) SetLevel(level Level) { p.level.Set(toSlogLevel(level)) }
