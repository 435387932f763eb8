package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	causalErrors "github.com/YuminosukeSato/causalgo/pkg/errors"
)

// ZerologLogger implements Logger on top of zerolog.
// 同じプロバイダから作られたロガーはレベルを共有します。
type ZerologLogger struct {
	zl    zerolog.Logger
	level *atomic.Int64
}

// NewZerologLogger creates a Logger writing JSON lines to w.
func NewZerologLogger(w io.Writer, level Level) *ZerologLogger {
	lv := new(atomic.Int64)
	lv.Store(int64(level))
	return &ZerologLogger{
		zl:    zerolog.New(w).With().Timestamp().Logger(),
		level: lv,
	}
}

func (z *ZerologLogger) Debug(msg string, fields ...any) { z.emit(LevelDebug, msg, fields) }
func (z *ZerologLogger) Info(msg string, fields ...any)  { z.emit(LevelInfo, msg, fields) }
func (z *ZerologLogger) Warn(msg string, fields ...any)  { z.emit(LevelWarn, msg, fields) }
func (z *ZerologLogger) Error(msg string, fields ...any) { z.emit(LevelError, msg, fields) }

// With implements Logger.With.
func (z *ZerologLogger) With(fields ...any) Logger {
	ctx := z.zl.With()
	fields = normalizeFields(fields)
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprint(fields[i])
		switch v := fields[i+1].(type) {
		case error:
			ctx = ctx.AnErr(key, v)
		case zerolog.LogObjectMarshaler:
			ctx = ctx.Object(key, v)
		default:
			ctx = ctx.Interface(key, v)
		}
	}
	return &ZerologLogger{zl: ctx.Logger(), level: z.level}
}

// Enabled implements Logger.Enabled.
func (z *ZerologLogger) Enabled(_ context.Context, level Level) bool {
	return int64(level) >= z.level.Load()
}

func (z *ZerologLogger) emit(level Level, msg string, fields []any) {
	if !z.Enabled(context.Background(), level) {
		return
	}
	e := z.zl.WithLevel(toZerologLevel(level))
	fields = normalizeFields(fields)
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprint(fields[i])
		switch v := fields[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
			if key == ErrAttrKey {
				if st := extractStacktrace(v); st != "" {
					e = e.Str(StacktraceKey, st)
				}
				var m zerolog.LogObjectMarshaler
				if causalErrors.As(v, &m) {
					e = e.Object("error.detail", m)
				}
			}
		case zerolog.LogObjectMarshaler:
			e = e.Object(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	e.Msg(msg)
}

func toZerologLevel(level Level) zerolog.Level {
	switch {
	case level <= LevelDebug:
		return zerolog.DebugLevel
	case level <= LevelInfo:
		return zerolog.InfoLevel
	case level <= LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// zerologProvider implements LoggerProvider.
type zerologProvider struct {
	root *ZerologLogger
}

// NewZerologProvider returns a provider whose loggers write to w.
func NewZerologProvider(w io.Writer, level Level) LoggerProvider {
	return &zerologProvider{root: NewZerologLogger(w, level)}
}

func (p *zerologProvider) GetLogger() Logger { return p.root }

func (p *zerologProvider) GetLoggerWithName(name string) Logger {
	return p.root.With(ComponentKey, name)
}

func (p *zerologProvider) SetLevel(level Level) { p.root.level.Store(int64(level)) }

// ===========================================================================
// パッケージレベルのプロバイダ
// ===========================================================================

var (
	providerMu sync.RWMutex
	provider   LoggerProvider = NewZerologProvider(os.Stderr, LevelWarn)
)

// SetProvider replaces the package-level provider.
func SetProvider(p LoggerProvider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	provider = p
}

// GetLogger returns the default logger of the package-level provider.
func GetLogger() Logger {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return provider.GetLogger()
}

// GetLoggerWithName returns a logger tagged with the given component name.
func GetLoggerWithName(name string) Logger {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return provider.GetLoggerWithName(name)
}

// SetLevel sets the minimum level of the package-level provider.
func SetLevel(level Level) {
	providerMu.RLock()
	defer providerMu.RUnlock()
	provider.SetLevel(level)
}

// RouteWarnings sends warnings raised through errors.Warn to the
// package-level logger instead of the standard library logger.
func RouteWarnings() {
	causalErrors.SetZerologWarnFunc(func(w error) {
		GetLoggerWithName("warnings").Warn(w.Error(), ErrorTypeKey, fmt.Sprintf("%T", w), "warning", w)
	})
}
