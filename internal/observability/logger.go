// Package observability provides logging, Prometheus metrics and OpenTelemetry
// tracing for the engine components.
package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the structured logger handed to every component.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	With(keysAndValues ...any) Logger
}

type zeroLogger struct {
	zl zerolog.Logger
}

// NewLogger builds a zerolog-backed Logger. format is "json" or "console".
func NewLogger(w io.Writer, level, format string) (Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return zeroLogger{zl: zl}, nil
}

// NopLogger discards everything.
func NopLogger() Logger {
	return zeroLogger{zl: zerolog.Nop()}
}

func (l zeroLogger) Debug(msg string, kv ...any) { l.emit(l.zl.Debug(), msg, kv) }
func (l zeroLogger) Info(msg string, kv ...any)  { l.emit(l.zl.Info(), msg, kv) }
func (l zeroLogger) Warn(msg string, kv ...any)  { l.emit(l.zl.Warn(), msg, kv) }
func (l zeroLogger) Error(msg string, kv ...any) { l.emit(l.zl.Error(), msg, kv) }

func (l zeroLogger) With(kv ...any) Logger {
	return zeroLogger{zl: l.zl.With().Fields(fields(kv)).Logger()}
}

func (l zeroLogger) emit(evt *zerolog.Event, msg string, kv []any) {
	if evt == nil {
		return
	}
	evt.Fields(fields(kv)).Msg(msg)
}

// fields turns alternating key/value pairs into a map; a dangling key gets
// a nil value and non-string keys are formatted.
func fields(kv []any) map[string]any {
	out := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		var val any
		if i+1 < len(kv) {
			val = kv[i+1]
		}
		if err, ok := val.(error); ok {
			val = err.Error()
		}
		out[key] = val
	}
	return out
}
