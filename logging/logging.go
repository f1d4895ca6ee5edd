// Package logging provides the structured logging collaborator injected
// into the registry, ACL, and executor, backed by charmbracelet/log.
package logging

import (
	"os"

	cblog "github.com/charmbracelet/log"
)

// Logger is the narrow structured-logging surface every apcore-go
// component depends on. Consumers never reach for a package-level global;
// a Logger is always constructed and passed in.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(err error, msg string, kv ...any)
	With(kv ...any) Logger
}

type charmLogger struct {
	base *cblog.Logger
}

// New builds the default Logger, writing human-readable output to stderr
// at the given level ("debug", "info", "warn", "error"). An empty level
// defaults to "info".
func New(level string) Logger {
	l := cblog.NewWithOptions(os.Stderr, cblog.Options{
		ReportTimestamp: true,
	})
	l.SetLevel(parseLevel(level))
	return &charmLogger{base: l}
}

func parseLevel(level string) cblog.Level {
	switch level {
	case "debug":
		return cblog.DebugLevel
	case "warn":
		return cblog.WarnLevel
	case "error":
		return cblog.ErrorLevel
	default:
		return cblog.InfoLevel
	}
}

func (l *charmLogger) Debug(msg string, kv ...any) { l.base.Debug(msg, kv...) }
func (l *charmLogger) Info(msg string, kv ...any)  { l.base.Info(msg, kv...) }
func (l *charmLogger) Warn(msg string, kv ...any)  { l.base.Warn(msg, kv...) }

func (l *charmLogger) Error(err error, msg string, kv ...any) {
	if err != nil {
		kv = append(kv, "error", err)
	}
	l.base.Error(msg, kv...)
}

func (l *charmLogger) With(kv ...any) Logger {
	return &charmLogger{base: l.base.With(kv...)}
}

// Noop returns a Logger that discards everything, useful as a default for
// constructors that accept an optional *Logger but no logging dependency is
// configured.
func Noop() Logger {
	l := cblog.New(noopWriter{})
	l.SetLevel(cblog.FatalLevel + 1)
	return &charmLogger{base: l}
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
