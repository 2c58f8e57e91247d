// Package logging provides a tiny abstraction over slog so the rest of the
// module can depend on a minimal interface (Logger) while callers plug in
// any structured logger. It also offers a richer RunLogger with contextual
// helpers (run, phase, component) and domain specific helpers for phase
// execution and decode fallbacks.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Level is a thin enum for user friendly level configuration decoupled from slog.
type Level int

const (
	// LevelDebug is the debug logging level.
	LevelDebug Level = iota
	// LevelInfo is the informational logging level.
	LevelInfo
	// LevelWarn is the warning logging level.
	LevelWarn
	// LevelError is the error logging level.
	LevelError
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string onto a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger defines the minimal logging interface used across the module.
// Arguments follow slog key/value pair conventions.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// DiagnosticLogger extends Logger with domain diagnostics carrying
// consistent fields. RunLogger implements it; the engine records phase
// executions and decode fallbacks through it when the configured logger
// supports it.
type DiagnosticLogger interface {
	Logger
	LogPhaseExecution(phase string, dur time.Duration, success bool, err error)
	LogDecodeFallback(phase string, rawLen int)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// NoOpLogger discards all log messages. Useful for testing or when logging
// is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// Config configures construction of a RunLogger.
type Config struct {
	Level     Level
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultConfig returns a baseline JSON info level configuration.
func DefaultConfig() *Config {
	return &Config{Level: LevelInfo, Format: "json", Output: os.Stdout}
}

// RunLogger wraps slog.Logger adding contextual cloning helpers and domain
// convenience methods. Cheap to copy via With* methods.
type RunLogger struct {
	logger    *slog.Logger
	level     Level
	component string
	runID     string
	phase     string
}

// New builds a RunLogger from a config (or defaults if nil).
func New(cfg *Config) *RunLogger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return &RunLogger{logger: slog.New(handler), level: cfg.Level, component: cfg.Component}
}

func slogLevel(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent sets the logical component (engine, server, executor).
func (l *RunLogger) WithComponent(c string) *RunLogger {
	nl := *l
	nl.component = c
	return &nl
}

// WithRun attaches a run identifier to every entry.
func (l *RunLogger) WithRun(runID string) *RunLogger {
	nl := *l
	nl.runID = runID
	return &nl
}

// WithPhase attaches a phase name to every entry.
func (l *RunLogger) WithPhase(phase string) *RunLogger {
	nl := *l
	nl.phase = phase
	return &nl
}

func (l *RunLogger) attrs(extra []any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(extra)/2+3)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	if l.runID != "" {
		attrs = append(attrs, slog.String("run_id", l.runID))
	}
	if l.phase != "" {
		attrs = append(attrs, slog.String("phase", l.phase))
	}
	for i := 0; i+1 < len(extra); i += 2 {
		key, ok := extra[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Any(key, extra[i+1]))
	}
	return attrs
}

func (l *RunLogger) log(level slog.Level, allowed bool, msg string, args ...any) {
	if !allowed {
		return
	}
	l.logger.LogAttrs(context.Background(), level, msg, l.attrs(args)...)
}

// Debug logs at debug level.
func (l *RunLogger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, l.level <= LevelDebug, msg, args...)
}

// Info logs at info level.
func (l *RunLogger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, l.level <= LevelInfo, msg, args...)
}

// Warn logs at warn level.
func (l *RunLogger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, l.level <= LevelWarn, msg, args...)
}

// Error logs at error level.
func (l *RunLogger) Error(msg string, args ...any) {
	l.log(slog.LevelError, l.level <= LevelError, msg, args...)
}

// LogPhaseExecution records execution details for one phase.
func (l *RunLogger) LogPhaseExecution(phase string, dur time.Duration, success bool, err error) {
	attrs := l.attrs(nil)
	attrs = append(attrs, slog.String("phase", phase), slog.Duration("duration", dur), slog.Bool("success", success))
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	level, msg := slog.LevelInfo, "Phase execution completed"
	if !success {
		level, msg = slog.LevelError, "Phase execution failed"
	}
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// LogDecodeFallback records a decode failure recovered with raw-text fallback.
func (l *RunLogger) LogDecodeFallback(phase string, rawLen int) {
	attrs := l.attrs(nil)
	attrs = append(attrs, slog.String("phase", phase), slog.Int("raw_len", rawLen))
	l.logger.LogAttrs(context.Background(), slog.LevelWarn, "Generator output kept as opaque text", attrs...)
}

var _ DiagnosticLogger = (*RunLogger)(nil)
