// Package logger provides structured logging using log/slog.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// LevelTrace is more verbose than debug, for detailed tracing.
const LevelTrace = slog.Level(-8)

var (
	defaultLogger *slog.Logger
	levelVar      = new(slog.LevelVar)
	currentFormat string
	output        io.Writer
	mu            sync.RWMutex
)

// Init initializes the global logger with the specified level and format.
func Init(level, format string) {
	mu.Lock()
	defer mu.Unlock()

	if defaultLogger == nil {
		output = os.Stdout
	}
	currentFormat = format
	levelVar.Set(parseLevel(level))
	defaultLogger = newLogger(format, output)
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch level {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// handlerOptions builds slog handler options rendering the custom trace level.
func handlerOptions(level slog.Leveler) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				level := a.Value.Any().(slog.Level)
				if level == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
}

// newLogger creates a new logger with the current levelVar.
func newLogger(format string, w io.Writer) *slog.Logger {
	opts := handlerOptions(levelVar)

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// New creates a new logger with the specified configuration.
func New(level, format string, w io.Writer) *slog.Logger {
	opts := handlerOptions(parseLevel(level))

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// Reconfigure changes the log level and/or format at runtime.
func Reconfigure(level, format string) {
	mu.Lock()
	levelVar.Set(parseLevel(level))

	// Recreate handler if format changed
	if format != currentFormat {
		currentFormat = format
		defaultLogger = newLogger(format, output)
	}
	mu.Unlock()

	Info("logger_reconfigured", "level", level, "format", format)
}

// Default returns the default logger, initializing it if necessary.
func Default() *slog.Logger {
	mu.RLock()
	logger := defaultLogger
	mu.RUnlock()

	if logger == nil {
		Init("info", "json")
		mu.RLock()
		logger = defaultLogger
		mu.RUnlock()
	}
	return logger
}

// Trace logs at trace level (more verbose than debug).
func Trace(msg string, args ...any) {
	Default().Log(context.Background(), LevelTrace, msg, args...)
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}

// With returns a new logger with the given attributes.
func With(args ...any) *slog.Logger {
	return Default().With(args...)
}

// WithGroup returns a new logger with the given group name.
func WithGroup(name string) *slog.Logger {
	return Default().WithGroup(name)
}

// LogAcquire logs a credential acquisition with standard fields.
func LogAcquire(credential string, candidates int) {
	Default().Debug("credential_acquired",
		"credential", credential,
		"candidates", candidates,
	)
}

// LogCooldown logs a credential entering cooldown.
func LogCooldown(credential string, failures int, until time.Time) {
	Default().Warn("credential_cooldown",
		"credential", credential,
		"failures", failures,
		"until", until.Format(time.RFC3339),
	)
}

// LogRecovery logs a credential returning from cooldown.
func LogRecovery(credential string) {
	Default().Info("credential_recovered", "credential", credential)
}

// LogDialFailure logs a failed session establishment for a credential.
func LogDialFailure(credential string, err error) {
	Default().Error("credential_dial_failed",
		"credential", credential,
		"error", err.Error(),
	)
}

// LogError logs an error with context.
func LogError(operation string, err error, args ...any) {
	allArgs := append([]any{"operation", operation, "error", err.Error()}, args...)
	Default().Error("error", allArgs...)
}
