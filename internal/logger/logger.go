// Package logger provides the structured logger shared by coachmic packages.
//
// It wraps log/slog with a package-level DefaultLogger whose level comes from
// the LOG_LEVEL environment variable, plus helpers for the voice subsystem.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu sync.RWMutex

	// DefaultLogger is the global structured logger instance.
	DefaultLogger *slog.Logger
)

func init() {
	DefaultLogger = newLogger(os.Stderr, ParseLevel(os.Getenv("LOG_LEVEL")))
}

// ParseLevel maps a LOG_LEVEL string to a slog level. Unknown values map to info.
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetLevel replaces the default logger with one at the given level.
func SetLevel(level slog.Level) {
	SetOutput(os.Stderr, level)
}

// SetOutput redirects the default logger, mainly for tests and the CLI.
func SetOutput(w io.Writer, level slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	DefaultLogger = newLogger(w, level)
}

// SetVerbose enables debug-level logging when verbose is true.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
		return
	}
	SetLevel(slog.LevelInfo)
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return DefaultLogger
}

// Info logs an informational message with key-value attributes.
func Info(msg string, args ...any) {
	current().Info(msg, args...)
}

// Debug logs a debug-level message.
func Debug(msg string, args ...any) {
	current().Debug(msg, args...)
}

// Warn logs a recoverable problem.
func Warn(msg string, args ...any) {
	current().Warn(msg, args...)
}

// Error logs an error that affected an operation.
func Error(msg string, args ...any) {
	current().Error(msg, args...)
}

// With returns a logger carrying the given attributes.
func With(args ...any) *slog.Logger {
	return current().With(args...)
}
