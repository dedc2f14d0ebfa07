package pkg

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Component identifies a subsystem for log filtering.
type Component string

// Storage stack component identifiers.
const (
	ComponentCache  Component = "cache"
	ComponentDisk   Component = "disk"
	ComponentProbe  Component = "probe"
	ComponentDriver Component = "driver"
	ComponentCLI    Component = "cli"
)

var (
	level         = new(slog.LevelVar)
	defaultLogger atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelWarn)
	defaultLogger.Store(NewLogger(os.Stderr, nil))
}

// Configure replaces the default logger with one writing text, or JSON if
// json is set, to w at the given minimum level.
func Configure(w io.Writer, lvl slog.Level, json bool) {
	level.Set(lvl)
	opts := &slog.HandlerOptions{Level: level}
	if json {
		defaultLogger.Store(slog.New(slog.NewJSONHandler(w, opts)))
		return
	}
	defaultLogger.Store(slog.New(slog.NewTextHandler(w, opts)))
}

// SetLogger replaces the default logger.
func SetLogger(l *slog.Logger) {
	defaultLogger.Store(l)
}

// Logger returns the default logger.
func Logger() *slog.Logger {
	return defaultLogger.Load()
}

// NewLogger creates a text logger writing to w. A nil opts follows the
// level set by Configure.
func NewLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: level}
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// With returns a logger derived from l (or the default logger when l is nil)
// that tags every record with the given component.
func With(l *slog.Logger, component Component) *slog.Logger {
	if l == nil {
		l = Logger()
	}
	return l.With("component", string(component))
}

func logAt(lvl slog.Level, component Component, msg string, args []any) {
	Logger().Log(context.Background(), lvl, msg, append([]any{"component", string(component)}, args...)...)
}

// LogDebug logs a debug message with the given component.
func LogDebug(component Component, msg string, args ...any) {
	logAt(slog.LevelDebug, component, msg, args)
}

// LogInfo logs an info message with the given component.
func LogInfo(component Component, msg string, args ...any) {
	logAt(slog.LevelInfo, component, msg, args)
}

// LogWarn logs a warning message with the given component.
func LogWarn(component Component, msg string, args ...any) {
	logAt(slog.LevelWarn, component, msg, args)
}

// LogError logs an error message with the given component.
func LogError(component Component, msg string, args ...any) {
	logAt(slog.LevelError, component, msg, args)
}
