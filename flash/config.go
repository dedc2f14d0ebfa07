package flash

import (
	"log/slog"
	"time"
)

// DefaultOpTimeout bounds the wait for a single erase or program.
// A 4 KiB sector erase takes up to 400-800 ms on common parts.
const DefaultOpTimeout = 3 * time.Second

// Config holds Disk settings.
type Config struct {
	// Geometry of the device. Leave zero to probe the driver at Init.
	Geometry Geometry

	// OpTimeout bounds the wait for each erase and program on drivers
	// implementing Waiter.
	OpTimeout time.Duration

	// SkipUnchanged compares the cached page against flash before a flush
	// and skips the erase/program pair when they already match.
	SkipUnchanged bool

	// ReadOnly rejects all writes.
	ReadOnly bool

	// Logger overrides the package default logger.
	Logger *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		OpTimeout:     DefaultOpTimeout,
		SkipUnchanged: true,
	}
}

// Option configures a Disk.
type Option func(*Config)

// WithGeometry sets a fixed geometry instead of probing.
func WithGeometry(g Geometry) Option {
	return func(c *Config) { c.Geometry = g }
}

// WithOpTimeout sets the erase/program completion timeout.
func WithOpTimeout(d time.Duration) Option {
	return func(c *Config) { c.OpTimeout = d }
}

// WithSkipUnchanged enables or disables the unchanged-page flush check.
func WithSkipUnchanged(skip bool) Option {
	return func(c *Config) { c.SkipUnchanged = skip }
}

// WithReadOnly makes the disk reject writes.
func WithReadOnly(readOnly bool) Option {
	return func(c *Config) { c.ReadOnly = readOnly }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
