// Package logging configures the process-wide structured logger, adapted
// from HydraDNS's internal/logging to a single verbose switch (set by the
// caller from config.Config.LogLevel) instead of a full level/format config
// surface.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Config controls how the default logger is built.
type Config struct {
	Verbose    bool
	Structured bool
	Output     io.Writer
}

// Configure builds and installs the process-wide slog.Logger, returning it
// for callers that want a typed handle instead of going through the
// package-level default.
func Configure(cfg Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Structured {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
