// Package log configures the process-wide slog logger for the zaplet
// binaries.
package log

import (
	"log/slog"
	"os"
)

// Setup installs the default logger. Every record carries the service
// name so the three binaries are distinguishable in merged output.
// LOG_FORMAT=json switches to the JSON handler for log shippers.
func Setup(service, logLevel string) {
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler).With("service", service))
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
