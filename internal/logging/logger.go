package logging

import (
	"log/slog"
	"os"
)

// NewLogger creates the process-wide logger for the sync daemon.
// Production emits JSON for log shippers; anything else emits
// human-readable text at debug level. Every record carries the app
// name so daemon output is identifiable in a shared journal.
func NewLogger(env string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler).With(slog.String("app", "emusync"))
}
