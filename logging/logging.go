// Package logging builds the process-wide slog.Logger from config.LogConfig.
package logging

import (
	"log/slog"
	"os"
)

// New builds a slog.Logger writing to stdout, honoring level and format
// ("text" or "json"; anything else falls back to text).
func New(level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
