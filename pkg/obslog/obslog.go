// Package obslog provides the governance core's structured logger,
// grounded on core/cmd/helm/main.go's use of log/slog: one JSON handler
// for production, swappable for a text handler in CLI/test mode.
package obslog

import (
	"io"
	"log/slog"
	"os"
)

// New returns a slog.Logger writing newline-delimited JSON to w (or
// os.Stderr if w is nil), tagged with component=name.
func New(name string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler).With("component", name)
}

// NewText returns a human-readable logger for CLI interactive use.
func NewText(name string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler).With("component", name)
}
