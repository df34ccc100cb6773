// Package logging builds vloop's slog.Logger from config.LogConfig.
//
// Loggers write to the writer they are given, normally the command's stderr,
// so traces and metrics printed on stdout stay machine-readable.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/snehjoshi/vloop/internal/config"
)

// New returns a logger for cfg writing to w. Level and format are matched
// case-insensitively; "warning" is accepted for warn. Unknown values are an
// error.
func New(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := levelOf(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}
}

// Component tags every record from log with component=name.
func Component(log *slog.Logger, name string) *slog.Logger {
	return log.With("component", name)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func levelOf(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("logging: unknown level %q", s)
}
