// Package app wires the playground editor together: one editing
// surface, its suggestion controller, and optionally a collaboration
// session with a binding between the shared document and the surface.
package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLogLevel parses a level name. Unknown names map to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// LoggerConfig configures NewLogger.
type LoggerConfig struct {
	// Level is the minimum level written.
	Level string
	// Format is "text" or "json". Default text.
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// NewLogger creates the process logger.
func NewLogger(cfg LoggerConfig) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLogLevel(cfg.Level)}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		h = slog.NewTextHandler(cfg.Output, opts)
	}
	return slog.New(h).With("app", "katalyst")
}

// WithComponent returns a logger tagging records with component. A nil
// logger yields a discarding one.
func WithComponent(l *slog.Logger, component string) *slog.Logger {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	return l.With("component", component)
}
