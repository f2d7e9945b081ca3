// Package logging builds the root slog logger of the daemon.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/trymwestin/fenotek/internal/config"
)

// Service is attached to every record.
const Service = "fenotekd"

// New returns a logger writing to w in the configured format (text or json)
// at the configured level. Unknown values fall back to text and info.
func New(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{slog.String("service", Service)})
	return slog.New(handler)
}

// ParseLevel maps debug, info, warn(ing) and error to slog levels. Anything
// else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// Component returns a child logger tagged with the component name.
func Component(log *slog.Logger, name string) *slog.Logger {
	return log.With("component", name)
}
