// Package logging builds the structured logger used by the supervisor.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/Paintersrp/corral/internal/config"
)

// New creates a logger for cfg writing to stdout or stderr. An empty format
// selects text when the destination is a terminal and JSON otherwise.
func New(cfg config.LoggingSpec, version string) *slog.Logger {
	var output *os.File
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	default:
		output = os.Stderr
	}
	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "json"
		if term.IsTerminal(int(output.Fd())) {
			format = "text"
		}
	}
	return NewWithWriter(output, format, cfg.Level, version)
}

// NewWithWriter creates a logger writing to w in the given format.
func NewWithWriter(w io.Writer, format, level, version string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	attrs := []slog.Attr{slog.String("service", "corral")}
	if version != "" {
		attrs = append(attrs, slog.String("version", version))
	}
	return slog.New(handler.WithAttrs(attrs))
}

// ParseLevel converts a level name to a slog.Level, defaulting to info.
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
