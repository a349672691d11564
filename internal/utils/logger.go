package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// NewLogger returns a slog.Logger writing to stdout. Format is "json", "text",
// or "auto", which picks text for an interactive terminal and JSON otherwise.
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerTo(os.Stdout, level, format, isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))
}

// NewLoggerTo is NewLogger with an explicit writer and terminal flag.
func NewLoggerTo(w io.Writer, level, format string, terminal bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var useJSON bool
	switch strings.ToLower(format) {
	case "text":
		useJSON = false
	case "json":
		useJSON = true
	default:
		useJSON = !terminal
	}

	var handler slog.Handler
	if useJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// DiscardLogger is a logger that drops everything. Handy in tests.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
