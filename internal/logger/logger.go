// Package logger provides structured logging setup for PromptDeck.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/promptdeck/promptdeck/internal/config"
)

// Async handler sizing. One worker keeps record order.
const (
	asyncBufferSize = 1024
	asyncWorkers    = 1
)

// level is shared by every logger built by New so the minimum level can be
// adjusted at runtime.
var level slog.LevelVar

// New creates a *slog.Logger from the given Logging config with a "service"
// attribute on every record. Format "auto" writes text when stdout is a
// terminal and JSON otherwise. When cfg.Async is set, records are handed off
// to a background worker; the returned Closer flushes it on shutdown.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	level.Set(parseLevel(cfg.Level))

	opts := &slog.HandlerOptions{Level: &level}
	var handler slog.Handler
	if resolveFormat(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	closer := Closer(nopCloser{})
	if cfg.Async {
		ah := NewAsyncHandler(handler, asyncBufferSize, asyncWorkers)
		handler = ah
		closer = ah
	}

	return slog.New(handler).With("service", cfg.Service), closer
}

// SetLevel adjusts the minimum level of every logger built by New.
func SetLevel(s string) {
	level.Set(parseLevel(s))
}

// resolveFormat maps "auto" to the terminal-appropriate format.
func resolveFormat(f string) string {
	if f == "auto" {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return "text"
		}
		return "json"
	}
	return f
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
