package logger

import (
	"context"
	"io"
	"log/slog"
)

// ANSI sequences per level; reset closes the colored level prefix.
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
)

// ColorTextHandler decorates slog.TextHandler with a colored level
// prefix on the message, for the interactive (non-file) daemon output.
type ColorTextHandler struct {
	*slog.TextHandler
	showTime bool
}

func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	return &ColorTextHandler{
		TextHandler: slog.NewTextHandler(w, opts),
		showTime:    showTime,
	}
}

// Handle implements slog.Handler
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	// Prefix the message with the colored level name
	r.Message = levelColor(r.Level) + r.Level.String() + ansiReset + "  " + r.Message
	return h.TextHandler.Handle(ctx, r)
}

func levelColor(l slog.Level) string {
	switch l {
	case slog.LevelDebug:
		return ansiCyan
	case slog.LevelInfo:
		return ansiGreen
	case slog.LevelWarn:
		return ansiYellow
	case slog.LevelError:
		return ansiRed
	default:
		return ansiReset
	}
}
