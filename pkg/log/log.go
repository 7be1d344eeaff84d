// Package log holds slog attribute helpers so call sites use the same keys.
package log

import (
	"io"
	"log/slog"
	"strings"
)

func Entity[T ~string](kind string, id T) slog.Attr {
	return slog.Group("entity", slog.String("type", kind), slog.String("id", string(id)))
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func Source(name string) slog.Attr {
	return slog.String("source", name)
}

func WorkflowID(id string) slog.Attr {
	return slog.String("workflow_id", id)
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

// New builds the process logger. Unknown levels fall back to info.
func New(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
