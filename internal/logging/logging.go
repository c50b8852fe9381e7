// Package logging wires the process-wide slog default. Both binaries call
// Init before anything logs; everything downstream takes *slog.Logger values
// or falls back to slog.Default().
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init installs a text handler on stderr at the level named by LOG_LEVEL.
// Unset or unrecognized values mean errors only, which keeps CLI output
// clean around the interactive UI.
func Init() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LOG_LEVEL")),
	})
	slog.SetDefault(slog.New(handler))
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug", "dev", "development":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
