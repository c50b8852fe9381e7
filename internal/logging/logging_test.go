package logging

import (
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"dev", slog.LevelDebug},
		{"development", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelError},
		{"verbose", slog.LevelError},
	}
	for _, c := range cases {
		if got := parseLevel(c.name); got != c.want {
			t.Errorf("parseLevel(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}
