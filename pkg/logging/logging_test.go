package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

// TestDefaultLoggerIsSilent verifies the nop handler reports every level disabled
func TestDefaultLoggerIsSilent(t *testing.T) {
	SetLogger(nil)
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if Logger().Enabled(t.Context(), level) {
			t.Errorf("Expected level %v to be disabled by default", level)
		}
	}
}

// TestSetLogger verifies records reach the installed handler
func TestSetLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer SetLogger(nil)

	Logger().Info("device created", "workers", 4)
	if !strings.Contains(buf.String(), "device created") {
		t.Errorf("Expected log output to contain message, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q): expected %v, got %v", in, want, got)
		}
	}
}
