package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	for _, tc := range []struct {
		level  string
		format string
	}{
		{"debug", "console"},
		{"info", "json"},
		{"warn", "json"},
		{"bogus", "json"},
	} {
		logger, err := New(tc.level, tc.format)
		if err != nil {
			t.Fatalf("New(%q,%q): %v", tc.level, tc.format, err)
		}
		_ = logger.Sync()
	}
}

func TestNewDebugEnabled(t *testing.T) {
	logger, err := New("debug", "json")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if ce := logger.Check(zapcore.DebugLevel, "debug_check"); ce == nil {
		t.Fatalf("expected debug level to be enabled")
	}
	logger, err = New("error", "json")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if ce := logger.Check(zapcore.InfoLevel, "info_check"); ce != nil {
		t.Fatalf("expected info level to be disabled at error level")
	}
}
