package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"error", slog.LevelError},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"info", slog.LevelInfo},
		{"Debug", slog.LevelDebug},
	}
	for _, tt := range tests {
		lvl, err := parseLogLevel(tt.in)
		if err != nil {
			t.Errorf("parseLogLevel(%q): %v", tt.in, err)
			continue
		}
		if got := lvl.slogLevel(); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := parseLogLevel("trace"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestSetupLogger_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hifideck.log")

	logger, closer := setupLogger(LogLevelWarn, LoggingConfig{File: path, MaxSizeMB: 1, MaxBackups: 1})
	logger.Info("filtered out")
	logger.Warn("catalog load failed", "source", "itunes")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(b)
	if !strings.Contains(out, `msg="catalog load failed" source=itunes`) {
		t.Fatalf("log file missing warn line:\n%s", out)
	}
	if strings.Contains(out, "filtered out") {
		t.Fatalf("info line written at warn level:\n%s", out)
	}
}
