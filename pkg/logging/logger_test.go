package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		enable  slog.Level
		disable slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug, slog.LevelDebug - 4},
		{"warn level", "warn", slog.LevelWarn, slog.LevelInfo},
		{"warning alias", "WARNING", slog.LevelWarn, slog.LevelInfo},
		{"error level", "error", slog.LevelError, slog.LevelWarn},
		{"default info", "", slog.LevelInfo, slog.LevelDebug},
		{"unknown falls back to info", "verbose", slog.LevelInfo, slog.LevelDebug},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level)
			if !logger.Enabled(ctx, tt.enable) {
				t.Fatalf("expected level %s to be enabled", tt.enable)
			}
			if logger.Enabled(ctx, tt.disable) {
				t.Fatalf("expected level %s to be disabled", tt.disable)
			}
		})
	}
}

func TestComponentAddsAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("info", &buf).Component("triage").With("intake_id", "abc")
	logger.Info("processed")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record["component"] != "triage" {
		t.Fatalf("expected component attribute, got %#v", record)
	}
	if record["intake_id"] != "abc" {
		t.Fatalf("expected intake_id attribute, got %#v", record)
	}
	if record["msg"] != "processed" {
		t.Fatalf("unexpected msg %v", record["msg"])
	}
}

func TestNilLoggerWithFallsBack(t *testing.T) {
	var logger *Logger
	child := logger.With("k", "v")
	if child == nil || child.Logger == nil {
		t.Fatal("expected usable child logger")
	}
}
