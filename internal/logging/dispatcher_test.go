package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/ctrldec/trafficmirror/internal/dispatcher"
)

var _ dispatcher.Logger = (*DispatcherLogger)(nil)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	return logEntry
}

func TestDispatcherLogger_Debug(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	dl := NewDispatcherLogger(logger)

	dl.Debug("handling event", "kind", "vehicle.vars", "tick", 42)

	logEntry := decode(t, &buf)
	if logEntry["level"] != "DEBUG" {
		t.Errorf("expected level 'DEBUG', got %v", logEntry["level"])
	}
	if logEntry["kind"] != "vehicle.vars" {
		t.Errorf("expected kind='vehicle.vars', got %v", logEntry["kind"])
	}
	if logEntry["tick"] != float64(42) {
		t.Errorf("expected tick=42, got %v", logEntry["tick"])
	}
	if logEntry["component"] != "dispatcher" {
		t.Errorf("expected component='dispatcher', got %v", logEntry["component"])
	}
}

func TestDispatcherLogger_Info(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	dl := NewDispatcherLogger(logger)

	dl.Info("info message", "status", "ok")

	logEntry := decode(t, &buf)
	if logEntry["level"] != "INFO" {
		t.Errorf("expected level 'INFO', got %v", logEntry["level"])
	}
	if logEntry["msg"] != "info message" {
		t.Errorf("expected msg 'info message', got %v", logEntry["msg"])
	}
}

func TestDispatcherLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	dl := NewDispatcherLogger(logger)

	dl.Error("event failed", "error", "boom")

	logEntry := decode(t, &buf)
	if logEntry["level"] != "ERROR" {
		t.Errorf("expected level 'ERROR', got %v", logEntry["level"])
	}
	if logEntry["error"] != "boom" {
		t.Errorf("expected error='boom', got %v", logEntry["error"])
	}
}

func TestDispatcherLogger_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	dl := NewDispatcherLogger(logger)

	dl.Debug("hidden")

	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}
