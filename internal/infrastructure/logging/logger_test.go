package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/washbay-gateway/internal/infrastructure/config"
)

func TestNew_Formats(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LoggingConfig
	}{
		{"json stdout", config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}},
		{"text stderr", config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.cfg, "1.0.0")
			if logger == nil {
				t.Fatal("expected non-nil logger")
			}
			if err := logger.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}
		})
	}
}

func TestNew_FileOutputRotatesThroughLumberjack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gw.log")
	logger := New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "file",
		File:   config.FileLoggingConfig{Path: path, MaxSize: 1},
	}, "test")

	logger.Info("bay online", "bay_id", "bay1")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), `"bay_id":"bay1"`) {
		t.Errorf("log file missing entry, got %q", data)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLogger_With(t *testing.T) {
	logger := Default()
	child := logger.With("component", "modbus")

	if child == nil {
		t.Fatal("expected non-nil child logger")
	}
	if child == logger {
		t.Error("expected child logger to be different from parent")
	}
	if err := child.Close(); err != nil {
		t.Errorf("child Close() error = %v", err)
	}
}

func TestLogger_OutputContainsDefaultFields(t *testing.T) {
	var buf bytes.Buffer

	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}).
		WithAttrs([]slog.Attr{
			slog.String("service", serviceName),
			slog.String("version", "test"),
		})

	logger := &Logger{Logger: slog.New(handler)}
	logger.Info("status published", "bay_id", "bay2")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}

	if entry["service"] != serviceName {
		t.Errorf("service = %v, want %s", entry["service"], serviceName)
	}
	if entry["msg"] != "status published" {
		t.Errorf("msg = %v, want 'status published'", entry["msg"])
	}
	if entry["bay_id"] != "bay2" {
		t.Errorf("bay_id = %v, want bay2", entry["bay_id"])
	}
}
