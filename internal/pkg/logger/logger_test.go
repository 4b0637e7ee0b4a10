package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerOutput(t *testing.T) {
	var buf bytes.Buffer

	log := New(Config{
		Level:       "debug",
		Format:      "json",
		Output:      &buf,
		ServiceName: "serenity-api",
	})

	log.Info("making provider request", "endpoint", "/scrape")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output as JSON: %v", err)
	}
	if entry["msg"] != "making provider request" {
		t.Errorf("expected msg, got %v", entry["msg"])
	}
	if entry["endpoint"] != "/scrape" {
		t.Errorf("expected endpoint='/scrape', got %v", entry["endpoint"])
	}
	if entry["service"] != "serenity-api" {
		t.Errorf("expected service='serenity-api', got %v", entry["service"])
	}
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		logFn     func(*Logger)
		shouldLog bool
	}{
		{"info level logs info", "info", func(l *Logger) { l.Info("test") }, true},
		{"info level drops debug", "info", func(l *Logger) { l.Debug("test") }, false},
		{"debug level logs debug", "debug", func(l *Logger) { l.Debug("test") }, true},
		{"error level drops info", "error", func(l *Logger) { l.Info("test") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.logFn(New(Config{Level: tt.level, Output: &buf}))
			if (buf.Len() > 0) != tt.shouldLog {
				t.Errorf("expected shouldLog=%v, got output %q", tt.shouldLog, buf.String())
			}
		})
	}
}

func TestWithHelpers(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Output: &buf})

	log.WithComponent("renderer").WithCaptureID("cap_42").Info("stored")

	out := buf.String()
	for _, want := range []string{"renderer", "cap_42"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got: %s", want, out)
		}
	}

	if log.WithError(nil) != log {
		t.Error("WithError(nil) should return same logger")
	}
	buf.Reset()
	log.WithError(context.DeadlineExceeded).Info("x")
	if !strings.Contains(buf.String(), "deadline exceeded") {
		t.Errorf("expected error in output, got: %s", buf.String())
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Output: &buf})

	ctx := ContextWithRequestID(context.Background(), "req-abc")
	ctx = ContextWithCaptureID(ctx, "cap-xyz")

	log.FromContext(ctx).Info("test message")

	out := buf.String()
	if !strings.Contains(out, "req-abc") || !strings.Contains(out, "cap-xyz") {
		t.Errorf("expected request and capture ids, got: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"debug", "DEBUG"},
		{"INFO", "INFO"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"", "INFO"},
		{"verbose", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input).String(); got != tt.expected {
				t.Errorf("parseLevel(%q) = %s, expected %s", tt.input, got, tt.expected)
			}
		})
	}
}
