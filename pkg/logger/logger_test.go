package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		expectError bool
	}{
		{name: "default", config: DefaultConfig()},
		{name: "server", config: ServerConfig()},
		{name: "bad level", config: &Config{Level: "trace", Format: TextFormat, Output: StderrOutput}, expectError: true},
		{name: "bad format", config: &Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, expectError: true},
		{name: "file without path", config: &Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, expectError: true},
		{name: "writer overrides output", config: &Config{Level: InfoLevel, Format: TextFormat, Writer: &bytes.Buffer{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestFieldsSurviveChaining(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&Config{Level: DebugLevel, Format: JSONFormat, Writer: &buf})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	log.WithComponent("reconciler").
		WithField("bank_transaction_id", "B-1").
		WithError(errors.New("boom")).
		Warn("guard violated")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["component"] != "reconciler" {
		t.Errorf("expected component field, got %v", entry["component"])
	}
	if entry["bank_transaction_id"] != "B-1" {
		t.Errorf("expected bank_transaction_id field, got %v", entry["bank_transaction_id"])
	}
	if entry["error"] != "boom" {
		t.Errorf("expected error field, got %v", entry["error"])
	}
	if entry["level"] != "warning" {
		t.Errorf("expected warning level, got %v", entry["level"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&Config{Level: WarnLevel, Format: TextFormat, Writer: &buf, DisableTimestamp: true})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn message should be written")
	}
}

func TestProgressTracker(t *testing.T) {
	tracker := NewProgressTracker(ProgressConfig{Operation: "suggest", Total: 4, Logger: Discard()})
	for i := 0; i < 3; i++ {
		tracker.Increment()
	}

	stats := tracker.GetStats()
	if stats.Current != 3 {
		t.Errorf("expected 3 processed, got %d", stats.Current)
	}
	if stats.Percentage != 75 {
		t.Errorf("expected 75%%, got %.1f", stats.Percentage)
	}
	if !strings.Contains(stats.String(), "suggest: 3/4") {
		t.Errorf("unexpected stats string %q", stats.String())
	}
	tracker.Complete()
}

func TestTimedOperation(t *testing.T) {
	want := errors.New("failed")
	if got := TimedOperation("migrate", Discard(), func() error { return want }); got != want {
		t.Errorf("expected error to pass through, got %v", got)
	}
	if got := TimedOperation("migrate", Discard(), func() error { return nil }); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}
