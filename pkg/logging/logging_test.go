package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" INFO ", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Validate("warn"); err != nil {
		t.Fatalf("Validate(warn): %v", err)
	}
	if err := Validate("trace"); err == nil || !strings.Contains(err.Error(), "trace") {
		t.Fatalf("Validate(trace) = %v", err)
	}
	if err := ValidateFormat("JSON"); err != nil {
		t.Fatalf("ValidateFormat(JSON): %v", err)
	}
	if err := ValidateFormat("xml"); err == nil {
		t.Fatal("ValidateFormat(xml) should fail")
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Level: "warn", Format: "json", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	log.Info("hidden")
	log.Warn("shown", "user", "Steve")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "shown" || rec["user"] != "Steve" {
		t.Fatalf("record = %v", rec)
	}
}

func TestSetLevel(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	if err := Setup(Options{Level: "error", Output: &buf}); err != nil {
		t.Fatal(err)
	}
	slog.Info("before")
	if err := SetLevel("info"); err != nil {
		t.Fatal(err)
	}
	slog.Info("after")
	if err := SetLevel("nope"); err == nil {
		t.Fatal("SetLevel(nope) should fail")
	}

	out := buf.String()
	if strings.Contains(out, "before") || !strings.Contains(out, "after") {
		t.Fatalf("unexpected output %q", out)
	}
}
