package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("component", "assignment")).Warn(context.Background(), "cost clamped",
		Float64("cost", 1e12),
		Int("row", 2),
		Bool("clamped", true),
		Err(errors.New("boom")),
	)

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if got["msg"] != "cost clamped" {
		t.Fatalf("msg = %v, want %q", got["msg"], "cost clamped")
	}
	if got["component"] != "assignment" {
		t.Fatalf("component = %v, want assignment", got["component"])
	}
	if got["error"] != "boom" {
		t.Fatalf("error = %v, want boom", got["error"])
	}
	if got["clamped"] != true {
		t.Fatalf("clamped = %v, want true", got["clamped"])
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Output: &buf})
	log.Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line written at info level: %q", buf.String())
	}
}

func TestEnsureRunIDIsStable(t *testing.T) {
	ctx, id := EnsureRunID(context.Background())
	if id == "" {
		t.Fatalf("EnsureRunID returned empty id")
	}
	_, again := EnsureRunID(ctx)
	if again != id {
		t.Fatalf("EnsureRunID = %q, want existing %q", again, id)
	}
}

func TestLoggerFromContext(t *testing.T) {
	if got := LoggerFromContext(context.Background()); got != nil {
		t.Fatalf("LoggerFromContext(empty) = %v, want nil", got)
	}
	ctx := ContextWithLogger(context.Background(), nil)
	if got := LoggerFromContext(ctx); got == nil {
		t.Fatalf("LoggerFromContext returned nil after ContextWithLogger")
	}
	if OrNoop(nil) == nil {
		t.Fatalf("OrNoop(nil) returned nil")
	}
}
