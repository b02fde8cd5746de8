package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestWriteEmitsJSONLine(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	defer restore()

	Error("worker.event.failed", map[string]any{
		"application_id": "app-1",
		"error":          errors.New("boom"),
		"msg":            "should be overwritten",
	})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	if entry["level"] != "error" {
		t.Fatalf("expected level error, got %v", entry["level"])
	}
	if entry["msg"] != "worker.event.failed" {
		t.Fatalf("expected msg to win over fields, got %v", entry["msg"])
	}
	if entry["error"] != "boom" {
		t.Fatalf("expected error rendered as string, got %v", entry["error"])
	}
}

func TestWithDoesNotMutateBase(t *testing.T) {
	base := map[string]any{"a": 1}
	merged := With(base, map[string]any{"b": 2})
	if len(base) != 1 {
		t.Fatalf("base mutated: %v", base)
	}
	if merged["a"] != 1 || merged["b"] != 2 {
		t.Fatalf("unexpected merge result: %v", merged)
	}
}
