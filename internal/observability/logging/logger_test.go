package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewWritesServiceAndRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "idverify-worker", "warn")

	logger.Info("job_dequeued", "document_id", "doc-1")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level, got %q", buf.String())
	}

	logger.Warn("store_unavailable", "error", "connection refused")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["service"] != "idverify-worker" {
		t.Fatalf("expected service attr, got %v", entry["service"])
	}
	if entry["msg"] != "store_unavailable" {
		t.Fatalf("unexpected msg %v", entry["msg"])
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Fatalf("expected default logger without a scoped one")
	}
	scoped := Discard()
	ctx := WithLogger(context.Background(), scoped)
	if FromContext(ctx) != scoped {
		t.Fatalf("expected scoped logger")
	}
}
