package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"logbook.org/internal/auth"
	"logbook.org/internal/obs"
)

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	obs.InitLogger("info", &buf)
	defer obs.InitLogger("info", nil)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithClaims(ctx, auth.StaffClaims(1, 3, 7))

	if err := LogEvent(ctx, "log.reviewed", map[string]any{"log_id": 42}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "log.reviewed" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["role"] != "STAFF" || entry["subject"] != "staff:7" {
		t.Fatalf("unexpected principal: %v %v", entry["role"], entry["subject"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["log_id"] != float64(42) {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for blank event")
	}
}
