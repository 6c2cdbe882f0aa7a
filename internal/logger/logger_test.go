package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func TestNew_JSONWithService(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "signald", slog.LevelInfo)
	log.Debug("hidden")
	log.Info("bar processed", "instrument", "NIFTY")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected a single JSON record, got %q: %v", buf.String(), err)
	}
	if rec["service"] != "signald" || rec["instrument"] != "NIFTY" || rec["msg"] != "bar processed" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if tid := TraceID(ctx); tid != "" {
		t.Errorf("expected empty trace id, got %q", tid)
	}
	if attrs := Trace(ctx); attrs != nil {
		t.Errorf("expected nil attrs without trace id, got %v", attrs)
	}

	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	tid := BarTraceID("NIFTY", ts)
	if tid != "NIFTY-1705314600123456789" {
		t.Fatalf("unexpected trace id %q", tid)
	}
	ctx = WithTraceID(ctx, tid)
	if got := TraceID(ctx); got != tid {
		t.Errorf("expected %q, got %q", tid, got)
	}
	if attrs := Trace(ctx); len(attrs) != 1 {
		t.Errorf("expected one attr, got %v", attrs)
	}
}
