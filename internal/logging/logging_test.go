package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	return out
}

func TestNewWithWriterAddsService(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("authcore", "info", &buf).Info("hello")

	out := decodeLine(t, &buf)
	if out["service"] != "authcore" {
		t.Fatalf("service = %v", out["service"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("authcore", "warn", &buf)
	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %s", buf.String())
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Fatal("unknown level should default to info")
	}
}

func TestWithContextRequestIDAndSpan(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("authcore", "info", &buf)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(WithRequestID(context.Background(), "req-7"), sc)

	WithContext(ctx, l).Info("enriched")
	out := decodeLine(t, &buf)
	if out["request_id"] != "req-7" {
		t.Errorf("request_id = %v", out["request_id"])
	}
	if out["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" || out["span_id"] != "00f067aa0ba902b7" {
		t.Errorf("trace fields = %v / %v", out["trace_id"], out["span_id"])
	}
}

func TestWithContextWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	WithContext(context.Background(), NewWithWriter("authcore", "info", &buf)).Info("plain")
	out := decodeLine(t, &buf)
	if _, ok := out["trace_id"]; ok {
		t.Fatal("trace_id should be absent without a span")
	}
}

func TestDiscard(t *testing.T) {
	Discard().Error("nothing happens")
}
