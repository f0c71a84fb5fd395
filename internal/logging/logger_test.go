package logging

import (
	"context"
	"testing"
)

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := WithTraceID(context.Background(), "abc123")
	if got := TraceIDFromContext(ctx); got != "abc123" {
		t.Errorf("TraceIDFromContext = %q", got)
	}
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Errorf("empty context trace ID = %q", got)
	}
}

func TestNewTraceID(t *testing.T) {
	a, b := NewTraceID(), NewTraceID()
	if len(a) != 32 {
		t.Errorf("trace ID length = %d, want 32 hex chars", len(a))
	}
	if a == b {
		t.Error("trace IDs should be unique")
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext returned nil")
	}
	ctx := WithTraceID(context.Background(), "abc123")
	if FromContext(ctx) == Logger {
		t.Error("trace-annotated logger should differ from the bare logger")
	}
}
