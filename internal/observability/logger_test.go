package observability_test

import (
	"context"
	"testing"

	"github.com/bdobrica/ruriko-events/common/trace"
	"github.com/bdobrica/ruriko-events/internal/observability"
)

func TestSetup_AcceptsAllLevelsAndFormats(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "unknown"} {
		for _, format := range []string{"json", "text", ""} {
			observability.Setup(level, format)
		}
	}
}

func TestWithTrace_UsesContextTraceID(t *testing.T) {
	ctx := trace.WithTraceID(context.Background(), "t_abc123")
	logger := observability.WithTrace(ctx)
	if logger == nil {
		t.Fatal("expected a non-nil logger")
	}
}

func TestWithTrace_NoTraceIDFallsBackToDefault(t *testing.T) {
	logger := observability.WithTrace(context.Background())
	if logger == nil {
		t.Fatal("expected a non-nil logger")
	}
}

func TestRedactSecrets(t *testing.T) {
	got := observability.RedactSecrets("token=super-secret-value-123", "super-secret-value-123")
	if got == "token=super-secret-value-123" {
		t.Error("expected secret to be redacted")
	}
}
