package context

import (
	"context"
	"testing"
)

func TestCorrelationValues(t *testing.T) {
	ctx := context.Background()
	if RequestIDFromContext(ctx) != "" {
		t.Fatalf("expected empty request id")
	}

	ctx = WithRequestID(ctx, " req-1 ")
	ctx = WithTenantID(ctx, "42")
	ctx = WithActor(ctx, "api_key", "key_abc")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected req-1, got %q", got)
	}
	if got := TenantIDFromContext(ctx); got != "42" {
		t.Fatalf("expected tenant 42, got %q", got)
	}
	kind, id := ActorFromContext(ctx)
	if kind != "api_key" || id != "key_abc" {
		t.Fatalf("unexpected actor %q %q", kind, id)
	}
}
