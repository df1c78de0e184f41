package metrics

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("tenant_id", "123"),
		attribute.String("order_id", "ord_01H"),
		attribute.String("outcome", "ok"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "tenant_id" && attrs[1].Key != "tenant_id" {
		t.Fatalf("expected tenant_id to be retained")
	}
	if attrs[0].Key != "outcome" && attrs[1].Key != "outcome" {
		t.Fatalf("expected outcome to be retained")
	}
}

func TestRecordersTolerateNoopAndNil(t *testing.T) {
	m, err := New(Config{ServiceName: "schoolhub"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	ctx := context.Background()
	m.RecordGatewayCall(ctx, "submit_order", "ok", 20*time.Millisecond)
	m.RecordWebhookEvent(ctx, "IPNCHANGE", "applied")
	m.RecordEntitlementDecision(ctx, "pro", "allow", "")

	var nilMetrics *Metrics
	nilMetrics.RecordRateLimitDenied(ctx, "1", "/api/v1/whoami", "limit")
	nilMetrics.RecordCredentialRejected(ctx, "expired")
}
