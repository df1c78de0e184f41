package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/schoolhub/internal/gateway"
	obsmetrics "github.com/smallbiznis/schoolhub/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/schoolhub/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/schoolhub/internal/tenant/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jobLabels(job string, extra map[string]string) map[string]string {
	labels := map[string]string{
		"service": "schoolhub",
		"env":     "test",
		"job":     job,
	}
	for k, v := range extra {
		labels[k] = v
	}
	return labels
}

func TestRunOnceRecordsReconcileOrdersMetrics(t *testing.T) {
	f := newJobFixture(t, nil)
	ctx := context.Background()
	tenant := f.seedTenant(t, tenantdomain.StatusTrial, nil, nil)

	order, err := f.ledger.CreateOrder(ctx, subscriptiondomain.CreateOrderRequest{
		TenantID: tenant.ID, PlanTier: "pro", BillingPeriod: "monthly", Currency: "USD",
	})
	require.NoError(t, err)
	f.gateway.SetStatus(order.TrackingID, gateway.StatusCompleted, "Visa")
	f.clock.Advance(11 * time.Minute)

	require.NoError(t, f.sched.RunOnce(ctx))

	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "schoolhub_scheduler_job_runs_total", jobLabels(JobReconcileOrders, nil)))
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "schoolhub_scheduler_job_runs_total", jobLabels(JobExpireTenants, nil)))
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "schoolhub_scheduler_batch_processed_total",
		jobLabels(JobReconcileOrders, map[string]string{"resource": "payment_orders"})))
	assert.False(t, hasCounter(t, f.registry, "schoolhub_scheduler_job_errors_total", jobLabels(JobReconcileOrders, map[string]string{
		"reason": obsmetrics.SchedulerJobReasonDeadlineExceeded,
	})))

	settled, err := f.ledger.GetOrder(ctx, tenant.ID, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.PaymentStatusCompleted, settled.PaymentStatus)
}

func TestRunOnceSkipsDisabledJobs(t *testing.T) {
	f := newJobFixture(t, nil)
	f.sched.cfg.EnabledJobs = []string{"RECONCILE_ORDERS"}

	require.NoError(t, f.sched.RunOnce(context.Background()))

	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "schoolhub_scheduler_job_runs_total", jobLabels(JobReconcileOrders, nil)))
	assert.False(t, hasCounter(t, f.registry, "schoolhub_scheduler_job_runs_total", jobLabels(JobExpireTenants, nil)))
}

func TestRunJobTimeoutCountsAgainstReconcileOrders(t *testing.T) {
	f := newJobFixture(t, nil)

	err := f.sched.runJob(context.Background(), JobReconcileOrders, 10, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err, "a timed out run is logged, not returned")

	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "schoolhub_scheduler_job_timeouts_total", jobLabels(JobReconcileOrders, nil)))
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "schoolhub_scheduler_job_errors_total", jobLabels(JobReconcileOrders, map[string]string{
		"reason": obsmetrics.SchedulerJobReasonDeadlineExceeded,
	})))
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func findCounter(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if labelsMatch(metric, labels) {
				require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
				return metric
			}
		}
	}
	return nil
}

func hasCounter(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) bool {
	t.Helper()
	return findCounter(t, registry, name, labels) != nil
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metric := findCounter(t, registry, name, labels)
	require.NotNil(t, metric, "metric %s with labels %v not found", name, labels)
	return metric.GetCounter().GetValue()
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
