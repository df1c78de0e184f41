package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  fmt.Errorf("poll: %w", context.DeadlineExceeded),
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SchedulerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: SchedulerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "db",
			err:  &pgconn.PgError{Code: "08006"},
			want: SchedulerJobReasonDB,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "schoolhub",
		Environment: "test",
	})

	metrics.AddBatchProcessed("reconcile_orders", "payment_orders", 3)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("reconcile_orders", "payment_orders"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestRegisterCollectorReusesExisting(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := newSchedulerMetrics(registry, Config{ServiceName: "schoolhub", Environment: "test"})
	second := newSchedulerMetrics(registry, Config{ServiceName: "schoolhub", Environment: "test"})

	first.IncJobRun("expire_tenants")
	second.IncJobRun("expire_tenants")

	got := testutil.ToFloat64(first.jobRuns.WithLabelValues("expire_tenants"))
	if got != 2 {
		t.Fatalf("expected shared counter value 2, got %v", got)
	}
}
