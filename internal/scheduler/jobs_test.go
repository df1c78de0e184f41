package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/schoolhub/internal/clock"
	"github.com/smallbiznis/schoolhub/internal/config"
	"github.com/smallbiznis/schoolhub/internal/gateway"
	obsmetrics "github.com/smallbiznis/schoolhub/internal/observability/metrics"
	"github.com/smallbiznis/schoolhub/internal/plan"
	plandomain "github.com/smallbiznis/schoolhub/internal/plan/domain"
	"github.com/smallbiznis/schoolhub/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/schoolhub/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/schoolhub/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/schoolhub/internal/subscription/service"
	tenantdomain "github.com/smallbiznis/schoolhub/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/schoolhub/internal/tenant/repository"
	tenantservice "github.com/smallbiznis/schoolhub/internal/tenant/service"
	"github.com/smallbiznis/schoolhub/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type jobFixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	gateway  *testutil.FakeGateway
	tenants  tenantdomain.Repository
	ledger   subscriptiondomain.Service
	sched    *Scheduler
	registry *prometheus.Registry
}

func newJobFixture(t *testing.T, locker *ratelimit.Locker) *jobFixture {
	t.Helper()

	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)
	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{ServiceName: "schoolhub", Environment: "test"})

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	f := &jobFixture{
		db:       testutil.OpenDB(t),
		node:     node,
		clock:    clock.NewFakeClock(time.Date(2025, 2, 10, 6, 0, 0, 0, time.UTC)),
		gateway:  testutil.NewFakeGateway(),
		tenants:  tenantrepo.Provide(),
		registry: registry,
	}
	log := zap.NewNop()
	f.ledger = subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB: f.db, Log: log, GenID: node, Clock: f.clock,
		Repo: subscriptionrepo.Provide(), Tenants: f.tenants,
		Catalog: plan.DefaultCatalog(), Gateway: f.gateway,
	})
	tenants := tenantservice.NewService(tenantservice.ServiceParam{
		DB: f.db, Log: log, GenID: node, Clock: f.clock, Repo: f.tenants,
		Entitlement: config.NewStaticEntitlementConfig(config.DefaultEntitlementConfig()),
	})

	f.sched, err = New(Params{
		Log: log, GenID: node, Clock: f.clock,
		Ledger: f.ledger, Tenants: tenants, Locker: locker,
		Config: Config{BatchSize: 10, ReconcileAfter: 10 * time.Minute},
	})
	require.NoError(t, err)
	return f
}

func (f *jobFixture) seedTenant(t *testing.T, status tenantdomain.SubscriptionStatus, trialEnds, expires *time.Time) tenantdomain.Tenant {
	t.Helper()
	now := f.clock.Now()
	tenant := tenantdomain.Tenant{
		ID:                    f.node.Generate(),
		Name:                  "Tenant",
		Slug:                  "tenant-" + f.node.Generate().Base36(),
		SubscriptionStatus:    status,
		PlanType:              plandomain.TierStarter,
		TrialEndsAt:           trialEnds,
		SubscriptionExpiresAt: expires,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	require.NoError(t, f.tenants.Insert(context.Background(), f.db, &tenant))
	return tenant
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestReconcileOrdersJobSettlesStaleOrders(t *testing.T) {
	f := newJobFixture(t, nil)
	ctx := context.Background()
	tenant := f.seedTenant(t, tenantdomain.StatusTrial, nil, nil)

	stale, err := f.ledger.CreateOrder(ctx, subscriptiondomain.CreateOrderRequest{
		TenantID: tenant.ID, PlanTier: "pro", BillingPeriod: "monthly", Currency: "USD",
	})
	require.NoError(t, err)
	failing, err := f.ledger.CreateOrder(ctx, subscriptiondomain.CreateOrderRequest{
		TenantID: tenant.ID, PlanTier: "standard", BillingPeriod: "monthly", Currency: "USD",
	})
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	fresh, err := f.ledger.CreateOrder(ctx, subscriptiondomain.CreateOrderRequest{
		TenantID: tenant.ID, PlanTier: "pro", BillingPeriod: "yearly", Currency: "USD",
	})
	require.NoError(t, err)

	f.gateway.SetStatus(stale.TrackingID, gateway.StatusCompleted, "Visa")
	f.gateway.SetStatus(fresh.TrackingID, gateway.StatusCompleted, "Visa")
	f.clock.Advance(6 * time.Minute)

	require.NoError(t, f.sched.RunOnce(ctx))

	settled, err := f.ledger.GetOrder(ctx, tenant.ID, stale.OrderID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.PaymentStatusCompleted, settled.PaymentStatus)

	stillPending, err := f.ledger.GetOrder(ctx, tenant.ID, failing.OrderID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.PaymentStatusPending, stillPending.PaymentStatus)

	notYet, err := f.ledger.GetOrder(ctx, tenant.ID, fresh.OrderID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.PaymentStatusPending, notYet.PaymentStatus, "orders younger than the threshold are left to the webhook")

	reloaded, err := f.tenants.FindByID(ctx, f.db, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, tenantdomain.StatusActive, reloaded.SubscriptionStatus)
	assert.Equal(t, plandomain.TierPro, reloaded.PlanType)
}

func TestReconcileOrdersJobContinuesAfterGatewayError(t *testing.T) {
	f := newJobFixture(t, nil)
	ctx := context.Background()
	tenant := f.seedTenant(t, tenantdomain.StatusTrial, nil, nil)

	_, err := f.ledger.CreateOrder(ctx, subscriptiondomain.CreateOrderRequest{
		TenantID: tenant.ID, PlanTier: "pro", BillingPeriod: "monthly", Currency: "USD",
	})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	f.gateway.StatusErr = &gateway.Error{Op: gateway.OpTransactionStatus, Message: "unavailable"}
	assert.NoError(t, f.sched.ReconcileOrdersJob(ctx))
}

func TestExpireTenantsJob(t *testing.T) {
	f := newJobFixture(t, nil)
	ctx := context.Background()
	past := f.clock.Now().Add(-time.Hour)
	future := f.clock.Now().Add(24 * time.Hour)

	lapsedTrial := f.seedTenant(t, tenantdomain.StatusTrial, &past, nil)
	lapsedPaid := f.seedTenant(t, tenantdomain.StatusActive, nil, &past)
	current := f.seedTenant(t, tenantdomain.StatusActive, nil, &future)
	suspended := f.seedTenant(t, tenantdomain.StatusSuspended, nil, &past)

	require.NoError(t, f.sched.ExpireTenantsJob(ctx))

	for id, want := range map[snowflake.ID]tenantdomain.SubscriptionStatus{
		lapsedTrial.ID: tenantdomain.StatusExpired,
		lapsedPaid.ID:  tenantdomain.StatusExpired,
		current.ID:     tenantdomain.StatusActive,
		suspended.ID:   tenantdomain.StatusSuspended,
	} {
		tenant, err := f.tenants.FindByID(ctx, f.db, id)
		require.NoError(t, err)
		assert.Equal(t, want, tenant.SubscriptionStatus, id.String())
	}
}

func TestRunJobSkipsWhenLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := ratelimit.NewLocker(client)

	f := newJobFixture(t, locker)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, lockPrefix+JobExpireTenants, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	calls := 0
	err = f.sched.runJob(ctx, JobExpireTenants, 1, time.Second, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, calls)
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "schoolhub_scheduler_batch_deferred_total",
		jobLabels(JobExpireTenants, map[string]string{"reason": "lock_held"})))

	require.NoError(t, locker.Release(ctx, lockPrefix+JobExpireTenants, token))
	err = f.sched.runJob(ctx, JobExpireTenants, 1, time.Second, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestIsJobEnabled(t *testing.T) {
	s := &Scheduler{}
	assert.True(t, s.isJobEnabled(JobReconcileOrders))

	s.cfg.EnabledJobs = []string{"EXPIRE_TENANTS"}
	assert.True(t, s.isJobEnabled(JobExpireTenants))
	assert.False(t, s.isJobEnabled(JobReconcileOrders))
}
