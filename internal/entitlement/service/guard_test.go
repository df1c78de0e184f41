package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolhub/internal/clock"
	"github.com/smallbiznis/schoolhub/internal/config"
	"github.com/smallbiznis/schoolhub/internal/entitlement"
	plandomain "github.com/smallbiznis/schoolhub/internal/plan/domain"
	tenantdomain "github.com/smallbiznis/schoolhub/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/schoolhub/internal/tenant/repository"
	"github.com/smallbiznis/schoolhub/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type guardFixture struct {
	guard *Guard
	db    *gorm.DB
	repo  tenantdomain.Repository
	clock *clock.FakeClock
	node  *snowflake.Node
}

func newGuardFixture(t *testing.T, now time.Time) *guardFixture {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	db := testutil.OpenDB(t)
	repo := tenantrepo.Provide()
	fake := clock.NewFakeClock(now)

	guard := NewGuard(GuardParam{
		DB:     db,
		Log:    zaptest.NewLogger(t),
		Clock:  fake,
		Repo:   repo,
		Config: config.NewStaticEntitlementConfig(config.DefaultEntitlementConfig()),
	})
	return &guardFixture{guard: guard, db: db, repo: repo, clock: fake, node: node}
}

func (f *guardFixture) seed(t *testing.T, status tenantdomain.SubscriptionStatus, trialEndsAt, expiresAt *time.Time) snowflake.ID {
	t.Helper()
	now := f.clock.Now()
	tenant := tenantdomain.Tenant{
		ID:                    f.node.Generate(),
		Name:                  "Test School",
		Slug:                  "test-school-" + f.node.Generate().Base36(),
		SubscriptionStatus:    status,
		PlanType:              plandomain.TierStandard,
		TrialEndsAt:           trialEndsAt,
		SubscriptionExpiresAt: expiresAt,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	require.NoError(t, f.repo.Insert(context.Background(), f.db, &tenant))
	return tenant.ID
}

func (f *guardFixture) status(t *testing.T, id snowflake.ID) tenantdomain.SubscriptionStatus {
	t.Helper()
	tenant, err := f.repo.FindByID(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, tenant)
	return tenant.SubscriptionStatus
}

func TestEvaluateExpiresLapsedTrial(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	f := newGuardFixture(t, now)

	endsAt := now.Add(-24 * time.Hour)
	id := f.seed(t, tenantdomain.StatusTrial, &endsAt, nil)

	decision, tenant, err := f.guard.Evaluate(ctx, id, entitlement.Actor{Subject: "user-1", Role: "admin"})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, entitlement.CodeTrialExpired, decision.Code)
	assert.Equal(t, tenantdomain.StatusExpired, tenant.SubscriptionStatus)
	assert.Equal(t, tenantdomain.StatusExpired, f.status(t, id))

	// replaying with the same clock does not write again
	moved, err := f.repo.ExpireIfStatus(ctx, f.db, id, tenantdomain.StatusTrial, now)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, tenantdomain.StatusExpired, f.status(t, id))
}

func TestEvaluateActiveSubscriptionDaysLeft(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	f := newGuardFixture(t, now)

	expiresAt := now.Add(10 * 24 * time.Hour)
	id := f.seed(t, tenantdomain.StatusActive, nil, &expiresAt)

	decision, _, err := f.guard.Evaluate(context.Background(), id, entitlement.Actor{Role: "admin"})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, entitlement.HeaderSubscriptionDaysLeft, decision.Header)
	assert.Equal(t, 10, decision.DaysLeft)
	assert.Equal(t, tenantdomain.StatusActive, f.status(t, id))
}

func TestEvaluateLapsedActiveEntersGrace(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	f := newGuardFixture(t, now)

	expiresAt := now.Add(-48 * time.Hour)
	id := f.seed(t, tenantdomain.StatusActive, nil, &expiresAt)

	decision, _, err := f.guard.Evaluate(context.Background(), id, entitlement.Actor{})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, entitlement.HeaderGraceDaysLeft, decision.Header)
	assert.Equal(t, 5, decision.DaysLeft)
	assert.Equal(t, tenantdomain.StatusExpired, f.status(t, id))

	f.clock.Advance(6 * 24 * time.Hour)
	decision, _, err = f.guard.Evaluate(context.Background(), id, entitlement.Actor{})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, entitlement.CodeSubscriptionExpired, decision.Code)
}

func TestEvaluatePlatformOperatorSkipsExpiry(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	f := newGuardFixture(t, now)

	endsAt := now.Add(-24 * time.Hour)
	id := f.seed(t, tenantdomain.StatusTrial, &endsAt, nil)

	decision, _, err := f.guard.Evaluate(context.Background(), id, entitlement.Actor{Role: "platform_operator"})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, tenantdomain.StatusTrial, f.status(t, id))
}

func TestEvaluateUnknownTenant(t *testing.T) {
	f := newGuardFixture(t, time.Now().UTC())

	_, _, err := f.guard.Evaluate(context.Background(), snowflake.ID(99), entitlement.Actor{})
	assert.ErrorIs(t, err, tenantdomain.ErrNotFound)
}

// renewingRepo activates the tenant just before the lazy-expiry write, the
// same interleaving as a webhook landing between the guard's read and write.
type renewingRepo struct {
	tenantdomain.Repository
	expiresAt time.Time
}

func (r *renewingRepo) ExpireIfStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from tenantdomain.SubscriptionStatus, now time.Time) (bool, error) {
	if _, err := r.Repository.Activate(ctx, db, id, plandomain.TierPro, r.expiresAt, now); err != nil {
		return false, err
	}
	return r.Repository.ExpireIfStatus(ctx, db, id, from, now)
}

func TestExpireIfStatusKeepsRenewedTenant(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	f := newGuardFixture(t, now)

	lapsed := now.Add(-24 * time.Hour)
	id := f.seed(t, tenantdomain.StatusActive, nil, &lapsed)

	tenant, err := f.repo.FindByID(ctx, f.db, id)
	require.NoError(t, err)
	_, patch := entitlement.Decide(tenant.Snapshot(), entitlement.Actor{Role: "admin"}, now, f.guard.Policy())
	require.NotNil(t, patch)

	renewed := now.AddDate(0, 1, 0)
	activated, err := f.repo.Activate(ctx, f.db, id, plandomain.TierPro, renewed, now)
	require.NoError(t, err)
	require.True(t, activated)

	moved, err := f.repo.ExpireIfStatus(ctx, f.db, id, patch.From, now)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, tenantdomain.StatusActive, f.status(t, id))
}

func TestEvaluateRenewalDuringLazyExpiry(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	f := newGuardFixture(t, now)

	lapsed := now.Add(-24 * time.Hour)
	id := f.seed(t, tenantdomain.StatusActive, nil, &lapsed)

	renewed := now.Add(30 * 24 * time.Hour)
	f.guard.repo = &renewingRepo{Repository: f.repo, expiresAt: renewed}

	decision, tenant, err := f.guard.Evaluate(context.Background(), id, entitlement.Actor{Role: "admin"})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, entitlement.HeaderSubscriptionDaysLeft, decision.Header)
	assert.Equal(t, 30, decision.DaysLeft)
	assert.Equal(t, tenantdomain.StatusActive, tenant.SubscriptionStatus)
	assert.Equal(t, plandomain.TierPro, tenant.PlanType)
	assert.Equal(t, tenantdomain.StatusActive, f.status(t, id))
}

func TestExpireIfStatusIgnoresOtherStatuses(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	f := newGuardFixture(t, now)

	id := f.seed(t, tenantdomain.StatusSuspended, nil, nil)
	moved, err := f.repo.ExpireIfStatus(context.Background(), f.db, id, tenantdomain.StatusSuspended, now)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, tenantdomain.StatusSuspended, f.status(t, id))
}
