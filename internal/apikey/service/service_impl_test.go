package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/schoolhub/internal/apikey/domain"
	"github.com/smallbiznis/schoolhub/internal/apikey/repository"
	"github.com/smallbiznis/schoolhub/internal/clock"
	"github.com/smallbiznis/schoolhub/internal/plan"
	plandomain "github.com/smallbiznis/schoolhub/internal/plan/domain"
	tenantdomain "github.com/smallbiznis/schoolhub/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/schoolhub/internal/tenant/repository"
	"github.com/smallbiznis/schoolhub/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.FakeClock
	svc     *Service
	auth    *Authenticator
	tenants tenantdomain.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	db := testutil.OpenDB(t)
	fc := clock.NewFakeClock(time.Date(2025, 5, 10, 8, 0, 0, 0, time.UTC))
	repo := repository.Provide()
	tenants := tenantrepo.Provide()

	svc := New(Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: fc, Repo: repo}).(*Service)
	auth := NewAuthenticator(AuthenticatorParams{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   fc,
		Repo:    repo,
		Tenants: tenants,
		Catalog: plan.DefaultCatalog(),
	})
	t.Cleanup(auth.Wait)

	return &fixture{db: db, node: node, clock: fc, svc: svc, auth: auth, tenants: tenants}
}

func (f *fixture) seedTenant(t *testing.T, status tenantdomain.SubscriptionStatus, tier plandomain.Tier) snowflake.ID {
	t.Helper()
	now := f.clock.Now()
	expires := now.AddDate(0, 1, 0)
	tenant := &tenantdomain.Tenant{
		ID:                    f.node.Generate(),
		Name:                  "Riverside",
		Slug:                  "riverside-" + strings.ToLower(f.node.Generate().Base36()),
		SubscriptionStatus:    status,
		PlanType:              tier,
		SubscriptionExpiresAt: &expires,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	require.NoError(t, f.tenants.Insert(context.Background(), f.db, tenant))
	return tenant.ID
}

func TestCreateReturnsSecretOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := f.seedTenant(t, tenantdomain.StatusActive, plandomain.TierPro)

	created, err := f.svc.Create(ctx, tenantID, apikeydomain.CreateRequest{
		Name:        "  Timetable sync ",
		Permissions: []string{"read", "WRITE", "read"},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(created.APIKey, apikeydomain.SecretPrefix))
	assert.True(t, apikeydomain.WellFormed(created.APIKey))
	assert.True(t, strings.HasPrefix(created.KeyID, "key_"))
	assert.Equal(t, created.APIKey[:16], created.KeyPrefix)
	assert.Equal(t, "Timetable sync", created.Name)
	assert.Equal(t, []string{"read", "write"}, created.Permissions)
	assert.Equal(t, apikeydomain.DefaultRateLimit, created.RateLimit)

	stored, err := f.svc.repo.FindByKeyID(ctx, f.db, tenantID, created.KeyID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, apikeydomain.HashAPIKey(created.APIKey), stored.KeyHash)
	assert.NotContains(t, stored.KeyHash, created.APIKey[len(created.APIKey)-64:])

	listed, err := f.svc.List(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, created.KeyID, listed[0].KeyID)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := f.seedTenant(t, tenantdomain.StatusActive, plandomain.TierPro)
	past := f.clock.Now().Add(-time.Hour)

	cases := []struct {
		name string
		req  apikeydomain.CreateRequest
		want error
	}{
		{name: "blank name", req: apikeydomain.CreateRequest{Name: " "}, want: apikeydomain.ErrInvalidName},
		{name: "unknown permission", req: apikeydomain.CreateRequest{Name: "k", Permissions: []string{"admin"}}, want: apikeydomain.ErrInvalidPermission},
		{name: "negative limit", req: apikeydomain.CreateRequest{Name: "k", RateLimit: -1}, want: apikeydomain.ErrInvalidRateLimit},
		{name: "expiry in past", req: apikeydomain.CreateRequest{Name: "k", ExpiresAt: &past}, want: apikeydomain.ErrInvalidExpiry},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tenantID, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err := f.svc.Create(ctx, 0, apikeydomain.CreateRequest{Name: "k"})
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidTenant)
}

func TestRevokeAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := f.seedTenant(t, tenantdomain.StatusActive, plandomain.TierPro)
	otherTenant := f.seedTenant(t, tenantdomain.StatusActive, plandomain.TierPro)

	created, err := f.svc.Create(ctx, tenantID, apikeydomain.CreateRequest{Name: "exports"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Revoke(ctx, otherTenant, created.KeyID), apikeydomain.ErrNotFound)
	require.NoError(t, f.svc.Revoke(ctx, tenantID, created.KeyID))

	listed, err := f.svc.List(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.False(t, listed[0].IsActive)

	cred, err := f.auth.Authenticate(ctx, created.APIKey)
	require.NoError(t, err)
	assert.Nil(t, cred)

	require.NoError(t, f.svc.Delete(ctx, tenantID, created.KeyID))
	assert.ErrorIs(t, f.svc.Delete(ctx, tenantID, created.KeyID), apikeydomain.ErrNotFound)
	assert.ErrorIs(t, f.svc.Revoke(ctx, tenantID, " "), apikeydomain.ErrInvalidKeyID)

	listed, err = f.svc.List(ctx, tenantID)
	require.NoError(t, err)
	assert.Empty(t, listed)
}
