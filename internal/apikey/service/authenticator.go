package service

import (
	"context"
	"crypto/subtle"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/schoolhub/internal/apikey/domain"
	"github.com/smallbiznis/schoolhub/internal/clock"
	obsmetrics "github.com/smallbiznis/schoolhub/internal/observability/metrics"
	"github.com/smallbiznis/schoolhub/internal/plan"
	plandomain "github.com/smallbiznis/schoolhub/internal/plan/domain"
	tenantdomain "github.com/smallbiznis/schoolhub/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const touchTimeout = 5 * time.Second

// Rejection reasons recorded in logs and metrics. Callers only see nil.
const (
	rejectMalformed     = "malformed"
	rejectUnknown       = "unknown_key"
	rejectInactive      = "inactive"
	rejectExpired       = "expired"
	rejectTenantMissing = "tenant_missing"
	rejectTenantStatus  = "tenant_status"
	rejectPlan          = "plan_without_api_access"
)

type AuthenticatorParams struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    apikeydomain.Repository
	Tenants tenantdomain.Repository
	Catalog *plan.Catalog
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// Authenticator resolves raw secondary keys into credential contexts.
type Authenticator struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    apikeydomain.Repository
	tenants tenantdomain.Repository
	catalog *plan.Catalog
	metrics *obsmetrics.Metrics

	touches sync.WaitGroup
}

func NewAuthenticator(p AuthenticatorParams) *Authenticator {
	return &Authenticator{
		db:      p.DB,
		log:     p.Log.Named("apikey.authenticator"),
		clock:   p.Clock,
		repo:    p.Repo,
		tenants: p.Tenants,
		catalog: p.Catalog,
		metrics: p.Metrics,
	}
}

// Authenticate returns nil, nil for every rejected key. An error means the
// lookup itself failed.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (*apikeydomain.CredentialContext, error) {
	raw = strings.TrimSpace(raw)
	if !apikeydomain.WellFormed(raw) {
		a.reject(ctx, rejectMalformed, "")
		return nil, nil
	}

	hash := apikeydomain.HashAPIKey(raw)
	key, err := a.repo.FindByHash(ctx, a.db, hash)
	if err != nil {
		return nil, err
	}
	if key == nil || subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 {
		a.reject(ctx, rejectUnknown, "")
		return nil, nil
	}

	now := a.clock.Now().UTC()
	if !key.IsActive {
		a.reject(ctx, rejectInactive, key.KeyID)
		return nil, nil
	}
	if key.Expired(now) {
		a.reject(ctx, rejectExpired, key.KeyID)
		return nil, nil
	}

	tenant, err := a.tenants.FindByID(ctx, a.db, key.TenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		a.reject(ctx, rejectTenantMissing, key.KeyID)
		return nil, nil
	}
	switch tenant.SubscriptionStatus {
	case tenantdomain.StatusActive, tenantdomain.StatusTrial:
	default:
		a.reject(ctx, rejectTenantStatus, key.KeyID)
		return nil, nil
	}
	if !a.catalog.CheckFeature(tenant.PlanType, plandomain.FeatureAPIAccess) {
		a.reject(ctx, rejectPlan, key.KeyID)
		return nil, nil
	}

	perms := make([]apikeydomain.Permission, 0, len(key.Permissions))
	for _, p := range key.Permissions {
		perms = append(perms, apikeydomain.Permission(p))
	}

	a.touchLastUsed(key.ID, now)

	return &apikeydomain.CredentialContext{
		KeyID:       key.KeyID,
		TenantID:    key.TenantID,
		Permissions: perms,
		RateLimit:   key.RateLimit,
		PlanTier:    tenant.PlanType,
	}, nil
}

// Wait blocks until pending last-used writes finish.
func (a *Authenticator) Wait() {
	a.touches.Wait()
}

func (a *Authenticator) touchLastUsed(id snowflake.ID, at time.Time) {
	a.touches.Add(1)
	go func() {
		defer a.touches.Done()
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := a.repo.TouchLastUsed(ctx, a.db, id, at); err != nil {
			a.log.Warn("failed to record api key usage", zap.String("id", id.String()), zap.Error(err))
		}
	}()
}

func (a *Authenticator) reject(ctx context.Context, reason, keyID string) {
	fields := []zap.Field{zap.String("reason", reason)}
	if keyID != "" {
		fields = append(fields, zap.String("key_id", keyID))
	}
	a.log.Debug("api key rejected", fields...)
	a.metrics.RecordCredentialRejected(ctx, reason)
}
