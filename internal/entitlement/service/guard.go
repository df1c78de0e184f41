package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolhub/internal/clock"
	"github.com/smallbiznis/schoolhub/internal/config"
	"github.com/smallbiznis/schoolhub/internal/entitlement"
	obsmetrics "github.com/smallbiznis/schoolhub/internal/observability/metrics"
	tenantdomain "github.com/smallbiznis/schoolhub/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Guard loads tenant snapshots, decides, and persists lazy expiry.
type Guard struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    tenantdomain.Repository
	cfg     *config.EntitlementConfigHolder
	metrics *obsmetrics.Metrics
}

type GuardParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    tenantdomain.Repository
	Config  *config.EntitlementConfigHolder
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func NewGuard(p GuardParam) *Guard {
	return &Guard{
		db:      p.DB,
		log:     p.Log.Named("entitlement.guard"),
		clock:   p.Clock,
		repo:    p.Repo,
		cfg:     p.Config,
		metrics: p.Metrics,
	}
}

// Policy returns the policy built from the current configuration.
func (g *Guard) Policy() entitlement.Policy {
	cfg := g.cfg.Get()
	return entitlement.Policy{
		GracePeriod:   time.Duration(cfg.GracePeriodDays) * 24 * time.Hour,
		PlatformRoles: cfg.PlatformRoles,
	}
}

// IsPlatformRole reports whether role bypasses entitlement checks.
func (g *Guard) IsPlatformRole(role string) bool {
	return g.Policy().IsPlatformRole(role)
}

// Evaluate returns the decision for tenantID along with the tenant as read.
func (g *Guard) Evaluate(ctx context.Context, tenantID snowflake.ID, actor entitlement.Actor) (entitlement.Decision, tenantdomain.Tenant, error) {
	tenant, err := g.repo.FindByID(ctx, g.db, tenantID)
	if err != nil {
		return entitlement.Decision{}, tenantdomain.Tenant{}, err
	}
	if tenant == nil {
		return entitlement.Decision{}, tenantdomain.Tenant{}, tenantdomain.ErrNotFound
	}

	now := g.clock.Now().UTC()
	decision, patch := entitlement.Decide(tenant.Snapshot(), actor, now, g.Policy())

	if patch != nil {
		moved, err := g.repo.ExpireIfStatus(ctx, g.db, tenantID, patch.From, now)
		if err != nil {
			// the decision stands; the next request retries the write
			g.log.Warn("persist lazy expiry failed",
				zap.String("tenant_id", tenantID.String()),
				zap.String("from", string(patch.From)),
				zap.Error(err),
			)
		} else if moved {
			g.log.Info("tenant subscription expired",
				zap.String("tenant_id", tenantID.String()),
				zap.String("from", string(patch.From)),
			)
			tenant.SubscriptionStatus = patch.To
		} else if fresh, err := g.repo.FindByID(ctx, g.db, tenantID); err == nil && fresh != nil {
			// the row changed since it was read, most likely a renewal
			tenant = fresh
			decision, _ = entitlement.Decide(tenant.Snapshot(), actor, now, g.Policy())
		}
	}

	if decision.FailOpen {
		g.log.Warn("unrecognized subscription status allowed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("subscription_status", string(tenant.SubscriptionStatus)),
		)
	}

	outcome := "allow"
	if !decision.Allowed {
		outcome = "deny"
	} else if decision.FailOpen {
		outcome = "fail_open"
	}
	g.metrics.RecordEntitlementDecision(ctx, string(tenant.PlanType), outcome, string(decision.Code))

	return decision, *tenant, nil
}
