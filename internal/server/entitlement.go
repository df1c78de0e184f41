package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/schoolhub/internal/entitlement"
	plandomain "github.com/smallbiznis/schoolhub/internal/plan/domain"
	tenantdomain "github.com/smallbiznis/schoolhub/internal/tenant/domain"
	"github.com/smallbiznis/schoolhub/pkg/tenantctx"
	"go.uber.org/zap"
)

// EntitlementRequired denies tenants whose trial or subscription no longer
// grants access.
func (s *Server) EntitlementRequired() gin.HandlerFunc {
	return s.entitlementGuard(false)
}

// BillingEntitlement lets expired tenants through so they can pay. Lazy
// expiry still runs and suspended tenants are still denied.
func (s *Server) BillingEntitlement() gin.HandlerFunc {
	return s.entitlementGuard(true)
}

func (s *Server) entitlementGuard(billing bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, tenant, ok := s.evaluate(c)
		if !ok {
			return
		}

		if !decision.Allowed {
			c.Set(contextEntitlementCodeKey, string(decision.Code))
			if !billing || decision.Code == entitlement.CodeSubscriptionSuspended {
				AbortWithError(c, decision.Err())
				return
			}
		}

		c.Set(contextTenantKey, tenant)
		c.Set(contextDecisionKey, decision)
		c.Next()
	}
}

// evaluate runs the guard for the request tenant and writes the warning
// header. It aborts the request and returns false on failure.
func (s *Server) evaluate(c *gin.Context) (entitlement.Decision, tenantdomain.Tenant, bool) {
	ctx := c.Request.Context()
	tenantID, ok := tenantIDFrom(c)
	if !ok {
		AbortWithError(c, ErrTenantRequired)
		return entitlement.Decision{}, tenantdomain.Tenant{}, false
	}
	caller, _ := tenantctx.CallerFrom(ctx)
	actor := entitlement.Actor{Subject: caller.Subject, Role: caller.Role}
	if caller.KeyID != "" {
		actor.Subject = "api_key:" + caller.KeyID
	}

	decision, tenant, err := s.guard.Evaluate(ctx, tenantID, actor)
	if err != nil {
		AbortWithError(c, err)
		return entitlement.Decision{}, tenantdomain.Tenant{}, false
	}
	if decision.Header != "" {
		c.Header(decision.Header, strconv.Itoa(decision.DaysLeft))
	}
	return decision, tenant, true
}

// RequireFeature rejects tenants whose plan lacks feature. It must run after
// a guard middleware.
func (s *Server) RequireFeature(feature plandomain.Feature) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, ok := tenantFromContext(c)
		if !ok {
			AbortWithError(c, ErrTenantRequired)
			return
		}
		if s.callerIsPlatform(c) {
			c.Next()
			return
		}
		if !s.catalog.CheckFeature(tenant.PlanType, feature) {
			AbortWithError(c, &FeatureError{Feature: feature, Tier: tenant.PlanType})
			return
		}
		c.Next()
	}
}

// RequireLimit rejects creating one more kind resource once the plan limit
// is reached. It must run after a guard middleware.
func (s *Server) RequireLimit(kind plandomain.ResourceKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, ok := tenantFromContext(c)
		if !ok {
			AbortWithError(c, ErrTenantRequired)
			return
		}
		if s.callerIsPlatform(c) {
			c.Next()
			return
		}

		current, err := s.counter.Count(c.Request.Context(), tenant.ID, kind)
		if err != nil {
			s.log.Error("count tenant resources failed",
				zap.String("tenant_id", tenant.ID.String()),
				zap.String("resource", string(kind)),
				zap.Error(err),
			)
			AbortWithError(c, err)
			return
		}
		if !s.catalog.CheckLimit(tenant.PlanType, kind, current) {
			limit, _ := s.catalog.Limit(tenant.PlanType, kind)
			AbortWithError(c, &LimitReachedError{Kind: kind, Tier: tenant.PlanType, Limit: limit, Current: current})
			return
		}
		c.Next()
	}
}

type entitlementView struct {
	TenantID              string                            `json:"tenant_id"`
	Name                  string                            `json:"name"`
	PlanType              plandomain.Tier                   `json:"plan_type"`
	SubscriptionStatus    tenantdomain.SubscriptionStatus   `json:"subscription_status"`
	TrialEndsAt           *time.Time                        `json:"trial_ends_at,omitempty"`
	SubscriptionExpiresAt *time.Time                        `json:"subscription_expires_at,omitempty"`
	GraceEndsAt           *time.Time                        `json:"grace_ends_at,omitempty"`
	Allowed               bool                              `json:"allowed"`
	Code                  entitlement.Code                  `json:"code,omitempty"`
	Message               string                            `json:"message,omitempty"`
	DaysLeft              *int                              `json:"days_left,omitempty"`
	Limits                map[plandomain.ResourceKind]int64 `json:"limits,omitempty"`
	Features              map[plandomain.Feature]bool       `json:"features,omitempty"`
}

// GetEntitlement reports the tenant snapshot with the current decision. A
// denial is reported in the body rather than as an error.
func (s *Server) GetEntitlement(c *gin.Context) {
	decision, okDecision := c.Get(contextDecisionKey)
	tenantValue, okTenant := c.Get(contextTenantKey)

	var (
		d entitlement.Decision
		t tenantdomain.Tenant
	)
	if okDecision && okTenant {
		d, _ = decision.(entitlement.Decision)
		t, _ = tenantValue.(tenantdomain.Tenant)
	} else {
		var ok bool
		d, t, ok = s.evaluate(c)
		if !ok {
			return
		}
	}

	view := entitlementView{
		TenantID:              t.ID.String(),
		Name:                  t.Name,
		PlanType:              t.PlanType,
		SubscriptionStatus:    t.SubscriptionStatus,
		TrialEndsAt:           t.TrialEndsAt,
		SubscriptionExpiresAt: t.SubscriptionExpiresAt,
		GraceEndsAt:           d.GraceEndsAt,
		Allowed:               d.Allowed,
		Code:                  d.Code,
		Message:               d.Message,
	}
	if d.Header != "" {
		days := d.DaysLeft
		view.DaysLeft = &days
	}
	if p, ok := s.catalog.Lookup(t.PlanType); ok {
		view.Limits = p.Limits
		view.Features = p.Features
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": view})
}

func tenantFromContext(c *gin.Context) (tenantdomain.Tenant, bool) {
	value, ok := c.Get(contextTenantKey)
	if !ok {
		return tenantdomain.Tenant{}, false
	}
	tenant, ok := value.(tenantdomain.Tenant)
	return tenant, ok
}

func (s *Server) callerIsPlatform(c *gin.Context) bool {
	caller, ok := tenantctx.CallerFrom(c.Request.Context())
	return ok && s.guard.IsPlatformRole(caller.Role)
}
