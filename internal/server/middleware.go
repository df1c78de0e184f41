package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/schoolhub/internal/auth"
	obscontext "github.com/smallbiznis/schoolhub/internal/observability/context"
	"github.com/smallbiznis/schoolhub/pkg/tenantctx"
	"go.uber.org/zap"
)

// HeaderTenant lets a platform operator act on one tenant's routes.
const HeaderTenant = "X-Tenant-ID"

const (
	contextSessionKey         = "session"
	contextTenantKey          = "tenant"
	contextDecisionKey        = "entitlement_decision"
	contextCredentialKey      = "credential"
	contextEntitlementCodeKey = "entitlement_code"
)

// SessionRequired verifies the bearer token (or session cookie) and puts the
// caller and its tenant on the request context.
func (s *Server) SessionRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := auth.ReadToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		session, err := s.verifier.Verify(raw)
		if err != nil {
			s.log.Debug("session rejected", zap.Error(err))
			AbortWithError(c, err)
			return
		}

		ctx := c.Request.Context()
		ctx = tenantctx.WithCaller(ctx, tenantctx.Caller{Subject: session.Subject, Role: session.Role})
		ctx = obscontext.WithActor(ctx, "user", session.Subject)
		if session.TenantID != 0 {
			ctx = tenantctx.WithTenantID(ctx, session.TenantID)
			ctx = obscontext.WithTenantID(ctx, session.TenantID.String())
		}

		c.Set(contextSessionKey, session)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// TenantContext requires a tenant scope. Sessions carry their own tenant;
// platform operators name one with HeaderTenant.
func (s *Server) TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		caller, _ := tenantctx.CallerFrom(ctx)
		header := strings.TrimSpace(c.GetHeader(HeaderTenant))

		if id, ok := tenantctx.TenantID(ctx); ok {
			if header != "" && header != id.String() {
				AbortWithError(c, ErrForbidden)
				return
			}
			c.Next()
			return
		}

		if header == "" || !s.guard.IsPlatformRole(caller.Role) {
			AbortWithError(c, ErrTenantRequired)
			return
		}
		id, err := snowflake.ParseString(header)
		if err != nil || id == 0 {
			AbortWithError(c, newValidationError("tenant_id", "invalid_tenant_id", "invalid tenant id"))
			return
		}

		ctx = tenantctx.WithTenantID(ctx, id)
		ctx = obscontext.WithTenantID(ctx, id.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func tenantIDFrom(c *gin.Context) (snowflake.ID, bool) {
	return tenantctx.TenantID(c.Request.Context())
}
