package server

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/schoolhub/internal/apikey/domain"
	obscontext "github.com/smallbiznis/schoolhub/internal/observability/context"
	"github.com/smallbiznis/schoolhub/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/schoolhub/internal/observability/metrics"
	"github.com/smallbiznis/schoolhub/pkg/tenantctx"
	"go.uber.org/zap"
)

const HeaderAPIKey = "X-API-Key"

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

const rateLimitReasonKeyRate = "key-rate"

// APIKeyRequired authenticates external requests by secondary key. Tenant
// identity comes only from the key record; a tenant header is refused.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.TrimSpace(c.GetHeader(HeaderTenant)) != "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		raw := strings.TrimSpace(c.GetHeader(HeaderAPIKey))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		cred, err := s.authenticator.Authenticate(ctx, raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if cred == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx = tenantctx.WithTenantID(ctx, cred.TenantID)
		ctx = tenantctx.WithCaller(ctx, tenantctx.Caller{KeyID: cred.KeyID})
		ctx = obscontext.WithTenantID(ctx, cred.TenantID.String())
		ctx = obscontext.WithActor(ctx, "api_key", cred.KeyID)
		c.Request = c.Request.WithContext(ctx)

		if !s.checkKeyRate(c, cred) {
			return
		}

		if err := s.authzSvc.AuthorizeCredential(ctx, cred.Permissions, c.Request.Method, c.Request.URL.Path); err != nil {
			AbortWithError(c, ErrForbidden)
			return
		}

		c.Set(contextCredentialKey, *cred)
		c.Next()
	}
}

// checkKeyRate counts the request against the key's per-window allowance and
// sets the rate-limit headers. It aborts and returns false when denied.
func (s *Server) checkKeyRate(c *gin.Context, cred *apikeydomain.CredentialContext) bool {
	ctx := c.Request.Context()
	endpoint := normalizeRateLimitEndpoint(c)
	tenantID := cred.TenantID.String()

	limit := cred.RateLimit
	if limit <= 0 {
		limit = apikeydomain.DefaultRateLimit
	}

	result, err := s.limiter.Check(ctx, cred.KeyID, limit)
	if err != nil {
		logger.FromContext(ctx).Warn("api key rate limit check failed", zap.Error(err))
		AbortWithError(c, ErrServiceUnavailable)
		return false
	}

	c.Header(HeaderRateLimitLimit, strconv.Itoa(result.Limit))
	c.Header(HeaderRateLimitRemaining, strconv.Itoa(result.Remaining))
	c.Header(HeaderRateLimitReset, strconv.FormatInt(result.ResetAt.Unix(), 10))

	if err := result.Err(); err != nil {
		retryAfter := int(result.ResetAt.Sub(s.clock.Now()).Seconds())
		denyKeyRate(c, endpoint, tenantID, retryAfter, err, s.obsMetrics)
		return false
	}

	recordRateLimitAllowed(ctx, endpoint, tenantID, s.obsMetrics)
	return true
}

func denyKeyRate(c *gin.Context, endpoint, tenantID string, retryAfter int, err error, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("api key rate limit exceeded",
		zap.String("reason", rateLimitReasonKeyRate),
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, tenantID, rateLimitReasonKeyRate, metrics)

	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	AbortWithError(c, err)
}

func recordRateLimitAllowed(ctx context.Context, endpoint, tenantID string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(ctx, tenantID, endpoint)
}

func recordRateLimitDenied(ctx context.Context, endpoint, tenantID, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, tenantID, endpoint, reason)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
