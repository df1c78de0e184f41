package server

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/schoolhub/internal/observability/logger"
	"go.uber.org/zap"
)

// cleanupPrefix matches the leading part of a slug. LIKE wildcards never pass.
var cleanupPrefix = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{2,}$`)

type testCleanupRequest struct {
	Prefix string `json:"prefix"`
}

// TestCleanup removes tenants created by end-to-end runs along with their
// keys. Tenants with payment orders are kept, since orders are never deleted.
// The route exists only when E2E_CLEANUP_ENABLED is set outside production.
func (s *Server) TestCleanup(c *gin.Context) {
	if s.cfg.IsProduction() || !s.cfg.E2ECleanupEnabled {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req testCleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	prefix := strings.TrimSpace(req.Prefix)
	if prefix == "" {
		AbortWithError(c, newValidationError("prefix", "required", "prefix is required"))
		return
	}
	if !cleanupPrefix.MatchString(prefix) {
		AbortWithError(c, newValidationError("prefix", "invalid_prefix", "prefix must be at least three slug characters"))
		return
	}

	ctx := c.Request.Context()

	var matched int64
	if err := s.db.WithContext(ctx).
		Table("tenants").
		Where("slug LIKE ?", prefix+"%").
		Count(&matched).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	var tenantIDs []int64
	if err := s.db.WithContext(ctx).
		Table("tenants").
		Select("id").
		Where("slug LIKE ?", prefix+"%").
		Where("id NOT IN (?)", s.db.Table("payment_orders").Select("tenant_id")).
		Scan(&tenantIDs).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	if len(tenantIDs) > 0 {
		for _, stmt := range []string{
			`DELETE FROM api_keys WHERE tenant_id IN ?`,
			`DELETE FROM tenants WHERE id IN ?`,
		} {
			if err := s.db.WithContext(ctx).Exec(stmt, tenantIDs).Error; err != nil {
				AbortWithError(c, err)
				return
			}
		}
	}

	retained := int(matched) - len(tenantIDs)
	logger.FromContext(ctx).Info("test tenants cleaned up",
		zap.String("prefix", prefix),
		zap.Int("removed", len(tenantIDs)),
		zap.Int("retained", retained),
	)

	c.JSON(http.StatusOK, gin.H{"status": "ok", "tenants": len(tenantIDs), "retained": retained})
}
