package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/schoolhub/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/schoolhub/internal/audit/domain"
	"github.com/smallbiznis/schoolhub/internal/observability/logger"
	"go.uber.org/zap"
)

func (s *Server) ListAPIKeys(c *gin.Context) {
	tenantID, ok := tenantIDFrom(c)
	if !ok {
		AbortWithError(c, ErrTenantRequired)
		return
	}

	keys, err := s.apiKeySvc.List(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": keys})
}

// CreateAPIKey returns the raw key once. Only its hash is stored.
func (s *Server) CreateAPIKey(c *gin.Context) {
	tenantID, ok := tenantIDFrom(c)
	if !ok {
		AbortWithError(c, ErrTenantRequired)
		return
	}

	var req apikeydomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.apiKeySvc.Create(c.Request.Context(), tenantID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	logger.FromContext(c.Request.Context()).Info("api key created",
		zap.String("key_id", resp.KeyID),
		zap.Strings("permissions", resp.Permissions),
	)
	s.recordAudit(c, tenantID, auditdomain.ActionAPIKeyCreated, auditdomain.TargetAPIKey, resp.KeyID, map[string]any{
		"name":        resp.Name,
		"key_prefix":  resp.KeyPrefix,
		"permissions": resp.Permissions,
		"rate_limit":  resp.RateLimit,
	})

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": resp})
}

func (s *Server) RevokeAPIKey(c *gin.Context) {
	tenantID, ok := tenantIDFrom(c)
	if !ok {
		AbortWithError(c, ErrTenantRequired)
		return
	}

	keyID := strings.TrimSpace(c.Param("keyId"))
	if err := s.apiKeySvc.Revoke(c.Request.Context(), tenantID, keyID); err != nil {
		AbortWithError(c, err)
		return
	}

	logger.FromContext(c.Request.Context()).Info("api key revoked", zap.String("key_id", keyID))
	s.recordAudit(c, tenantID, auditdomain.ActionAPIKeyRevoked, auditdomain.TargetAPIKey, keyID, nil)
	c.Status(http.StatusNoContent)
}

func (s *Server) DeleteAPIKey(c *gin.Context) {
	tenantID, ok := tenantIDFrom(c)
	if !ok {
		AbortWithError(c, ErrTenantRequired)
		return
	}

	keyID := strings.TrimSpace(c.Param("keyId"))
	if err := s.apiKeySvc.Delete(c.Request.Context(), tenantID, keyID); err != nil {
		AbortWithError(c, err)
		return
	}

	logger.FromContext(c.Request.Context()).Info("api key deleted", zap.String("key_id", keyID))
	s.recordAudit(c, tenantID, auditdomain.ActionAPIKeyDeleted, auditdomain.TargetAPIKey, keyID, nil)
	c.Status(http.StatusNoContent)
}
