package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/schoolhub/internal/audit/domain"
	"github.com/smallbiznis/schoolhub/internal/observability/logger"
	tenantdomain "github.com/smallbiznis/schoolhub/internal/tenant/domain"
	"go.uber.org/zap"
)

// ProvisionTenant creates a school on a fresh trial.
func (s *Server) ProvisionTenant(c *gin.Context) {
	var req tenantdomain.ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tenant, err := s.tenantSvc.Provision(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	logger.FromContext(c.Request.Context()).Info("tenant provisioned",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("slug", tenant.Slug),
	)
	s.recordAudit(c, tenant.ID, auditdomain.ActionTenantProvisioned, auditdomain.TargetTenant, tenant.ID.String(), map[string]any{
		"slug":      tenant.Slug,
		"plan_type": string(tenant.PlanType),
	})

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": tenant})
}

func (s *Server) GetTenant(c *gin.Context) {
	tenant, err := s.tenantSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": tenant})
}

func (s *Server) SuspendTenant(c *gin.Context) {
	s.transitionTenant(c, s.tenantSvc.Suspend, auditdomain.ActionTenantSuspended, "tenant suspended")
}

func (s *Server) ReinstateTenant(c *gin.Context) {
	s.transitionTenant(c, s.tenantSvc.Reinstate, auditdomain.ActionTenantReinstated, "tenant reinstated")
}

func (s *Server) transitionTenant(
	c *gin.Context,
	transition func(ctx context.Context, id string) (tenantdomain.Tenant, error),
	action string,
	message string,
) {
	id := strings.TrimSpace(c.Param("id"))
	tenant, err := transition(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	logger.FromContext(c.Request.Context()).Info(message,
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("subscription_status", string(tenant.SubscriptionStatus)),
	)
	s.recordAudit(c, tenant.ID, action, auditdomain.TargetTenant, tenant.ID.String(), map[string]any{
		"subscription_status": string(tenant.SubscriptionStatus),
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "data": tenant})
}
