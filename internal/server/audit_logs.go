package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/schoolhub/internal/audit/domain"
	"github.com/smallbiznis/schoolhub/pkg/db/pagination"
	"go.uber.org/zap"
)

type listAuditLogsQuery struct {
	pagination.Pagination
	Action     string `form:"action"`
	TargetType string `form:"target_type"`
	ActorType  string `form:"actor_type"`
}

// ListAuditLogs returns a tenant's privileged actions, newest first.
func (s *Server) ListAuditLogs(c *gin.Context) {
	tenantID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || tenantID == 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid tenant id"))
		return
	}

	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListAuditLogRequest{
		Pagination: query.Pagination,
		TenantID:   tenantID,
		Action:     strings.TrimSpace(query.Action),
		TargetType: strings.TrimSpace(query.TargetType),
		ActorType:  strings.TrimSpace(query.ActorType),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp.AuditLogs, "page_info": resp.PageInfo})
}

// recordAudit writes an audit entry after a privileged action succeeded. A
// failed write is logged and never fails the request.
func (s *Server) recordAudit(c *gin.Context, tenantID snowflake.ID, action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.Record(c.Request.Context(), auditdomain.Entry{
		TenantID:   tenantID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   metadata,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		s.log.Warn("audit log write failed", zap.String("action", action), zap.Error(err))
	}
}
