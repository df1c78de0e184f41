package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/schoolhub/internal/apikey/domain"
)

type whoAmIResponse struct {
	KeyID       string                    `json:"key_id"`
	TenantID    string                    `json:"tenant_id"`
	PlanTier    string                    `json:"plan_tier"`
	Permissions []apikeydomain.Permission `json:"permissions"`
	RateLimit   int                       `json:"rate_limit"`
}

// WhoAmI describes the calling key.
func (s *Server) WhoAmI(c *gin.Context) {
	value, ok := c.Get(contextCredentialKey)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	cred, ok := value.(apikeydomain.CredentialContext)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": whoAmIResponse{
		KeyID:       cred.KeyID,
		TenantID:    cred.TenantID.String(),
		PlanTier:    string(cred.PlanTier),
		Permissions: cred.Permissions,
		RateLimit:   cred.RateLimit,
	}})
}
