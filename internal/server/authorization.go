package server

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/schoolhub/internal/authorization"
	"github.com/smallbiznis/schoolhub/pkg/tenantctx"
)

// authorizeTenantAction checks the session role against the casbin policy.
func (s *Server) authorizeTenantAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizeWithContext(c, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) authorizeWithContext(c *gin.Context, object string, action string) error {
	caller, ok := tenantctx.CallerFrom(c.Request.Context())
	if !ok {
		return ErrUnauthorized
	}
	if s.authzSvc == nil {
		return ErrForbidden
	}

	err := s.authzSvc.Authorize(c.Request.Context(), caller.Role, object, action)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, authorization.ErrInvalidActor),
		errors.Is(err, authorization.ErrForbidden):
		return ErrForbidden
	default:
		return err
	}
}
