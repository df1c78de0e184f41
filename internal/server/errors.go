package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/schoolhub/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/schoolhub/internal/audit/domain"
	"github.com/smallbiznis/schoolhub/internal/auth"
	"github.com/smallbiznis/schoolhub/internal/authorization"
	"github.com/smallbiznis/schoolhub/internal/entitlement"
	"github.com/smallbiznis/schoolhub/internal/gateway"
	plandomain "github.com/smallbiznis/schoolhub/internal/plan/domain"
	"github.com/smallbiznis/schoolhub/internal/ratelimit"
	"github.com/smallbiznis/schoolhub/internal/receipt"
	subscriptiondomain "github.com/smallbiznis/schoolhub/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/schoolhub/internal/tenant/domain"
	"github.com/smallbiznis/schoolhub/pkg/db"
	"gorm.io/gorm"
)

// Response codes carried in the error body.
const (
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeFeatureNotAvailable = "FEATURE_NOT_AVAILABLE"
	CodeLimitReached        = "LIMIT_REACHED"
	CodeNotFound            = "NOT_FOUND"
	CodeConflict            = "CONFLICT"
	CodeOrderNotPaid        = "ORDER_NOT_PAID"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeValidation          = "VALIDATION_ERROR"
	CodeRateLimited         = "RATE_LIMITED"
	CodeGateway             = "GATEWAY_ERROR"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	CodeInternal            = "INTERNAL_ERROR"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

// FeatureError rejects a request the tenant's plan does not cover.
type FeatureError struct {
	Feature plandomain.Feature
	Tier    plandomain.Tier
}

func (e *FeatureError) Error() string {
	return fmt.Sprintf("feature %s is not available on the %s plan", e.Feature, e.Tier)
}

func (e *FeatureError) Is(target error) bool {
	return target == ErrForbidden
}

// LimitReachedError rejects a create that would exceed a plan limit.
type LimitReachedError struct {
	Kind    plandomain.ResourceKind
	Tier    plandomain.Tier
	Limit   int64
	Current int64
}

func (e *LimitReachedError) Error() string {
	return fmt.Sprintf("%s limit of %d reached on the %s plan", e.Kind, e.Limit, e.Tier)
}

func (e *LimitReachedError) Is(target error) bool {
	return target == ErrForbidden
}

type errorResponse struct {
	Success bool           `json:"success"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrTenantRequired     = errors.New("tenant_required")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, payload)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorResponse) {
	if err == nil {
		return http.StatusInternalServerError, failure(CodeInternal, "internal server error")
	}

	if vErr := asValidationErrors(err); vErr != nil {
		resp := failure(CodeValidation, "validation error")
		resp.Details = map[string]any{"errors": vErr.Errors}
		return http.StatusBadRequest, resp
	}

	var denyErr *entitlement.DenyError
	if errors.As(err, &denyErr) {
		resp := failure(string(denyErr.Code), denyErr.Message)
		if details := denyErr.Details(); len(details) > 0 {
			resp.Details = details
		}
		return http.StatusForbidden, resp
	}

	var featureErr *FeatureError
	if errors.As(err, &featureErr) {
		resp := failure(CodeFeatureNotAvailable, featureErr.Error())
		resp.Details = map[string]any{
			"feature":   string(featureErr.Feature),
			"plan_tier": string(featureErr.Tier),
		}
		return http.StatusForbidden, resp
	}

	var limitErr *LimitReachedError
	if errors.As(err, &limitErr) {
		resp := failure(CodeLimitReached, limitErr.Error())
		resp.Details = map[string]any{
			"resource":  string(limitErr.Kind),
			"plan_tier": string(limitErr.Tier),
			"limit":     limitErr.Limit,
			"current":   limitErr.Current,
		}
		return http.StatusForbidden, resp
	}

	var rateErr *ratelimit.LimitError
	if errors.As(err, &rateErr) {
		resp := failure(CodeRateLimited, "rate limit exceeded")
		resp.Details = map[string]any{
			"limit":    rateErr.Limit,
			"reset_at": rateErr.ResetAt.UTC().Format(time.RFC3339),
		}
		return http.StatusTooManyRequests, resp
	}

	if isValidationError(err) {
		code := err.Error()
		field := validationErrorField(code)
		resp := failure(CodeValidation, validationErrorMessage(field))
		resp.Details = map[string]any{
			"errors": []ValidationError{{Field: field, Code: code, Message: validationErrorMessage(field)}},
		}
		return http.StatusBadRequest, resp
	}

	switch {
	case isUnauthorizedError(err):
		return http.StatusUnauthorized, failure(CodeUnauthorized, "unauthorized")
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, failure(CodeForbidden, "forbidden")
	case isNotFoundError(err):
		return http.StatusNotFound, failure(CodeNotFound, "not found")
	case errors.Is(err, receipt.ErrNotPaid):
		return http.StatusConflict, failure(CodeOrderNotPaid, "order has not been paid")
	case errors.Is(err, tenantdomain.ErrInvalidTransition):
		return http.StatusConflict, failure(CodeInvalidTransition, "subscription status does not allow this change")
	case errors.Is(err, ErrConflict),
		db.IsDuplicateKeyErr(err):
		return http.StatusConflict, failure(CodeConflict, "conflict")
	case errors.Is(err, gateway.ErrNotConfigured),
		errors.Is(err, auth.ErrNotConfigured),
		errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, failure(CodeServiceUnavailable, "service unavailable")
	case errors.Is(err, gateway.ErrGateway):
		return http.StatusBadGateway, failure(CodeGateway, "payment gateway request failed")
	default:
		return http.StatusInternalServerError, failure(CodeInternal, "internal server error")
	}
}

func failure(code, message string) errorResponse {
	return errorResponse{Success: false, Code: code, Message: message}
}

// classifyErrorForLog feeds the request logger the same code clients see.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "server", payload.Code
	default:
		return "client", payload.Code
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isUnauthorizedError(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, ErrTenantRequired):
		return true
	default:
		return false
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, plandomain.ErrUnknownTier),
		errors.Is(err, plandomain.ErrUnknownPeriod),
		errors.Is(err, plandomain.ErrUnsupportedCurrency),
		errors.Is(err, subscriptiondomain.ErrInvalidTenant),
		errors.Is(err, subscriptiondomain.ErrInvalidOrderID),
		errors.Is(err, subscriptiondomain.ErrInvalidTrackingID),
		errors.Is(err, subscriptiondomain.ErrInvalidPageToken),
		errors.Is(err, tenantdomain.ErrInvalidID),
		errors.Is(err, tenantdomain.ErrInvalidName),
		errors.Is(err, auditdomain.ErrInvalidTenant),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, apikeydomain.ErrInvalidTenant),
		errors.Is(err, apikeydomain.ErrInvalidName),
		errors.Is(err, apikeydomain.ErrInvalidKeyID),
		errors.Is(err, apikeydomain.ErrInvalidPermission),
		errors.Is(err, apikeydomain.ErrInvalidRateLimit),
		errors.Is(err, apikeydomain.ErrInvalidExpiry):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrOrderNotFound),
		errors.Is(err, subscriptiondomain.ErrTenantNotFound),
		errors.Is(err, tenantdomain.ErrNotFound),
		errors.Is(err, apikeydomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	return strings.TrimPrefix(code, "invalid_")
}

func validationErrorMessage(field string) string {
	if field == "request" {
		return "invalid request"
	}
	return "invalid " + field
}
