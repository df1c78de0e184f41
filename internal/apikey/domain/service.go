package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/schoolhub/internal/plan/domain"
)

// Permission is an operation class a key may perform.
type Permission string

const (
	PermissionRead   Permission = "read"
	PermissionWrite  Permission = "write"
	PermissionDelete Permission = "delete"
)

// DefaultRateLimit is the per-minute request allowance for new keys.
const DefaultRateLimit = 60

// MaxRateLimit caps the allowance a tenant can request.
const MaxRateLimit = 10000

type Service interface {
	List(ctx context.Context, tenantID snowflake.ID) ([]Response, error)
	Create(ctx context.Context, tenantID snowflake.ID, req CreateRequest) (*SecretResponse, error)
	Revoke(ctx context.Context, tenantID snowflake.ID, keyID string) error
	Delete(ctx context.Context, tenantID snowflake.ID, keyID string) error
}

type CreateRequest struct {
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	RateLimit   int        `json:"rate_limit"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

type Response struct {
	KeyID       string     `json:"key_id"`
	Name        string     `json:"name"`
	KeyPrefix   string     `json:"key_prefix"`
	Permissions []string   `json:"permissions"`
	RateLimit   int        `json:"rate_limit"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

type SecretResponse struct {
	Response
	APIKey string `json:"api_key"`
}

// CredentialContext is what an authenticated key carries into a request.
type CredentialContext struct {
	KeyID       string
	TenantID    snowflake.ID
	Permissions []Permission
	RateLimit   int
	PlanTier    plandomain.Tier
}

func (c CredentialContext) HasPermission(perm Permission) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// ParsePermissions normalizes and deduplicates permission names. An empty
// input yields read-only access.
func ParsePermissions(values []string) ([]Permission, error) {
	if len(values) == 0 {
		return []Permission{PermissionRead}, nil
	}
	seen := make(map[Permission]struct{}, len(values))
	out := make([]Permission, 0, len(values))
	for _, raw := range values {
		perm := Permission(strings.ToLower(strings.TrimSpace(raw)))
		switch perm {
		case PermissionRead, PermissionWrite, PermissionDelete:
		default:
			return nil, ErrInvalidPermission
		}
		if _, ok := seen[perm]; ok {
			continue
		}
		seen[perm] = struct{}{}
		out = append(out, perm)
	}
	return out, nil
}

var (
	ErrInvalidTenant     = errors.New("invalid_tenant")
	ErrInvalidName       = errors.New("invalid_name")
	ErrInvalidKeyID      = errors.New("invalid_key_id")
	ErrInvalidPermission = errors.New("invalid_permission")
	ErrInvalidRateLimit  = errors.New("invalid_rate_limit")
	ErrInvalidExpiry     = errors.New("invalid_expiry")
	ErrNotFound          = errors.New("api_key_not_found")
)
