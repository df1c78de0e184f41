package domain

import (
	"context"
	"errors"

	plandomain "github.com/smallbiznis/schoolhub/internal/plan/domain"
)

type ProvisionRequest struct {
	Name     string          `json:"name"`
	Slug     string          `json:"slug,omitempty"`
	PlanTier plandomain.Tier `json:"plan_tier,omitempty"`
}

type Service interface {
	Get(ctx context.Context, id string) (Tenant, error)
	Provision(ctx context.Context, req ProvisionRequest) (Tenant, error)
	Suspend(ctx context.Context, id string) (Tenant, error)
	Reinstate(ctx context.Context, id string) (Tenant, error)
	// ExpireLapsed moves lapsed trial and active tenants to expired and
	// returns how many rows changed.
	ExpireLapsed(ctx context.Context, limit int) (int, error)
}

var (
	ErrNotFound          = errors.New("tenant_not_found")
	ErrInvalidID         = errors.New("invalid_tenant_id")
	ErrInvalidName       = errors.New("invalid_tenant_name")
	ErrInvalidTransition = errors.New("invalid_subscription_transition")
)
