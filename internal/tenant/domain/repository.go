package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/schoolhub/internal/plan/domain"
	"gorm.io/gorm"
)

// Repository persists tenants. Every state change is a conditional single-row
// update and reports whether a row moved.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tenant *Tenant) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	ExpireIfStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from SubscriptionStatus, now time.Time) (bool, error)
	Activate(ctx context.Context, db *gorm.DB, id snowflake.ID, tier plandomain.Tier, expiresAt time.Time, now time.Time) (bool, error)
	TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []SubscriptionStatus, to SubscriptionStatus, now time.Time) (bool, error)
	ListLapsed(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Tenant, error)
}
