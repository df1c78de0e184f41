// Package domain contains the tenant model and its subscription snapshot.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/schoolhub/internal/plan/domain"
)

// SubscriptionStatus is the lifecycle state of a tenant subscription.
type SubscriptionStatus string

const (
	StatusTrial     SubscriptionStatus = "trial"
	StatusActive    SubscriptionStatus = "active"
	StatusExpired   SubscriptionStatus = "expired"
	StatusSuspended SubscriptionStatus = "suspended"
)

// Tenant is one school. The subscription columns form the entitlement snapshot.
type Tenant struct {
	ID                    snowflake.ID       `gorm:"primaryKey" json:"id"`
	Name                  string             `gorm:"type:text;not null" json:"name"`
	Slug                  string             `gorm:"type:text;not null;uniqueIndex" json:"slug"`
	SubscriptionStatus    SubscriptionStatus `gorm:"type:text;not null" json:"subscription_status"`
	PlanType              plandomain.Tier    `gorm:"type:text;not null" json:"plan_type"`
	TrialEndsAt           *time.Time         `json:"trial_ends_at,omitempty"`
	SubscriptionExpiresAt *time.Time         `json:"subscription_expires_at,omitempty"`
	CreatedAt             time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time          `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Tenant) TableName() string { return "tenants" }

// Snapshot is the subset of tenant state the entitlement guard reads.
type Snapshot struct {
	TenantID              snowflake.ID
	Status                SubscriptionStatus
	PlanTier              plandomain.Tier
	TrialEndsAt           *time.Time
	SubscriptionExpiresAt *time.Time
}

func (t Tenant) Snapshot() Snapshot {
	return Snapshot{
		TenantID:              t.ID,
		Status:                t.SubscriptionStatus,
		PlanTier:              t.PlanType,
		TrialEndsAt:           t.TrialEndsAt,
		SubscriptionExpiresAt: t.SubscriptionExpiresAt,
	}
}
