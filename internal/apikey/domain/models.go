package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
)

// APIKey stores a hashed secondary credential scoped to a tenant.
type APIKey struct {
	ID          snowflake.ID   `gorm:"primaryKey"`
	TenantID    snowflake.ID   `gorm:"column:tenant_id;not null;index"`
	KeyID       string         `gorm:"column:key_id;type:text;not null;uniqueIndex"`
	Name        string         `gorm:"type:text;not null"`
	KeyPrefix   string         `gorm:"column:key_prefix;type:text;not null"`
	KeyHash     string         `gorm:"column:key_hash;type:text;not null;uniqueIndex"`
	Permissions pq.StringArray `gorm:"type:text[];not null"`
	RateLimit   int            `gorm:"column:rate_limit;not null"`
	ExpiresAt   *time.Time     `gorm:"column:expires_at"`
	IsActive    bool           `gorm:"column:is_active;not null;default:true"`
	LastUsedAt  *time.Time     `gorm:"column:last_used_at"`
	CreatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }

// HasPermission reports whether the key grants perm.
func (k APIKey) HasPermission(perm Permission) bool {
	for _, p := range k.Permissions {
		if Permission(p) == perm {
			return true
		}
	}
	return false
}

// Expired reports whether the key has an expiry at or before now.
func (k APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}
