package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/schoolhub/internal/plan/domain"
	tenantdomain "github.com/smallbiznis/schoolhub/internal/tenant/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() tenantdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tenant *tenantdomain.Tenant) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO tenants (
			id, name, slug, subscription_status, plan_type, trial_ends_at,
			subscription_expires_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tenant.ID,
		tenant.Name,
		tenant.Slug,
		tenant.SubscriptionStatus,
		tenant.PlanType,
		tenant.TrialEndsAt,
		tenant.SubscriptionExpiresAt,
		tenant.CreatedAt,
		tenant.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*tenantdomain.Tenant, error) {
	var tenant tenantdomain.Tenant
	result := db.WithContext(ctx).Raw(
		`SELECT id, name, slug, subscription_status, plan_type, trial_ends_at,
			subscription_expires_at, created_at, updated_at
		FROM tenants
		WHERE id = ?`,
		id,
	).Scan(&tenant)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &tenant, nil
}

// ExpireIfStatus moves a tenant to expired only while it still holds status
// from and the matching deadline is before now. A renewal that landed after
// the caller's read leaves the row untouched.
func (r *repo) ExpireIfStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from tenantdomain.SubscriptionStatus, now time.Time) (bool, error) {
	var deadline string
	switch from {
	case tenantdomain.StatusTrial:
		deadline = "trial_ends_at"
	case tenantdomain.StatusActive:
		deadline = "subscription_expires_at"
	default:
		return false, nil
	}

	result := db.WithContext(ctx).Exec(
		`UPDATE tenants
		SET subscription_status = ?, updated_at = ?
		WHERE id = ? AND subscription_status = ?
			AND `+deadline+` IS NOT NULL AND `+deadline+` < ?`,
		tenantdomain.StatusExpired,
		now,
		id,
		from,
		now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Activate records a paid period. A suspended tenant keeps its status until reinstated.
func (r *repo) Activate(ctx context.Context, db *gorm.DB, id snowflake.ID, tier plandomain.Tier, expiresAt time.Time, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE tenants
		SET subscription_status = CASE WHEN subscription_status = ? THEN subscription_status ELSE ? END,
			plan_type = ?, subscription_expires_at = ?, updated_at = ?
		WHERE id = ?`,
		tenantdomain.StatusSuspended,
		tenantdomain.StatusActive,
		tier,
		expiresAt,
		now,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []tenantdomain.SubscriptionStatus, to tenantdomain.SubscriptionStatus, now time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE tenants
		SET subscription_status = ?, updated_at = ?
		WHERE id = ? AND subscription_status IN ?`,
		to,
		now,
		id,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListLapsed(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]tenantdomain.Tenant, error) {
	var tenants []tenantdomain.Tenant
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, slug, subscription_status, plan_type, trial_ends_at,
			subscription_expires_at, created_at, updated_at
		FROM tenants
		WHERE (subscription_status = ? AND trial_ends_at IS NOT NULL AND trial_ends_at < ?)
			OR (subscription_status = ? AND subscription_expires_at IS NOT NULL AND subscription_expires_at < ?)
		ORDER BY id ASC
		LIMIT ?`,
		tenantdomain.StatusTrial,
		now,
		tenantdomain.StatusActive,
		now,
		limit,
	).Scan(&tenants).Error
	if err != nil {
		return nil, err
	}
	return tenants, nil
}
