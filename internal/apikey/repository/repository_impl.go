package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/schoolhub/internal/apikey/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() apikeydomain.Repository {
	return &repo{}
}

const selectColumns = `SELECT id, tenant_id, key_id, name, key_prefix, key_hash, permissions, rate_limit,
	expires_at, is_active, last_used_at, created_at, updated_at
	FROM api_keys`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, key *apikeydomain.APIKey) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO api_keys (id, tenant_id, key_id, name, key_prefix, key_hash, permissions, rate_limit,
			expires_at, is_active, last_used_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID,
		key.TenantID,
		key.KeyID,
		key.Name,
		key.KeyPrefix,
		key.KeyHash,
		key.Permissions,
		key.RateLimit,
		key.ExpiresAt,
		key.IsActive,
		key.LastUsedAt,
		key.CreatedAt,
		key.UpdatedAt,
	).Error
}

func (r *repo) FindByKeyID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, keyID string) (*apikeydomain.APIKey, error) {
	var key apikeydomain.APIKey
	result := db.WithContext(ctx).Raw(
		selectColumns+` WHERE tenant_id = ? AND key_id = ?`,
		tenantID,
		keyID,
	).Scan(&key)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &key, nil
}

func (r *repo) FindByHash(ctx context.Context, db *gorm.DB, keyHash string) (*apikeydomain.APIKey, error) {
	var key apikeydomain.APIKey
	result := db.WithContext(ctx).Raw(
		selectColumns+` WHERE key_hash = ?`,
		keyHash,
	).Scan(&key)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &key, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]apikeydomain.APIKey, error) {
	var keys []apikeydomain.APIKey
	err := db.WithContext(ctx).Raw(
		selectColumns+` WHERE tenant_id = ? ORDER BY created_at DESC, id DESC`,
		tenantID,
	).Scan(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, keyID string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE api_keys SET is_active = ?, updated_at = ?
		 WHERE tenant_id = ? AND key_id = ?`,
		false,
		now,
		tenantID,
		keyID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, keyID string) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`DELETE FROM api_keys WHERE tenant_id = ? AND key_id = ?`,
		tenantID,
		keyID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`,
		at,
		id,
	).Error
}
