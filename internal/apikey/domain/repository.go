package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *APIKey) error
	FindByKeyID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, keyID string) (*APIKey, error)
	FindByHash(ctx context.Context, db *gorm.DB, keyHash string) (*APIKey, error)
	List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]APIKey, error)
	Deactivate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, keyID string, now time.Time) (bool, error)
	Delete(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, keyID string) (bool, error)
	TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}
