package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// OrderCursor positions a page of orders listed newest first.
type OrderCursor struct {
	CreatedAt time.Time
	ID        snowflake.ID
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*Order, error)
	FindByTrackingID(ctx context.Context, db *gorm.DB, trackingID string) (*Order, error)
	// SetTrackingID only writes when no tracking id is stored yet.
	SetTrackingID(ctx context.Context, db *gorm.DB, id snowflake.ID, trackingID string, now time.Time) (bool, error)
	// Resolve only writes while the order's payment is still pending.
	Resolve(ctx context.Context, db *gorm.DB, id snowflake.ID, res Resolution, now time.Time) (bool, error)
	ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, after *OrderCursor, limit int) ([]Order, error)
	ListPending(ctx context.Context, db *gorm.DB, createdBefore time.Time, limit int) ([]Order, error)
}
