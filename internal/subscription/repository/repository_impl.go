package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/schoolhub/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

const selectOrder = `SELECT id, order_id, tracking_id, tenant_id, plan_tier, billing_period, amount, currency,
	status, payment_status, starts_at, expires_at, payment_method, confirmation_code, gateway_payload,
	completed_at, created_at, updated_at
	FROM payment_orders`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *subscriptiondomain.Order) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_orders (
			id, order_id, tracking_id, tenant_id, plan_tier, billing_period, amount, currency,
			status, payment_status, starts_at, expires_at, payment_method, confirmation_code,
			gateway_payload, completed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.OrderID,
		order.TrackingID,
		order.TenantID,
		order.PlanTier,
		order.BillingPeriod,
		order.Amount,
		order.Currency,
		order.Status,
		order.PaymentStatus,
		order.StartsAt,
		order.ExpiresAt,
		order.PaymentMethod,
		order.ConfirmationCode,
		order.GatewayPayload,
		order.CompletedAt,
		order.CreatedAt,
		order.UpdatedAt,
	).Error
}

func (r *repo) FindByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*subscriptiondomain.Order, error) {
	return r.findOne(ctx, db, selectOrder+` WHERE order_id = ?`, orderID)
}

func (r *repo) FindByTrackingID(ctx context.Context, db *gorm.DB, trackingID string) (*subscriptiondomain.Order, error) {
	return r.findOne(ctx, db, selectOrder+` WHERE tracking_id = ?`, trackingID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...interface{}) (*subscriptiondomain.Order, error) {
	var order subscriptiondomain.Order
	result := db.WithContext(ctx).Raw(query, args...).Scan(&order)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) SetTrackingID(ctx context.Context, db *gorm.DB, id snowflake.ID, trackingID string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payment_orders
		SET tracking_id = ?, updated_at = ?
		WHERE id = ? AND tracking_id IS NULL`,
		trackingID,
		now,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Resolve(ctx context.Context, db *gorm.DB, id snowflake.ID, res subscriptiondomain.Resolution, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payment_orders
		SET status = ?, payment_status = ?,
			payment_method = COALESCE(?, payment_method),
			confirmation_code = COALESCE(?, confirmation_code),
			gateway_payload = COALESCE(?, gateway_payload),
			completed_at = ?, updated_at = ?
		WHERE id = ? AND payment_status = ?`,
		res.Status,
		res.PaymentStatus,
		res.PaymentMethod,
		res.ConfirmationCode,
		res.Payload,
		res.CompletedAt,
		now,
		id,
		subscriptiondomain.PaymentStatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, after *subscriptiondomain.OrderCursor, limit int) ([]subscriptiondomain.Order, error) {
	var orders []subscriptiondomain.Order
	query := db.WithContext(ctx)
	var err error
	if after == nil {
		err = query.Raw(
			selectOrder+` WHERE tenant_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
			tenantID,
			limit,
		).Scan(&orders).Error
	} else {
		err = query.Raw(
			selectOrder+` WHERE tenant_id = ?
				AND (created_at < ? OR (created_at = ? AND id < ?))
			ORDER BY created_at DESC, id DESC LIMIT ?`,
			tenantID,
			after.CreatedAt,
			after.CreatedAt,
			after.ID,
			limit,
		).Scan(&orders).Error
	}
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) ListPending(ctx context.Context, db *gorm.DB, createdBefore time.Time, limit int) ([]subscriptiondomain.Order, error) {
	var orders []subscriptiondomain.Order
	err := db.WithContext(ctx).Raw(
		selectOrder+` WHERE payment_status = ? AND tracking_id IS NOT NULL AND created_at < ?
		ORDER BY created_at ASC, id ASC LIMIT ?`,
		subscriptiondomain.PaymentStatusPending,
		createdBefore,
		limit,
	).Scan(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
