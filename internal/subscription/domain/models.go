// Package domain contains the payment order model and the subscription ledger contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/schoolhub/internal/plan/domain"
	"gorm.io/datatypes"
)

// OrderStatus is the fulfilment state of a payment order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusActive    OrderStatus = "active"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus only ever moves away from pending.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusReversed  PaymentStatus = "reversed"
)

// Order is one checkout attempt for a plan period. Amount is in minor units.
type Order struct {
	ID               snowflake.ID             `gorm:"primaryKey" json:"-"`
	OrderID          string                   `gorm:"column:order_id;type:text;not null;uniqueIndex" json:"order_id"`
	TrackingID       *string                  `gorm:"column:tracking_id;type:text;uniqueIndex" json:"tracking_id,omitempty"`
	TenantID         snowflake.ID             `gorm:"column:tenant_id;not null;index" json:"tenant_id"`
	PlanTier         plandomain.Tier          `gorm:"column:plan_tier;type:text;not null" json:"plan_tier"`
	BillingPeriod    plandomain.BillingPeriod `gorm:"column:billing_period;type:text;not null" json:"billing_period"`
	Amount           int64                    `gorm:"not null" json:"amount"`
	Currency         string                   `gorm:"type:text;not null" json:"currency"`
	Status           OrderStatus              `gorm:"type:text;not null" json:"status"`
	PaymentStatus    PaymentStatus            `gorm:"column:payment_status;type:text;not null" json:"payment_status"`
	StartsAt         time.Time                `gorm:"column:starts_at;not null" json:"starts_at"`
	ExpiresAt        time.Time                `gorm:"column:expires_at;not null" json:"expires_at"`
	PaymentMethod    *string                  `gorm:"column:payment_method;type:text" json:"payment_method,omitempty"`
	ConfirmationCode *string                  `gorm:"column:confirmation_code;type:text" json:"confirmation_code,omitempty"`
	GatewayPayload   datatypes.JSON           `gorm:"column:gateway_payload;type:jsonb" json:"-"`
	CompletedAt      *time.Time               `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt        time.Time                `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time                `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "payment_orders" }

// Terminal reports whether the payment outcome is settled.
func (o Order) Terminal() bool {
	return o.PaymentStatus != PaymentStatusPending
}

func (o Order) Tracking() string {
	if o.TrackingID == nil {
		return ""
	}
	return *o.TrackingID
}

// Resolution is the settled state written to a pending order.
type Resolution struct {
	Status           OrderStatus
	PaymentStatus    PaymentStatus
	PaymentMethod    *string
	ConfirmationCode *string
	Payload          datatypes.JSON
	CompletedAt      *time.Time
}
