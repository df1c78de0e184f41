package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolhub/internal/gateway"
	plandomain "github.com/smallbiznis/schoolhub/internal/plan/domain"
	"github.com/smallbiznis/schoolhub/pkg/db/pagination"
)

// Sources of a gateway result, used in logs and metrics.
const (
	SourceWebhook   = "webhook"
	SourcePoll      = "poll"
	SourceScheduler = "scheduler"
	SourceManual    = "manual"
)

// PaymentGateway is the subset of the gateway client the ledger needs.
type PaymentGateway interface {
	RegisterCallback(ctx context.Context) (string, error)
	SubmitOrder(ctx context.Context, req gateway.OrderRequest) (gateway.SubmitResult, error)
	TransactionStatus(ctx context.Context, trackingID string) (gateway.TransactionStatus, error)
}

type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (CheckoutResponse, error)
	// ApplyGatewayResult settles a pending order at most once.
	ApplyGatewayResult(ctx context.Context, key LookupKey, result GatewayResult) (ApplyResult, error)
	// SyncOrder fetches the gateway status of order and applies it.
	SyncOrder(ctx context.Context, order Order, trackingID string, source string) (ApplyResult, error)
	PollStatus(ctx context.Context, tenantID snowflake.ID, trackingID string) (StatusResponse, error)
	FindOrder(ctx context.Context, key LookupKey) (Order, error)
	GetOrder(ctx context.Context, tenantID snowflake.ID, orderID string) (Order, error)
	ListOrders(ctx context.Context, req ListOrdersRequest) (ListOrdersResponse, error)
	ListPendingForReconcile(ctx context.Context, olderThan time.Duration, limit int) ([]Order, error)
}

type CreateOrderRequest struct {
	TenantID      snowflake.ID
	PlanTier      string                 `json:"plan_tier"`
	BillingPeriod string                 `json:"billing_period"`
	Currency      string                 `json:"currency"`
	Billing       gateway.BillingAddress `json:"billing"`
}

type CheckoutResponse struct {
	OrderID     string  `json:"orderId"`
	TrackingID  string  `json:"trackingId"`
	RedirectURL string  `json:"redirectUrl"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
}

// LookupKey finds an order by merchant reference or tracking id. OrderID wins
// when both are set.
type LookupKey struct {
	OrderID    string
	TrackingID string
}

func (k LookupKey) Empty() bool {
	return k.OrderID == "" && k.TrackingID == ""
}

type GatewayResult struct {
	StatusCode       gateway.StatusCode
	PaymentMethod    string
	Description      string
	ConfirmationCode string
	Raw              json.RawMessage
	Source           string
}

type ApplyResult struct {
	Order   Order
	Applied bool
}

type StatusResponse struct {
	Status        PaymentStatus   `json:"status"`
	OrderID       string          `json:"orderId"`
	TrackingID    string          `json:"trackingId"`
	PlanTier      plandomain.Tier `json:"planTier"`
	ExpiresAt     time.Time       `json:"expiresAt"`
	PaymentMethod string          `json:"paymentMethod,omitempty"`
}

type ListOrdersRequest struct {
	TenantID  snowflake.ID
	PageToken string
	PageSize  int
}

type ListOrdersResponse struct {
	Orders   []Order              `json:"orders"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

var (
	ErrInvalidTenant     = errors.New("invalid_tenant")
	ErrInvalidOrderID    = errors.New("invalid_order_id")
	ErrInvalidTrackingID = errors.New("invalid_tracking_id")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
	ErrOrderNotFound     = errors.New("order_not_found")
	ErrTenantNotFound    = errors.New("tenant_not_found")
)
