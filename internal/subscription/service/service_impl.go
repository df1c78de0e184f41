package service

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/schoolhub/internal/clock"
	"github.com/smallbiznis/schoolhub/internal/gateway"
	obsmetrics "github.com/smallbiznis/schoolhub/internal/observability/metrics"
	"github.com/smallbiznis/schoolhub/internal/plan"
	plandomain "github.com/smallbiznis/schoolhub/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/schoolhub/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/schoolhub/internal/tenant/domain"
	"github.com/smallbiznis/schoolhub/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	orderIDPrefix       = "ord_"
	maxDescriptionRunes = 100
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	repo    subscriptiondomain.Repository
	tenants tenantdomain.Repository
	catalog *plan.Catalog
	gateway subscriptiondomain.PaymentGateway
	metrics *obsmetrics.Metrics
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    subscriptiondomain.Repository
	Tenants tenantdomain.Repository
	Catalog *plan.Catalog
	Gateway subscriptiondomain.PaymentGateway
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		tenants: p.Tenants,
		catalog: p.Catalog,
		gateway: p.Gateway,
		metrics: p.Metrics,
	}
}

// CreateOrder prices the plan period, records a pending order and submits it
// to the gateway. A gateway failure leaves the order pending without a
// tracking id.
func (s *Service) CreateOrder(ctx context.Context, req subscriptiondomain.CreateOrderRequest) (subscriptiondomain.CheckoutResponse, error) {
	if req.TenantID == 0 {
		return subscriptiondomain.CheckoutResponse{}, subscriptiondomain.ErrInvalidTenant
	}

	tier, err := plandomain.ParseTier(req.PlanTier)
	if err != nil {
		return subscriptiondomain.CheckoutResponse{}, err
	}
	period, err := plandomain.ParseBillingPeriod(req.BillingPeriod)
	if err != nil {
		return subscriptiondomain.CheckoutResponse{}, err
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	amount, err := s.catalog.Price(tier, period, currency)
	if err != nil {
		return subscriptiondomain.CheckoutResponse{}, err
	}

	tenant, err := s.tenants.FindByID(ctx, s.db, req.TenantID)
	if err != nil {
		return subscriptiondomain.CheckoutResponse{}, err
	}
	if tenant == nil {
		return subscriptiondomain.CheckoutResponse{}, subscriptiondomain.ErrTenantNotFound
	}

	now := s.clock.Now().UTC()
	order := &subscriptiondomain.Order{
		ID:            s.genID.Generate(),
		OrderID:       newOrderID(now),
		TenantID:      tenant.ID,
		PlanTier:      tier,
		BillingPeriod: period,
		Amount:        amount,
		Currency:      currency,
		Status:        subscriptiondomain.OrderStatusPending,
		PaymentStatus: subscriptiondomain.PaymentStatusPending,
		StartsAt:      now,
		ExpiresAt:     period.AddTo(now),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, s.db, order); err != nil {
		return subscriptiondomain.CheckoutResponse{}, err
	}

	log := s.log.With(
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("order_id", order.OrderID),
		zap.String("plan_tier", string(tier)),
		zap.String("billing_period", string(period)),
	)

	notificationID, err := s.gateway.RegisterCallback(ctx)
	if err != nil {
		log.Error("gateway callback registration failed", zap.Error(err))
		return subscriptiondomain.CheckoutResponse{}, err
	}

	submitted, err := s.gateway.SubmitOrder(ctx, gateway.OrderRequest{
		ID:             order.OrderID,
		Currency:       currency,
		Amount:         amount,
		Description:    describeOrder(tenant.Name, tier, period),
		NotificationID: notificationID,
		Billing:        req.Billing,
	})
	if err != nil {
		log.Error("gateway order submission failed", zap.Error(err))
		return subscriptiondomain.CheckoutResponse{}, err
	}

	stored, err := s.repo.SetTrackingID(ctx, s.db, order.ID, submitted.TrackingID, s.clock.Now().UTC())
	if err != nil {
		return subscriptiondomain.CheckoutResponse{}, err
	}
	if !stored {
		log.Warn("order already had a tracking id", zap.String("tracking_id", submitted.TrackingID))
	}

	log.Info("order submitted", zap.String("tracking_id", submitted.TrackingID), zap.Int64("amount", amount))

	return subscriptiondomain.CheckoutResponse{
		OrderID:     order.OrderID,
		TrackingID:  submitted.TrackingID,
		RedirectURL: submitted.RedirectURL,
		Amount:      gateway.MajorUnits(amount),
		Currency:    currency,
	}, nil
}

// ApplyGatewayResult settles a pending order. The order transition and the
// tenant activation commit together, and only the first caller to move the
// order out of pending applies anything.
func (s *Service) ApplyGatewayResult(ctx context.Context, key subscriptiondomain.LookupKey, result subscriptiondomain.GatewayResult) (subscriptiondomain.ApplyResult, error) {
	key = normalizeKey(key)
	if key.Empty() {
		return subscriptiondomain.ApplyResult{}, subscriptiondomain.ErrInvalidOrderID
	}

	res, ok := resolutionFor(result)

	var out subscriptiondomain.ApplyResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.lookup(ctx, tx, key)
		if err != nil {
			return err
		}
		out.Order = order

		if order.Terminal() || !ok {
			return nil
		}

		now := s.clock.Now().UTC()
		if res.PaymentStatus == subscriptiondomain.PaymentStatusCompleted {
			res.CompletedAt = &now
		}

		moved, err := s.repo.Resolve(ctx, tx, order.ID, res, now)
		if err != nil {
			return err
		}
		if !moved {
			reloaded, err := s.lookup(ctx, tx, key)
			if err != nil {
				return err
			}
			out.Order = reloaded
			return nil
		}

		if res.PaymentStatus == subscriptiondomain.PaymentStatusCompleted {
			activated, err := s.tenants.Activate(ctx, tx, order.TenantID, order.PlanTier, order.ExpiresAt, now)
			if err != nil {
				return err
			}
			if !activated {
				return subscriptiondomain.ErrTenantNotFound
			}
		}

		reloaded, err := s.lookup(ctx, tx, key)
		if err != nil {
			return err
		}
		out.Order = reloaded
		out.Applied = true
		return nil
	})
	if err != nil {
		return subscriptiondomain.ApplyResult{}, err
	}

	if out.Applied {
		s.metrics.RecordOrderTransition(ctx, result.Source, string(out.Order.PaymentStatus))
		s.log.Info("order settled",
			zap.String("order_id", out.Order.OrderID),
			zap.String("tenant_id", out.Order.TenantID.String()),
			zap.String("payment_status", string(out.Order.PaymentStatus)),
			zap.String("source", result.Source),
		)
	}
	return out, nil
}

// SyncOrder applies the gateway's current status to order. A trackingID is
// recorded only when the order has none and the gateway reports it for this
// order's reference, amount and currency. A status that does not match the
// order is logged and ignored.
func (s *Service) SyncOrder(ctx context.Context, order subscriptiondomain.Order, trackingID string, source string) (subscriptiondomain.ApplyResult, error) {
	if order.Terminal() {
		return subscriptiondomain.ApplyResult{Order: order}, nil
	}

	trackingID = strings.TrimSpace(trackingID)
	bind := order.TrackingID == nil && trackingID != ""

	tracking := order.Tracking()
	if bind {
		tracking = trackingID
	}
	if tracking == "" {
		return subscriptiondomain.ApplyResult{}, subscriptiondomain.ErrInvalidTrackingID
	}

	status, err := s.gateway.TransactionStatus(ctx, tracking)
	if err != nil {
		return subscriptiondomain.ApplyResult{}, err
	}

	if reason := statusMismatch(order, status); reason != "" {
		s.log.Warn("gateway status does not match order",
			zap.String("order_id", order.OrderID),
			zap.String("tracking_id", tracking),
			zap.String("reason", reason),
			zap.String("source", source),
		)
		return subscriptiondomain.ApplyResult{Order: order}, nil
	}

	if bind {
		if _, err := s.repo.SetTrackingID(ctx, s.db, order.ID, trackingID, s.clock.Now().UTC()); err != nil {
			return subscriptiondomain.ApplyResult{}, err
		}
		order.TrackingID = &trackingID
	}

	return s.ApplyGatewayResult(ctx, subscriptiondomain.LookupKey{OrderID: order.OrderID}, subscriptiondomain.GatewayResult{
		StatusCode:       status.StatusCode,
		PaymentMethod:    status.PaymentMethod,
		Description:      status.Description,
		ConfirmationCode: status.ConfirmationCode,
		Raw:              status.Raw,
		Source:           source,
	})
}

// statusMismatch names the first field of status that disagrees with order,
// or returns "" when the status belongs to it.
func statusMismatch(order subscriptiondomain.Order, status gateway.TransactionStatus) string {
	switch {
	case strings.TrimSpace(status.MerchantReference) != order.OrderID:
		return "merchant_reference"
	case int64(math.Round(status.Amount*100)) != order.Amount:
		return "amount"
	case !strings.EqualFold(strings.TrimSpace(status.Currency), order.Currency):
		return "currency"
	}
	return ""
}

func (s *Service) PollStatus(ctx context.Context, tenantID snowflake.ID, trackingID string) (subscriptiondomain.StatusResponse, error) {
	if tenantID == 0 {
		return subscriptiondomain.StatusResponse{}, subscriptiondomain.ErrInvalidTenant
	}
	trackingID = strings.TrimSpace(trackingID)
	if trackingID == "" {
		return subscriptiondomain.StatusResponse{}, subscriptiondomain.ErrInvalidTrackingID
	}

	order, err := s.repo.FindByTrackingID(ctx, s.db, trackingID)
	if err != nil {
		return subscriptiondomain.StatusResponse{}, err
	}
	if order == nil || order.TenantID != tenantID {
		return subscriptiondomain.StatusResponse{}, subscriptiondomain.ErrOrderNotFound
	}

	current := *order
	if !current.Terminal() {
		applied, err := s.SyncOrder(ctx, current, trackingID, subscriptiondomain.SourcePoll)
		if err != nil {
			return subscriptiondomain.StatusResponse{}, err
		}
		current = applied.Order
	}

	return toStatusResponse(current), nil
}

func (s *Service) FindOrder(ctx context.Context, key subscriptiondomain.LookupKey) (subscriptiondomain.Order, error) {
	key = normalizeKey(key)
	if key.Empty() {
		return subscriptiondomain.Order{}, subscriptiondomain.ErrInvalidOrderID
	}
	return s.lookup(ctx, s.db, key)
}

func (s *Service) GetOrder(ctx context.Context, tenantID snowflake.ID, orderID string) (subscriptiondomain.Order, error) {
	if tenantID == 0 {
		return subscriptiondomain.Order{}, subscriptiondomain.ErrInvalidTenant
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return subscriptiondomain.Order{}, subscriptiondomain.ErrInvalidOrderID
	}

	order, err := s.repo.FindByOrderID(ctx, s.db, orderID)
	if err != nil {
		return subscriptiondomain.Order{}, err
	}
	if order == nil || order.TenantID != tenantID {
		return subscriptiondomain.Order{}, subscriptiondomain.ErrOrderNotFound
	}
	return *order, nil
}

func (s *Service) ListOrders(ctx context.Context, req subscriptiondomain.ListOrdersRequest) (subscriptiondomain.ListOrdersResponse, error) {
	if req.TenantID == 0 {
		return subscriptiondomain.ListOrdersResponse{}, subscriptiondomain.ErrInvalidTenant
	}

	var after *subscriptiondomain.OrderCursor
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := decodeOrderCursor(token)
		if err != nil {
			return subscriptiondomain.ListOrdersResponse{}, err
		}
		after = cursor
	}

	size := pagination.Size(req.PageSize)
	orders, err := s.repo.ListByTenant(ctx, s.db, req.TenantID, after, size+1)
	if err != nil {
		return subscriptiondomain.ListOrdersResponse{}, err
	}

	page, info := pagination.BuildCursorPageInfo(orders, size, encodeOrderCursor)
	if page == nil {
		page = []subscriptiondomain.Order{}
	}
	return subscriptiondomain.ListOrdersResponse{Orders: page, PageInfo: info}, nil
}

func (s *Service) ListPendingForReconcile(ctx context.Context, olderThan time.Duration, limit int) ([]subscriptiondomain.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	cutoff := s.clock.Now().UTC().Add(-olderThan)
	return s.repo.ListPending(ctx, s.db, cutoff, limit)
}

func (s *Service) lookup(ctx context.Context, db *gorm.DB, key subscriptiondomain.LookupKey) (subscriptiondomain.Order, error) {
	var (
		order *subscriptiondomain.Order
		err   error
	)
	if key.OrderID != "" {
		order, err = s.repo.FindByOrderID(ctx, db, key.OrderID)
		if err != nil {
			return subscriptiondomain.Order{}, err
		}
	}
	if order == nil && key.TrackingID != "" {
		order, err = s.repo.FindByTrackingID(ctx, db, key.TrackingID)
		if err != nil {
			return subscriptiondomain.Order{}, err
		}
	}
	if order == nil {
		return subscriptiondomain.Order{}, subscriptiondomain.ErrOrderNotFound
	}
	return *order, nil
}

// resolutionFor maps a gateway status onto the order. Invalid and unknown
// codes leave the order untouched.
func resolutionFor(result subscriptiondomain.GatewayResult) (subscriptiondomain.Resolution, bool) {
	res := subscriptiondomain.Resolution{
		PaymentMethod:    optionalString(result.PaymentMethod),
		ConfirmationCode: optionalString(result.ConfirmationCode),
	}
	if len(result.Raw) > 0 {
		res.Payload = datatypes.JSON(result.Raw)
	}

	switch result.StatusCode {
	case gateway.StatusCompleted:
		res.Status = subscriptiondomain.OrderStatusActive
		res.PaymentStatus = subscriptiondomain.PaymentStatusCompleted
	case gateway.StatusFailed:
		res.Status = subscriptiondomain.OrderStatusCancelled
		res.PaymentStatus = subscriptiondomain.PaymentStatusFailed
	case gateway.StatusReversed:
		res.Status = subscriptiondomain.OrderStatusCancelled
		res.PaymentStatus = subscriptiondomain.PaymentStatusReversed
	default:
		return subscriptiondomain.Resolution{}, false
	}
	return res, true
}

func toStatusResponse(order subscriptiondomain.Order) subscriptiondomain.StatusResponse {
	resp := subscriptiondomain.StatusResponse{
		Status:     order.PaymentStatus,
		OrderID:    order.OrderID,
		TrackingID: order.Tracking(),
		PlanTier:   order.PlanTier,
		ExpiresAt:  order.ExpiresAt,
	}
	if order.PaymentMethod != nil {
		resp.PaymentMethod = *order.PaymentMethod
	}
	return resp
}

func normalizeKey(key subscriptiondomain.LookupKey) subscriptiondomain.LookupKey {
	return subscriptiondomain.LookupKey{
		OrderID:    strings.TrimSpace(key.OrderID),
		TrackingID: strings.TrimSpace(key.TrackingID),
	}
}

func encodeOrderCursor(order subscriptiondomain.Order) string {
	token, err := pagination.EncodeCursor(pagination.Cursor{
		ID:        order.ID.String(),
		CreatedAt: order.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeOrderCursor(token string) (*subscriptiondomain.OrderCursor, error) {
	cursor, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, subscriptiondomain.ErrInvalidPageToken
	}
	id, err := strconv.ParseInt(cursor.ID, 10, 64)
	if err != nil || id <= 0 {
		return nil, subscriptiondomain.ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
	if err != nil {
		return nil, subscriptiondomain.ErrInvalidPageToken
	}
	return &subscriptiondomain.OrderCursor{CreatedAt: createdAt.UTC(), ID: snowflake.ID(id)}, nil
}

func newOrderID(now time.Time) string {
	return orderIDPrefix + ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

func describeOrder(tenantName string, tier plandomain.Tier, period plandomain.BillingPeriod) string {
	title := strings.ToUpper(string(tier[:1])) + string(tier[1:])
	desc := fmt.Sprintf("%s plan (%s)", title, period)
	if name := strings.TrimSpace(tenantName); name != "" {
		desc = name + " - " + desc
	}
	// the gateway caps descriptions at 100 characters
	if runes := []rune(desc); len(runes) > maxDescriptionRunes {
		desc = string(runes[:maxDescriptionRunes])
	}
	return desc
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
