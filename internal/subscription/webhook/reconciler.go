// Package webhook turns gateway payment notifications into ledger updates.
package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"

	obsmetrics "github.com/smallbiznis/schoolhub/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/schoolhub/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidNotification = errors.New("invalid_notification")

// Notification is the gateway's IPN call.
type Notification struct {
	OrderTrackingID        string `form:"OrderTrackingId" json:"OrderTrackingId"`
	OrderMerchantReference string `form:"OrderMerchantReference" json:"OrderMerchantReference"`
	OrderNotificationType  string `form:"OrderNotificationType" json:"OrderNotificationType"`
}

// Ack is the acknowledgement body the gateway expects.
type Ack struct {
	OrderNotificationType  string `json:"orderNotificationType"`
	OrderTrackingID        string `json:"orderTrackingId"`
	OrderMerchantReference string `json:"orderMerchantReference"`
	Status                 int    `json:"status"`
}

// Webhook outcomes recorded in metrics.
const (
	OutcomeApplied  = "applied"
	OutcomeNoop     = "noop"
	OutcomeUnknown  = "unknown_order"
	OutcomeInvalid  = "invalid"
	OutcomeFailed   = "failed"
	defaultIPNEvent = "IPNCHANGE"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Ledger  subscriptiondomain.Service
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Reconciler struct {
	log     *zap.Logger
	ledger  subscriptiondomain.Service
	metrics *obsmetrics.Metrics
}

func NewReconciler(p Params) *Reconciler {
	return &Reconciler{
		log:     p.Log.Named("subscription.webhook"),
		ledger:  p.Ledger,
		metrics: p.Metrics,
	}
}

// Reconcile looks up the notified order, asks the gateway for its status and
// applies it.
func (r *Reconciler) Reconcile(ctx context.Context, n Notification) (subscriptiondomain.ApplyResult, error) {
	n = normalize(n)
	if n.OrderTrackingID == "" && n.OrderMerchantReference == "" {
		return subscriptiondomain.ApplyResult{}, ErrInvalidNotification
	}

	order, err := r.ledger.FindOrder(ctx, subscriptiondomain.LookupKey{
		OrderID:    n.OrderMerchantReference,
		TrackingID: n.OrderTrackingID,
	})
	if err != nil {
		return subscriptiondomain.ApplyResult{}, err
	}
	if order.Terminal() {
		return subscriptiondomain.ApplyResult{Order: order}, nil
	}

	return r.ledger.SyncOrder(ctx, order, n.OrderTrackingID, subscriptiondomain.SourceWebhook)
}

// Receive always returns the acknowledgement. Failures are logged and counted
// and the gateway retry or the reconciliation job picks the order up again.
func (r *Reconciler) Receive(ctx context.Context, n Notification) Ack {
	n = normalize(n)
	ack := Ack{
		OrderNotificationType:  n.OrderNotificationType,
		OrderTrackingID:        n.OrderTrackingID,
		OrderMerchantReference: n.OrderMerchantReference,
		Status:                 http.StatusOK,
	}
	if ack.OrderNotificationType == "" {
		ack.OrderNotificationType = defaultIPNEvent
	}

	log := r.log.With(
		zap.String("tracking_id", n.OrderTrackingID),
		zap.String("merchant_reference", n.OrderMerchantReference),
		zap.String("notification_type", ack.OrderNotificationType),
	)

	result, err := r.Reconcile(ctx, n)
	outcome := OutcomeNoop
	switch {
	case err == nil && result.Applied:
		outcome = OutcomeApplied
		log.Info("webhook applied", zap.String("payment_status", string(result.Order.PaymentStatus)))
	case err == nil:
		log.Debug("webhook changed nothing", zap.String("payment_status", string(result.Order.PaymentStatus)))
	case errors.Is(err, ErrInvalidNotification):
		outcome = OutcomeInvalid
		log.Warn("webhook without order reference")
	case errors.Is(err, subscriptiondomain.ErrOrderNotFound):
		outcome = OutcomeUnknown
		log.Info("webhook for unknown order")
	default:
		outcome = OutcomeFailed
		log.Error("webhook reconciliation failed", zap.Error(err))
	}

	r.metrics.RecordWebhookEvent(ctx, ack.OrderNotificationType, outcome)
	return ack
}

func normalize(n Notification) Notification {
	return Notification{
		OrderTrackingID:        strings.TrimSpace(n.OrderTrackingID),
		OrderMerchantReference: strings.TrimSpace(n.OrderMerchantReference),
		OrderNotificationType:  strings.TrimSpace(n.OrderNotificationType),
	}
}
