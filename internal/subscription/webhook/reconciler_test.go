package webhook

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolhub/internal/clock"
	"github.com/smallbiznis/schoolhub/internal/gateway"
	"github.com/smallbiznis/schoolhub/internal/plan"
	plandomain "github.com/smallbiznis/schoolhub/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/schoolhub/internal/subscription/domain"
	"github.com/smallbiznis/schoolhub/internal/subscription/repository"
	"github.com/smallbiznis/schoolhub/internal/subscription/service"
	tenantdomain "github.com/smallbiznis/schoolhub/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/schoolhub/internal/tenant/repository"
	"github.com/smallbiznis/schoolhub/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type harness struct {
	db         *gorm.DB
	gateway    *testutil.FakeGateway
	tenants    tenantdomain.Repository
	ledger     subscriptiondomain.Service
	reconciler *Reconciler
	tenant     tenantdomain.Tenant
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	db := testutil.OpenDB(t)
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	gw := testutil.NewFakeGateway()
	tenants := tenantrepo.Provide()
	log := zaptest.NewLogger(t)

	ledger := service.NewService(service.ServiceParam{
		DB:      db,
		Log:     log,
		GenID:   node,
		Clock:   clk,
		Repo:    repository.Provide(),
		Tenants: tenants,
		Catalog: plan.DefaultCatalog(),
		Gateway: gw,
	})

	now := clk.Now()
	tenant := tenantdomain.Tenant{
		ID:                 node.Generate(),
		Name:               "Hillcrest Academy",
		Slug:               "hillcrest",
		SubscriptionStatus: tenantdomain.StatusTrial,
		PlanType:           plandomain.TierStarter,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, tenants.Insert(context.Background(), db, &tenant))

	return &harness{
		db:         db,
		gateway:    gw,
		tenants:    tenants,
		ledger:     ledger,
		reconciler: NewReconciler(Params{Log: log, Ledger: ledger}),
		tenant:     tenant,
	}
}

func (h *harness) checkout(t *testing.T) subscriptiondomain.CheckoutResponse {
	t.Helper()
	resp, err := h.ledger.CreateOrder(context.Background(), subscriptiondomain.CreateOrderRequest{
		TenantID:      h.tenant.ID,
		PlanTier:      "pro",
		BillingPeriod: "monthly",
		Currency:      "USD",
	})
	require.NoError(t, err)
	return resp
}

func TestReceiveCompletedPaymentActivatesTenant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	checkout := h.checkout(t)
	assert.InDelta(t, 60.0, checkout.Amount, 0.001)

	h.gateway.SetStatus(checkout.TrackingID, gateway.StatusCompleted, "Visa")
	ack := h.reconciler.Receive(ctx, Notification{
		OrderTrackingID:        checkout.TrackingID,
		OrderMerchantReference: checkout.OrderID,
		OrderNotificationType:  "IPNCHANGE",
	})
	assert.Equal(t, Ack{
		OrderNotificationType:  "IPNCHANGE",
		OrderTrackingID:        checkout.TrackingID,
		OrderMerchantReference: checkout.OrderID,
		Status:                 http.StatusOK,
	}, ack)

	tenant, err := h.tenants.FindByID(ctx, h.db, h.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, tenantdomain.StatusActive, tenant.SubscriptionStatus)
	assert.Equal(t, plandomain.TierPro, tenant.PlanType)
	require.NotNil(t, tenant.SubscriptionExpiresAt)

	order, err := h.ledger.FindOrder(ctx, subscriptiondomain.LookupKey{OrderID: checkout.OrderID})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.PaymentStatusCompleted, order.PaymentStatus)
	assert.True(t, tenant.SubscriptionExpiresAt.Equal(order.ExpiresAt))

	_, before := h.gateway.Calls()
	result, err := h.reconciler.Reconcile(ctx, Notification{OrderTrackingID: checkout.TrackingID})
	require.NoError(t, err)
	assert.False(t, result.Applied)
	_, after := h.gateway.Calls()
	assert.Equal(t, before, after, "settled orders skip the gateway")
}

func TestReconcileByTrackingIDOnly(t *testing.T) {
	h := newHarness(t)
	checkout := h.checkout(t)
	h.gateway.SetStatus(checkout.TrackingID, gateway.StatusFailed, "")

	result, err := h.reconciler.Reconcile(context.Background(), Notification{OrderTrackingID: "  " + checkout.TrackingID + " "})
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, subscriptiondomain.PaymentStatusFailed, result.Order.PaymentStatus)
}

func TestReconcileRejectsEmptyNotification(t *testing.T) {
	h := newHarness(t)

	_, err := h.reconciler.Reconcile(context.Background(), Notification{OrderNotificationType: "IPNCHANGE"})
	assert.ErrorIs(t, err, ErrInvalidNotification)

	ack := h.reconciler.Receive(context.Background(), Notification{})
	assert.Equal(t, http.StatusOK, ack.Status)
	assert.Equal(t, defaultIPNEvent, ack.OrderNotificationType)
}

func TestReceiveAlwaysAcknowledges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	checkout := h.checkout(t)

	_, err := h.reconciler.Reconcile(ctx, Notification{OrderTrackingID: "trk_unknown"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrOrderNotFound)
	ack := h.reconciler.Receive(ctx, Notification{OrderTrackingID: "trk_unknown"})
	assert.Equal(t, http.StatusOK, ack.Status)
	assert.Equal(t, "trk_unknown", ack.OrderTrackingID)

	h.gateway.StatusErr = &gateway.Error{Op: gateway.OpTransactionStatus, StatusCode: http.StatusBadGateway, Message: "upstream"}
	ack = h.reconciler.Receive(ctx, Notification{OrderTrackingID: checkout.TrackingID})
	assert.Equal(t, http.StatusOK, ack.Status)

	order, err := h.ledger.FindOrder(ctx, subscriptiondomain.LookupKey{TrackingID: checkout.TrackingID})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.PaymentStatusPending, order.PaymentStatus)
}

func TestReceiveRecordsMissingTrackingID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.gateway.SubmitErr = &gateway.Error{Op: gateway.OpSubmitOrder, Message: "down"}
	_, err := h.ledger.CreateOrder(ctx, subscriptiondomain.CreateOrderRequest{
		TenantID: h.tenant.ID, PlanTier: "standard", BillingPeriod: "monthly", Currency: "USD",
	})
	require.Error(t, err)

	list, err := h.ledger.ListOrders(ctx, subscriptiondomain.ListOrdersRequest{TenantID: h.tenant.ID})
	require.NoError(t, err)
	require.Len(t, list.Orders, 1)
	pending := list.Orders[0]
	orderID := pending.OrderID

	h.gateway.Assign("trk_late", orderID, pending.Amount, pending.Currency)
	h.gateway.SetStatus("trk_late", gateway.StatusCompleted, "M-Pesa")
	h.reconciler.Receive(ctx, Notification{OrderTrackingID: "trk_late", OrderMerchantReference: orderID})

	order, err := h.ledger.FindOrder(ctx, subscriptiondomain.LookupKey{OrderID: orderID})
	require.NoError(t, err)
	assert.Equal(t, "trk_late", order.Tracking())
	assert.Equal(t, subscriptiondomain.PaymentStatusCompleted, order.PaymentStatus)
}

func TestReceiveIgnoresForeignTrackingID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.gateway.SubmitErr = &gateway.Error{Op: gateway.OpSubmitOrder, Message: "timeout"}
	_, err := h.ledger.CreateOrder(ctx, subscriptiondomain.CreateOrderRequest{
		TenantID: h.tenant.ID, PlanTier: "pro", BillingPeriod: "monthly", Currency: "USD",
	})
	require.Error(t, err)

	list, err := h.ledger.ListOrders(ctx, subscriptiondomain.ListOrdersRequest{TenantID: h.tenant.ID})
	require.NoError(t, err)
	require.Len(t, list.Orders, 1)
	pending := list.Orders[0]

	forged := []gateway.TransactionStatus{
		{StatusCode: gateway.StatusCompleted, MerchantReference: "ord_someone_else", Amount: gateway.MajorUnits(pending.Amount), Currency: pending.Currency},
		{StatusCode: gateway.StatusCompleted, MerchantReference: pending.OrderID, Amount: 0.01, Currency: pending.Currency},
		{StatusCode: gateway.StatusCompleted, MerchantReference: pending.OrderID, Amount: gateway.MajorUnits(pending.Amount), Currency: "KES"},
	}
	for _, status := range forged {
		h.gateway.SetTransaction("T-foreign", status)
		ack := h.reconciler.Receive(ctx, Notification{OrderTrackingID: "T-foreign", OrderMerchantReference: pending.OrderID})
		assert.Equal(t, http.StatusOK, ack.Status)

		order, err := h.ledger.FindOrder(ctx, subscriptiondomain.LookupKey{OrderID: pending.OrderID})
		require.NoError(t, err)
		assert.Nil(t, order.TrackingID)
		assert.Equal(t, subscriptiondomain.PaymentStatusPending, order.PaymentStatus)
	}

	tenant, err := h.tenants.FindByID(ctx, h.db, h.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, h.tenant.SubscriptionStatus, tenant.SubscriptionStatus)
	assert.Equal(t, h.tenant.PlanType, tenant.PlanType)

	// the genuine tracking id still binds afterwards
	h.gateway.Assign("trk_real", pending.OrderID, pending.Amount, pending.Currency)
	h.gateway.SetStatus("trk_real", gateway.StatusCompleted, "Visa")
	result, err := h.reconciler.Reconcile(ctx, Notification{OrderTrackingID: "trk_real", OrderMerchantReference: pending.OrderID})
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, "trk_real", result.Order.Tracking())
}

func TestReconcileIgnoresMismatchedAmountOnTrackedOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	checkout := h.checkout(t)

	h.gateway.SetTransaction(checkout.TrackingID, gateway.TransactionStatus{
		StatusCode:        gateway.StatusCompleted,
		MerchantReference: checkout.OrderID,
		Amount:            checkout.Amount / 2,
		Currency:          checkout.Currency,
	})
	result, err := h.reconciler.Reconcile(ctx, Notification{OrderTrackingID: checkout.TrackingID})
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, subscriptiondomain.PaymentStatusPending, result.Order.PaymentStatus)
}
