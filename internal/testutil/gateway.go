package testutil

import (
	"context"
	"sync"

	"github.com/smallbiznis/schoolhub/internal/gateway"
)

// FakeGateway is an in-memory payment gateway. Statuses are keyed by
// tracking id; unknown ids report StatusInvalid.
type FakeGateway struct {
	mu sync.Mutex

	SubmitErr   error
	StatusErr   error
	RegisterErr error

	Submitted    []gateway.OrderRequest
	StatusCalls  int
	statuses     map[string]gateway.TransactionStatus
	orders       map[string]gateway.OrderRequest
	registerHits int
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		statuses: make(map[string]gateway.TransactionStatus),
		orders:   make(map[string]gateway.OrderRequest),
	}
}

func (g *FakeGateway) RegisterCallback(context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.registerHits++
	if g.RegisterErr != nil {
		return "", g.RegisterErr
	}
	return "ipn-test", nil
}

func (g *FakeGateway) SubmitOrder(_ context.Context, req gateway.OrderRequest) (gateway.SubmitResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.SubmitErr != nil {
		return gateway.SubmitResult{}, g.SubmitErr
	}
	g.Submitted = append(g.Submitted, req)
	g.orders[TrackingIDFor(req.ID)] = req
	return gateway.SubmitResult{
		TrackingID:        TrackingIDFor(req.ID),
		MerchantReference: req.ID,
		RedirectURL:       "https://pay.test/" + req.ID,
	}, nil
}

func (g *FakeGateway) TransactionStatus(_ context.Context, trackingID string) (gateway.TransactionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.StatusCalls++
	if g.StatusErr != nil {
		return gateway.TransactionStatus{}, g.StatusErr
	}
	status, ok := g.statuses[trackingID]
	if !ok {
		return gateway.TransactionStatus{StatusCode: gateway.StatusInvalid}, nil
	}
	return status, nil
}

// SetStatus fixes what TransactionStatus reports for trackingID. The merchant
// reference, amount and currency echo the order submitted or assigned under
// that tracking id.
func (g *FakeGateway) SetStatus(trackingID string, code gateway.StatusCode, method string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req := g.orders[trackingID]
	g.statuses[trackingID] = gateway.TransactionStatus{
		StatusCode:        code,
		Description:       code.String(),
		PaymentMethod:     method,
		MerchantReference: req.ID,
		Amount:            gateway.MajorUnits(req.Amount),
		Currency:          req.Currency,
		ConfirmationCode:  "CONF-" + trackingID,
		Raw:               []byte(`{"status_code":` + string(rune('0'+int(code))) + `}`),
	}
}

// SetTransaction stores status verbatim for trackingID.
func (g *FakeGateway) SetTransaction(trackingID string, status gateway.TransactionStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[trackingID] = status
}

// Assign ties trackingID to an order the fake never accepted, as when the
// submit reply was lost.
func (g *FakeGateway) Assign(trackingID, orderID string, amount int64, currency string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders[trackingID] = gateway.OrderRequest{ID: orderID, Amount: amount, Currency: currency}
}

func (g *FakeGateway) Calls() (submitted int, statusCalls int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Submitted), g.StatusCalls
}

// TrackingIDFor is the tracking id the fake assigns to an order.
func TrackingIDFor(orderID string) string {
	return "trk_" + orderID
}
