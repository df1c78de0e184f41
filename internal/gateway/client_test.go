package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/schoolhub/internal/clock"
	"github.com/smallbiznis/schoolhub/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeGateway struct {
	t           *testing.T
	server      *httptest.Server
	now         func() time.Time
	tokenCalls  atomic.Int32
	ipnCalls    atomic.Int32
	submitCalls atomic.Int32
	lastSubmit  submitOrderRequest
	mu          sync.Mutex
	statusBody  map[string]any
	tokenTTL    time.Duration
	rejectToken string
}

func newFakeGateway(t *testing.T, now func() time.Time) *fakeGateway {
	f := &fakeGateway{t: t, now: now, tokenTTL: 5 * time.Minute}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/Auth/RequestToken", func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.ConsumerKey != "ck" || req.ConsumerSecret != "cs" {
			writeJSON(w, http.StatusOK, map[string]any{
				"error": map[string]any{"code": "invalid_consumer_key_or_secret_provided", "message": "bad credentials"},
			})
			return
		}
		n := f.tokenCalls.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{
			"token":      "tok-" + string(rune('0'+n)),
			"expiryDate": f.now().Add(f.tokenTTL).Format(time.RFC3339Nano),
			"error":      nil,
			"status":     "200",
		})
	})
	mux.HandleFunc("/api/URLSetup/RegisterIPN", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		f.ipnCalls.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"ipn_id": "ipn-123", "url": "https://school.test/ipn"})
	})
	mux.HandleFunc("/api/Transactions/SubmitOrderRequest", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		f.submitCalls.Add(1)
		var req submitOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.lastSubmit = req
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"order_tracking_id":  "trk-" + req.ID,
			"merchant_reference": req.ID,
			"redirect_url":       "https://pay.test/checkout/" + req.ID,
		})
	})
	mux.HandleFunc("/api/Transactions/GetTransactionStatus", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		f.mu.Lock()
		body := f.statusBody
		f.mu.Unlock()
		if body == nil {
			body = map[string]any{
				"status_code":                1,
				"payment_status_description": "Completed",
				"payment_method":             "Visa",
				"merchant_reference":         "ord_1",
				"amount":                     60,
				"currency":                   "USD",
				"confirmation_code":          "CONF" + r.URL.Query().Get("orderTrackingId"),
			}
		}
		writeJSON(w, http.StatusOK, body)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGateway) authorized(w http.ResponseWriter, r *http.Request) bool {
	f.mu.Lock()
	rejected := f.rejectToken
	f.mu.Unlock()
	auth := r.Header.Get("Authorization")
	if auth == "" || (rejected != "" && auth == "Bearer "+rejected) {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, fc *clock.FakeClock, baseURL string, mutate func(*config.GatewayConfig)) *Client {
	t.Helper()
	cfg := config.Config{Gateway: config.GatewayConfig{
		BaseURL:        baseURL,
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		CallbackURL:    "https://school.test/billing/return",
		IPNURL:         "https://school.test/api/payments/webhook",
		Timeout:        2 * time.Second,
	}}
	if mutate != nil {
		mutate(&cfg.Gateway)
	}
	return NewClient(Params{Config: cfg, Log: zaptest.NewLogger(t), Clock: fc})
}

func TestAuthTokenCachedUntilMargin(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	gw := newFakeGateway(t, fc.Now)
	client := newTestClient(t, fc, gw.server.URL, nil)
	ctx := context.Background()

	first, err := client.AuthToken(ctx)
	require.NoError(t, err)
	second, err := client.AuthToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), gw.tokenCalls.Load())

	fc.Advance(3*time.Minute + 59*time.Second)
	_, err = client.AuthToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), gw.tokenCalls.Load())

	fc.Advance(time.Second)
	refreshed, err := client.AuthToken(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, refreshed)
	assert.Equal(t, int32(2), gw.tokenCalls.Load())

	client.ResetToken()
	_, err = client.AuthToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(3), gw.tokenCalls.Load())
}

func TestAuthTokenConcurrentRefreshSharesFetch(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	gw := newFakeGateway(t, fc.Now)
	client := newTestClient(t, fc, gw.server.URL, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.AuthToken(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, gw.tokenCalls.Load(), int32(2))
}

func TestAuthTokenRejected(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	gw := newFakeGateway(t, fc.Now)
	client := newTestClient(t, fc, gw.server.URL, func(c *config.GatewayConfig) { c.ConsumerSecret = "wrong" })

	_, err := client.AuthToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGateway))

	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, OpAuthToken, gwErr.Op)
	assert.Equal(t, "invalid_consumer_key_or_secret_provided", gwErr.Code)
}

func TestSubmitOrderRegistersCallbackOnce(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	gw := newFakeGateway(t, fc.Now)
	client := newTestClient(t, fc, gw.server.URL, nil)
	ctx := context.Background()

	res, err := client.SubmitOrder(ctx, OrderRequest{
		ID:          "ord_01",
		Currency:    "usd",
		Amount:      6000,
		Description: "Pro plan (monthly)",
		Billing:     BillingAddress{Email: "bursar@school.test", FirstName: "Ada"},
	})
	require.NoError(t, err)
	assert.Equal(t, "trk-ord_01", res.TrackingID)
	assert.Equal(t, "https://pay.test/checkout/ord_01", res.RedirectURL)

	gw.mu.Lock()
	submitted := gw.lastSubmit
	gw.mu.Unlock()
	assert.Equal(t, "USD", submitted.Currency)
	assert.InDelta(t, 60.0, submitted.Amount, 0.0001)
	assert.Equal(t, "ipn-123", submitted.NotificationID)
	assert.Equal(t, "https://school.test/billing/return", submitted.CallbackURL)
	assert.Equal(t, "bursar@school.test", submitted.BillingAddress.Email)

	_, err = client.SubmitOrder(ctx, OrderRequest{ID: "ord_02", Currency: "USD", Amount: 2000})
	require.NoError(t, err)
	assert.Equal(t, int32(1), gw.ipnCalls.Load())
	assert.Equal(t, int32(2), gw.submitCalls.Load())
}

func TestRegisterCallbackUsesConfiguredID(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	gw := newFakeGateway(t, fc.Now)
	client := newTestClient(t, fc, gw.server.URL, func(c *config.GatewayConfig) { c.NotificationID = "preset" })

	id, err := client.RegisterCallback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "preset", id)
	assert.Equal(t, int32(0), gw.ipnCalls.Load())
}

func TestTransactionStatus(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	gw := newFakeGateway(t, fc.Now)
	client := newTestClient(t, fc, gw.server.URL, nil)

	status, err := client.TransactionStatus(context.Background(), "trk-9")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status.StatusCode)
	assert.Equal(t, "Completed", status.Description)
	assert.Equal(t, "Visa", status.PaymentMethod)
	assert.Equal(t, "CONFtrk-9", status.ConfirmationCode)
	assert.NotEmpty(t, status.Raw)

	gw.mu.Lock()
	gw.statusBody = map[string]any{
		"status_code": 0,
		"error":       map[string]any{"code": "payment_details_not_found", "message": "Pending Payment"},
	}
	gw.mu.Unlock()

	_, err = client.TransactionStatus(context.Background(), "trk-9")
	require.Error(t, err)
	assert.True(t, IsGatewayError(err))

	_, err = client.TransactionStatus(context.Background(), " ")
	assert.True(t, IsGatewayError(err))
}

func TestUnauthorizedRefreshesTokenOnce(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	gw := newFakeGateway(t, fc.Now)
	client := newTestClient(t, fc, gw.server.URL, nil)
	ctx := context.Background()

	first, err := client.AuthToken(ctx)
	require.NoError(t, err)
	gw.mu.Lock()
	gw.rejectToken = first
	gw.mu.Unlock()

	_, err = client.TransactionStatus(ctx, "trk-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), gw.tokenCalls.Load())
}

func TestServerErrorIsGatewayError(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)
	client := newTestClient(t, fc, server.URL, nil)

	_, err := client.AuthToken(context.Background())
	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusBadGateway, gwErr.StatusCode)
	assert.Contains(t, gwErr.Error(), "upstream down")
}

func TestNotConfigured(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	client := newTestClient(t, fc, "", nil)
	_, err := client.AuthToken(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, err, ErrGateway)
}
