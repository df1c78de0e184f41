// Package gateway is the payment gateway HTTP client: token lifecycle, IPN
// registration, order submission and transaction status.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/schoolhub/internal/clock"
	"github.com/smallbiznis/schoolhub/internal/config"
	obsmetrics "github.com/smallbiznis/schoolhub/internal/observability/metrics"
	"github.com/smallbiznis/schoolhub/internal/observability/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	OpAuthToken         = "auth_token"
	OpRegisterCallback  = "register_callback"
	OpSubmitOrder       = "submit_order"
	OpTransactionStatus = "transaction_status"

	pathRequestToken      = "/api/Auth/RequestToken"
	pathRegisterIPN       = "/api/URLSetup/RegisterIPN"
	pathSubmitOrder       = "/api/Transactions/SubmitOrderRequest"
	pathTransactionStatus = "/api/Transactions/GetTransactionStatus"

	defaultTimeout   = 15 * time.Second
	maxResponseBytes = 1 << 20
	maxErrorSnippet  = 512
)

type Params struct {
	fx.In

	Config     config.Config
	Log        *zap.Logger
	Clock      clock.Clock
	Metrics    *obsmetrics.Metrics `optional:"true"`
	HTTPClient *http.Client        `optional:"true"`
}

// Client talks to the payment gateway. It is safe for concurrent use.
type Client struct {
	cfg     config.GatewayConfig
	http    *http.Client
	log     *zap.Logger
	clock   clock.Clock
	metrics *obsmetrics.Metrics
	tracer  trace.Tracer
	tokens  *tokenCache

	ipnMu sync.Mutex
	ipnID string
}

func NewClient(p Params) *Client {
	cfg := p.Config.Gateway
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	httpClient := p.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}

	client := &Client{
		cfg:     cfg,
		http:    httpClient,
		log:     p.Log.Named("gateway.client"),
		clock:   c,
		metrics: p.Metrics,
		tracer:  otel.Tracer("schoolhub/gateway"),
		ipnID:   strings.TrimSpace(cfg.NotificationID),
	}
	client.tokens = newTokenCache(c, client.requestToken)
	return client
}

// AuthToken returns a bearer token, refreshing it when it is within a minute
// of expiry.
func (c *Client) AuthToken(ctx context.Context) (string, error) {
	return c.tokens.Get(ctx)
}

// ResetToken drops the cached token.
func (c *Client) ResetToken() {
	c.tokens.Reset()
}

func (c *Client) requestToken(ctx context.Context) (string, time.Time, error) {
	if c.cfg.ConsumerKey == "" || c.cfg.ConsumerSecret == "" {
		return "", time.Time{}, &Error{Op: OpAuthToken, Message: "consumer credentials missing", Err: ErrNotConfigured}
	}

	var resp tokenResponse
	status, _, err := c.call(ctx, OpAuthToken, http.MethodPost, pathRequestToken, tokenRequest{
		ConsumerKey:    c.cfg.ConsumerKey,
		ConsumerSecret: c.cfg.ConsumerSecret,
	}, false, &resp)
	if err != nil {
		return "", time.Time{}, err
	}
	if resp.Error.present() {
		return "", time.Time{}, apiFailure(OpAuthToken, status, resp.Error)
	}
	if resp.Token == "" {
		return "", time.Time{}, &Error{Op: OpAuthToken, StatusCode: status, Message: "empty token"}
	}

	expiry := resp.ExpiryDate
	if expiry.IsZero() {
		expiry = c.clock.Now().Add(5 * time.Minute)
	}
	c.log.Debug("gateway token refreshed", zap.Time("expires_at", expiry))
	return resp.Token, expiry, nil
}

// RegisterCallback returns the IPN notification id, registering the
// configured IPN URL on first use.
func (c *Client) RegisterCallback(ctx context.Context) (string, error) {
	c.ipnMu.Lock()
	defer c.ipnMu.Unlock()

	if c.ipnID != "" {
		return c.ipnID, nil
	}
	if c.cfg.IPNURL == "" {
		return "", &Error{Op: OpRegisterCallback, Message: "ipn url missing", Err: ErrNotConfigured}
	}

	var resp registerIPNResponse
	status, _, err := c.call(ctx, OpRegisterCallback, http.MethodPost, pathRegisterIPN, registerIPNRequest{
		URL:              c.cfg.IPNURL,
		NotificationType: http.MethodGet,
	}, true, &resp)
	if err != nil {
		return "", err
	}
	if resp.Error.present() {
		return "", apiFailure(OpRegisterCallback, status, resp.Error)
	}
	if resp.IPNID == "" {
		return "", &Error{Op: OpRegisterCallback, StatusCode: status, Message: "empty ipn id"}
	}

	c.ipnID = resp.IPNID
	c.log.Info("gateway ipn registered", zap.String("ipn_id", resp.IPNID))
	return c.ipnID, nil
}

// SubmitOrder creates a checkout for req and returns where to send the payer.
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (SubmitResult, error) {
	if strings.TrimSpace(req.ID) == "" {
		return SubmitResult{}, &Error{Op: OpSubmitOrder, Message: "order id is empty"}
	}

	notificationID := req.NotificationID
	if notificationID == "" {
		id, err := c.RegisterCallback(ctx)
		if err != nil {
			return SubmitResult{}, err
		}
		notificationID = id
	}

	var resp submitOrderResponse
	status, _, err := c.call(ctx, OpSubmitOrder, http.MethodPost, pathSubmitOrder, submitOrderRequest{
		ID:             req.ID,
		Currency:       strings.ToUpper(req.Currency),
		Amount:         MajorUnits(req.Amount),
		Description:    req.Description,
		CallbackURL:    c.cfg.CallbackURL,
		NotificationID: notificationID,
		BillingAddress: req.Billing,
	}, true, &resp)
	if err != nil {
		return SubmitResult{}, err
	}
	if resp.Error.present() {
		return SubmitResult{}, apiFailure(OpSubmitOrder, status, resp.Error)
	}
	if resp.OrderTrackingID == "" {
		return SubmitResult{}, &Error{Op: OpSubmitOrder, StatusCode: status, Message: "empty tracking id"}
	}

	return SubmitResult{
		TrackingID:        resp.OrderTrackingID,
		MerchantReference: resp.MerchantReference,
		RedirectURL:       resp.RedirectURL,
	}, nil
}

// TransactionStatus fetches the current payment state of trackingID.
func (c *Client) TransactionStatus(ctx context.Context, trackingID string) (TransactionStatus, error) {
	trackingID = strings.TrimSpace(trackingID)
	if trackingID == "" {
		return TransactionStatus{}, &Error{Op: OpTransactionStatus, Message: "tracking id is empty"}
	}

	path := pathTransactionStatus + "?orderTrackingId=" + url.QueryEscape(trackingID)

	var resp transactionStatusResponse
	status, raw, err := c.call(ctx, OpTransactionStatus, http.MethodGet, path, nil, true, &resp)
	if err != nil {
		return TransactionStatus{}, err
	}
	if resp.Error.present() {
		return TransactionStatus{}, apiFailure(OpTransactionStatus, status, resp.Error)
	}

	description := resp.PaymentStatusDescription
	if description == "" {
		description = resp.Description
	}
	return TransactionStatus{
		StatusCode:        StatusCode(resp.StatusCode),
		Description:       description,
		PaymentMethod:     resp.PaymentMethod,
		MerchantReference: resp.MerchantReference,
		Amount:            resp.Amount,
		Currency:          resp.Currency,
		ConfirmationCode:  resp.ConfirmationCode,
		Raw:               raw,
	}, nil
}

// MajorUnits converts a minor-unit amount to the decimal the gateway expects.
func MajorUnits(minor int64) float64 {
	return float64(minor) / 100
}

// call performs one request and decodes a JSON body into out. An
// unauthorized response drops the cached token and retries once.
func (c *Client) call(ctx context.Context, op, method, path string, body any, authed bool, out any) (int, json.RawMessage, error) {
	if c.cfg.BaseURL == "" {
		return 0, nil, &Error{Op: op, Message: "base url missing", Err: ErrNotConfigured}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "gateway."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("gateway.operation", op),
		attribute.String("http.method", method),
	)...)

	start := c.clock.Now()
	status, raw, err := c.roundTrip(ctx, op, method, path, body, authed)
	if authed && status == http.StatusUnauthorized {
		c.tokens.Reset()
		status, raw, err = c.roundTrip(ctx, op, method, path, body, authed)
	}
	if err == nil && out != nil {
		if decodeErr := json.Unmarshal(raw, out); decodeErr != nil {
			err = &Error{Op: op, StatusCode: status, Message: "malformed response body", Err: decodeErr}
		}
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
		if safeErr := tracing.SafeError(err); safeErr != nil {
			span.RecordError(safeErr)
		}
		span.SetStatus(codes.Error, "gateway call failed")
		c.log.Warn("gateway call failed", zap.String("operation", op), zap.Int("status_code", status), zap.Error(err))
	}
	span.SetAttributes(attribute.Int("http.status_code", status))
	c.metrics.RecordGatewayCall(ctx, op, outcome, c.clock.Now().Sub(start))

	return status, raw, err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body any, authed bool) (int, json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, &Error{Op: op, Message: "encode request", Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, &Error{Op: op, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token, err := c.tokens.Get(ctx)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &Error{Op: op, Message: "request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, &Error{Op: op, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, raw, &Error{Op: op, StatusCode: resp.StatusCode, Message: snippet(raw)}
	}
	return resp.StatusCode, raw, nil
}

func apiFailure(op string, status int, apiErr *apiError) *Error {
	msg := apiErr.Message
	if msg == "" {
		msg = fmt.Sprintf("gateway reported %s", apiErr.Code)
	}
	return &Error{Op: op, StatusCode: status, Code: apiErr.Code, Message: msg}
}

func snippet(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if len(text) > maxErrorSnippet {
		text = text[:maxErrorSnippet]
	}
	if text == "" {
		return "empty response"
	}
	return text
}

// IsGatewayError reports whether err came from the gateway client.
func IsGatewayError(err error) bool {
	return errors.Is(err, ErrGateway)
}
