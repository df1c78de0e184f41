package gateway

import (
	"encoding/json"
	"time"
)

// StatusCode is the gateway's numeric payment state.
type StatusCode int

const (
	StatusInvalid   StatusCode = 0
	StatusCompleted StatusCode = 1
	StatusFailed    StatusCode = 2
	StatusReversed  StatusCode = 3
)

func (s StatusCode) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusReversed:
		return "reversed"
	default:
		return "invalid"
	}
}

type BillingAddress struct {
	Email       string `json:"email_address,omitempty"`
	Phone       string `json:"phone_number,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
}

// OrderRequest is a checkout submission. Amount is in minor units; ID is the
// merchant reference and idempotency key. An empty NotificationID registers
// the configured IPN URL first.
type OrderRequest struct {
	ID             string
	Currency       string
	Amount         int64
	Description    string
	NotificationID string
	Billing        BillingAddress
}

type SubmitResult struct {
	TrackingID        string
	MerchantReference string
	RedirectURL       string
}

type TransactionStatus struct {
	StatusCode        StatusCode
	Description       string
	PaymentMethod     string
	MerchantReference string
	Amount            float64
	Currency          string
	ConfirmationCode  string
	Raw               json.RawMessage
}

type apiError struct {
	ErrorType string `json:"error_type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (e *apiError) present() bool {
	return e != nil && (e.Code != "" || e.Message != "")
}

type tokenRequest struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
}

type tokenResponse struct {
	Token      string    `json:"token"`
	ExpiryDate time.Time `json:"expiryDate"`
	Message    string    `json:"message"`
	Error      *apiError `json:"error"`
}

type registerIPNRequest struct {
	URL              string `json:"url"`
	NotificationType string `json:"ipn_notification_type"`
}

type registerIPNResponse struct {
	URL   string    `json:"url"`
	IPNID string    `json:"ipn_id"`
	Error *apiError `json:"error"`
}

type submitOrderRequest struct {
	ID             string         `json:"id"`
	Currency       string         `json:"currency"`
	Amount         float64        `json:"amount"`
	Description    string         `json:"description"`
	CallbackURL    string         `json:"callback_url"`
	NotificationID string         `json:"notification_id"`
	BillingAddress BillingAddress `json:"billing_address"`
}

type submitOrderResponse struct {
	OrderTrackingID   string    `json:"order_tracking_id"`
	MerchantReference string    `json:"merchant_reference"`
	RedirectURL       string    `json:"redirect_url"`
	Error             *apiError `json:"error"`
}

type transactionStatusResponse struct {
	PaymentMethod            string    `json:"payment_method"`
	Amount                   float64   `json:"amount"`
	ConfirmationCode         string    `json:"confirmation_code"`
	PaymentStatusDescription string    `json:"payment_status_description"`
	Description              string    `json:"description"`
	StatusCode               int       `json:"status_code"`
	MerchantReference        string    `json:"merchant_reference"`
	Currency                 string    `json:"currency"`
	Error                    *apiError `json:"error"`
}
