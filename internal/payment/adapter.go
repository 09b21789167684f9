// internal/payment/adapter.go
package payment

import (
	"context"

	"subpay-service/internal/domain/user"

	"github.com/shopspring/decimal"
)

// Response is the uniform adapter result. Expected provider failures
// (declined card, invalid session) come back as Success=false with an
// error code; only transport failures set Retryable.
type Response struct {
	Success   bool                   `json:"success"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Err       string                 `json:"error,omitempty"`
	ErrCode   string                 `json:"error_code,omitempty"`
	Retryable bool                   `json:"-"`
}

// OK builds a success response.
func OK(data map[string]interface{}) Response {
	return Response{Success: true, Data: data}
}

// Failure builds a terminal provider rejection.
func Failure(code, msg string) Response {
	return Response{Success: false, Err: msg, ErrCode: code}
}

// TransportFailure builds a retryable transport-level failure.
func TransportFailure(msg string) Response {
	return Response{Success: false, Err: msg, ErrCode: "transport_error", Retryable: true}
}

type SessionMode string

const (
	ModePayment      SessionMode = "payment"
	ModeSubscription SessionMode = "subscription"
)

// SessionLine is one invoice line resolved for the provider: amount,
// recurrence and, for recurring lines, the provider billing interval.
type SessionLine struct {
	Description   string
	UnitAmount    decimal.Decimal
	Currency      string
	Quantity      int64
	Recurring     bool
	Interval      string
	IntervalCount int64
}

// CheckoutSessionParams describes one provider checkout session.
type CheckoutSessionParams struct {
	InvoiceID     int64
	InvoiceNumber string
	Mode          SessionMode
	Lines         []SessionLine
	CustomerRef   string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

type WebhookEventType string

const (
	WebhookPaymentSucceeded      WebhookEventType = "payment_succeeded"
	WebhookPaymentFailed         WebhookEventType = "payment_failed"
	WebhookSubscriptionCancelled WebhookEventType = "subscription_cancelled"
	WebhookUnknown               WebhookEventType = "unknown"
)

// WebhookEvent is the provider-agnostic form of a verified webhook.
type WebhookEvent struct {
	Provider       string
	EventID        string
	Type           WebhookEventType
	InvoiceID      int64
	TransactionID  string
	PaymentRef     string
	ProviderSubRef string
	Amount         decimal.Decimal
	Currency       string
	ErrorCode      string
	ErrorMessage   string
}

// Adapter normalizes one external payment provider behind a
// provider-agnostic capability set. Implementations never panic or
// return Go errors for expected provider rejections; those travel in
// the Response.
type Adapter interface {
	Name() string
	// SignatureHeader names the HTTP header carrying the webhook signature.
	SignatureHeader() string
	CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) Response
	CreateOrGetCustomer(ctx context.Context, u *user.User) Response
	CancelRemoteSubscription(ctx context.Context, providerSubRef string) Response
	// VerifyWebhook performs constant-time signature verification and
	// parses the payload. An invalid signature returns ErrSignatureInvalid.
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
	GetSessionStatus(ctx context.Context, sessionID string) Response
	Refund(ctx context.Context, paymentRef string, amount decimal.Decimal) Response
}
