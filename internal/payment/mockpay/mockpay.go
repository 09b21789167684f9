// internal/payment/mockpay/mockpay.go
package mockpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"subpay-service/internal/domain/user"
	"subpay-service/internal/payment"
	xerrors "subpay-service/internal/pkg/errors"
	"subpay-service/internal/pkg/ref"

	"github.com/shopspring/decimal"
)

const providerName = "mock"

// Adapter is an in-memory payment provider used in tests and local
// development. Webhook payloads are authenticated with HMAC-SHA256
// over the raw body, hex-encoded in the X-Mock-Signature header.
type Adapter struct {
	webhookSecret []byte

	mu       sync.Mutex
	sessions map[string]*session
	refunds  map[string]decimal.Decimal
}

type session struct {
	ID          string
	InvoiceID   int64
	Mode        payment.SessionMode
	Status      string
	AmountTotal decimal.Decimal
	Currency    string
}

// wireEvent is the mock provider's webhook payload shape. Amounts are
// integer cents, the way real providers put them on the wire.
type wireEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		InvoiceID       int64  `json:"invoice_id"`
		TransactionID   string `json:"transaction_id"`
		PaymentRef      string `json:"payment_ref"`
		SubscriptionRef string `json:"subscription_ref"`
		AmountCents     int64  `json:"amount"`
		Currency        string `json:"currency"`
		ErrorCode       string `json:"error_code"`
		ErrorMessage    string `json:"error_message"`
	} `json:"data"`
}

func New(webhookSecret string) *Adapter {
	return &Adapter{
		webhookSecret: []byte(webhookSecret),
		sessions:      make(map[string]*session),
		refunds:       make(map[string]decimal.Decimal),
	}
}

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) SignatureHeader() string { return "X-Mock-Signature" }

func (a *Adapter) CreateCheckoutSession(ctx context.Context, p payment.CheckoutSessionParams) payment.Response {
	if len(p.Lines) == 0 {
		return payment.Failure("empty_session", "checkout session requires at least one line")
	}

	total := decimal.Zero
	currency := ""
	for _, l := range p.Lines {
		total = total.Add(l.UnitAmount.Mul(decimal.NewFromInt(l.Quantity)))
		currency = l.Currency
	}

	s := &session{
		ID:          ref.SessionRef(),
		InvoiceID:   p.InvoiceID,
		Mode:        p.Mode,
		Status:      "open",
		AmountTotal: total,
		Currency:    currency,
	}

	a.mu.Lock()
	a.sessions[s.ID] = s
	a.mu.Unlock()

	return payment.OK(map[string]interface{}{
		"session_id":   s.ID,
		"checkout_url": fmt.Sprintf("https://pay.mock.local/session/%s", s.ID),
		"mode":         string(s.Mode),
	})
}

func (a *Adapter) CreateOrGetCustomer(ctx context.Context, u *user.User) payment.Response {
	if u.ProviderCustomerRef.Valid && u.ProviderCustomerRef.String != "" {
		return payment.OK(map[string]interface{}{"customer_ref": u.ProviderCustomerRef.String})
	}
	return payment.OK(map[string]interface{}{"customer_ref": fmt.Sprintf("mock_cus_%d", u.ID)})
}

func (a *Adapter) CancelRemoteSubscription(ctx context.Context, providerSubRef string) payment.Response {
	if providerSubRef == "" {
		return payment.Failure("missing_subscription", "no remote subscription reference")
	}
	return payment.OK(map[string]interface{}{"cancelled": providerSubRef})
}

func (a *Adapter) VerifyWebhook(payload []byte, signature string) (*payment.WebhookEvent, error) {
	mac := hmac.New(sha256.New, a.webhookSecret)
	mac.Write(payload)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(expected, got) {
		return nil, xerrors.ErrSignatureInvalid
	}

	var we wireEvent
	if err := json.Unmarshal(payload, &we); err != nil {
		return nil, fmt.Errorf("malformed webhook payload: %w", err)
	}

	evt := &payment.WebhookEvent{
		Provider:       providerName,
		EventID:        we.ID,
		Type:           mapEventType(we.Type),
		InvoiceID:      we.Data.InvoiceID,
		TransactionID:  we.Data.TransactionID,
		PaymentRef:     we.Data.PaymentRef,
		ProviderSubRef: we.Data.SubscriptionRef,
		Amount:         decimal.NewFromInt(we.Data.AmountCents).Div(decimal.NewFromInt(100)),
		Currency:       we.Data.Currency,
		ErrorCode:      we.Data.ErrorCode,
		ErrorMessage:   we.Data.ErrorMessage,
	}
	if evt.PaymentRef == "" {
		evt.PaymentRef = we.Data.TransactionID
	}
	return evt, nil
}

func (a *Adapter) GetSessionStatus(ctx context.Context, sessionID string) payment.Response {
	a.mu.Lock()
	s, ok := a.sessions[sessionID]
	a.mu.Unlock()

	if !ok {
		return payment.Failure("session_not_found", "unknown checkout session "+sessionID)
	}
	return payment.OK(map[string]interface{}{
		"session_id": s.ID,
		"status":     s.Status,
		"invoice_id": s.InvoiceID,
		"amount":     s.AmountTotal.String(),
		"currency":   s.Currency,
	})
}

func (a *Adapter) Refund(ctx context.Context, paymentRef string, amount decimal.Decimal) payment.Response {
	if paymentRef == "" {
		return payment.Failure("missing_payment_ref", "refund requires a payment reference")
	}

	a.mu.Lock()
	a.refunds[paymentRef] = amount
	a.mu.Unlock()

	return payment.OK(map[string]interface{}{
		"refund_id": "mock_re_" + paymentRef,
		"amount":    amount.String(),
	})
}

// CompleteSession flips an open session to complete (test helper).
func (a *Adapter) CompleteSession(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[sessionID]; ok {
		s.Status = "complete"
	}
}

// Sign computes the signature header value for a payload (test helper).
func (a *Adapter) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, a.webhookSecret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func mapEventType(t string) payment.WebhookEventType {
	switch t {
	case "payment.succeeded":
		return payment.WebhookPaymentSucceeded
	case "payment.failed":
		return payment.WebhookPaymentFailed
	case "subscription.cancelled":
		return payment.WebhookSubscriptionCancelled
	default:
		return payment.WebhookUnknown
	}
}
