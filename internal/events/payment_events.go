// internal/events/payment_events.go
package events

import "github.com/shopspring/decimal"

// PaymentCapturedEvent signals that a provider confirmed payment for an
// invoice. Emitted by the webhook transport after signature verification.
type PaymentCapturedEvent struct {
	InvoiceID     int64
	PaymentRef    string
	Amount        decimal.Decimal
	Currency      string
	Provider      string
	TransactionID string
	// ProviderSubRef carries the provider-side subscription reference
	// for subscription-mode checkouts, empty otherwise.
	ProviderSubRef string
}

func (e *PaymentCapturedEvent) Name() string { return PaymentCaptured }

// PaymentFailedEvent signals that the provider reported a terminal
// payment failure for a pending invoice.
type PaymentFailedEvent struct {
	InvoiceID    int64
	Provider     string
	ErrorCode    string
	ErrorMessage string
}

func (e *PaymentFailedEvent) Name() string { return PaymentFailed }

// SubscriptionCancelledEvent signals a provider-initiated cancellation.
// Either SubscriptionID or ProviderSubRef identifies the subscription.
type SubscriptionCancelledEvent struct {
	SubscriptionID int64
	ProviderSubRef string
	Provider       string
	Reason         string
}

func (e *SubscriptionCancelledEvent) Name() string { return SubscriptionCancelled }
