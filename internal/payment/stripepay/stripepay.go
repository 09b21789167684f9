// internal/payment/stripepay/stripepay.go
package stripepay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"subpay-service/internal/domain/user"
	"subpay-service/internal/payment"
	xerrors "subpay-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

const providerName = "stripe"

var centsPerUnit = decimal.NewFromInt(100)

// Adapter talks to Stripe through the official SDK. Sessions carry the
// local invoice id in metadata so webhook events can be routed back to
// the invoice that created them.
type Adapter struct {
	webhookSecret string
}

func New(apiKey, webhookSecret string) *Adapter {
	stripe.Key = strings.TrimSpace(apiKey)
	return &Adapter{webhookSecret: webhookSecret}
}

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) SignatureHeader() string { return "Stripe-Signature" }

func (a *Adapter) CreateCheckoutSession(ctx context.Context, p payment.CheckoutSessionParams) payment.Response {
	if len(p.Lines) == 0 {
		return payment.Failure("empty_session", "checkout session requires at least one line")
	}

	mode := stripe.CheckoutSessionModePayment
	if p.Mode == payment.ModeSubscription {
		mode = stripe.CheckoutSessionModeSubscription
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(mode)),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		Metadata: map[string]string{
			"invoice_id":     strconv.FormatInt(p.InvoiceID, 10),
			"invoice_number": p.InvoiceNumber,
		},
	}
	if p.CustomerRef != "" {
		params.Customer = stripe.String(p.CustomerRef)
	} else if p.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(p.CustomerEmail)
	}

	// Propagate the invoice id onto the payment intent / subscription so
	// failure and cancellation events can be routed without a session lookup.
	if p.Mode == payment.ModeSubscription {
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: params.Metadata,
		}
	} else {
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: params.Metadata,
		}
	}

	for _, l := range p.Lines {
		priceData := &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(strings.ToLower(l.Currency)),
			UnitAmount: stripe.Int64(l.UnitAmount.Mul(centsPerUnit).IntPart()),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(l.Description),
			},
		}
		if l.Recurring {
			priceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
				Interval:      stripe.String(l.Interval),
				IntervalCount: stripe.Int64(l.IntervalCount),
			}
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: priceData,
			Quantity:  stripe.Int64(l.Quantity),
		})
	}
	params.Context = ctx

	s, err := session.New(params)
	if err != nil {
		return classify(err)
	}
	if s.URL == "" {
		return payment.Failure("empty_checkout_url", "stripe returned a session without a checkout URL")
	}

	return payment.OK(map[string]interface{}{
		"session_id":   s.ID,
		"checkout_url": s.URL,
		"mode":         string(p.Mode),
	})
}

func (a *Adapter) CreateOrGetCustomer(ctx context.Context, u *user.User) payment.Response {
	if u.ProviderCustomerRef.Valid && u.ProviderCustomerRef.String != "" {
		return payment.OK(map[string]interface{}{"customer_ref": u.ProviderCustomerRef.String})
	}

	params := &stripe.CustomerParams{
		Email:    stripe.String(u.Email),
		Metadata: map[string]string{"user_id": strconv.FormatInt(u.ID, 10)},
	}
	params.Context = ctx

	c, err := customer.New(params)
	if err != nil {
		return classify(err)
	}
	return payment.OK(map[string]interface{}{"customer_ref": c.ID})
}

func (a *Adapter) CancelRemoteSubscription(ctx context.Context, providerSubRef string) payment.Response {
	if providerSubRef == "" {
		return payment.Failure("missing_subscription", "no remote subscription reference")
	}

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	s, err := subscription.Cancel(providerSubRef, params)
	if err != nil {
		return classify(err)
	}
	return payment.OK(map[string]interface{}{
		"cancelled": s.ID,
		"status":    string(s.Status),
	})
}

func (a *Adapter) VerifyWebhook(payload []byte, signature string) (*payment.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrSignatureInvalid, err)
	}

	evt := &payment.WebhookEvent{
		Provider: providerName,
		EventID:  event.ID,
		Type:     payment.WebhookUnknown,
	}

	switch event.Type {
	case "checkout.session.completed":
		var s checkoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("decode checkout.session: %w", err)
		}
		evt.Type = payment.WebhookPaymentSucceeded
		evt.InvoiceID = invoiceIDFromMetadata(s.Metadata)
		evt.TransactionID = s.ID
		evt.PaymentRef = s.PaymentIntent
		if evt.PaymentRef == "" {
			evt.PaymentRef = s.ID
		}
		evt.ProviderSubRef = s.Subscription
		evt.Amount = decimal.NewFromInt(s.AmountTotal).Div(centsPerUnit)
		evt.Currency = strings.ToUpper(s.Currency)

	case "payment_intent.payment_failed":
		var pi paymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment_intent: %w", err)
		}
		evt.Type = payment.WebhookPaymentFailed
		evt.InvoiceID = invoiceIDFromMetadata(pi.Metadata)
		evt.TransactionID = pi.ID
		evt.ErrorCode = pi.LastPaymentError.Code
		evt.ErrorMessage = pi.LastPaymentError.Message

	case "customer.subscription.deleted":
		var sub subscriptionEvent
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		evt.Type = payment.WebhookSubscriptionCancelled
		evt.ProviderSubRef = sub.ID
		evt.ErrorMessage = sub.CancellationDetails.Reason
	}

	return evt, nil
}

func (a *Adapter) GetSessionStatus(ctx context.Context, sessionID string) payment.Response {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := session.Get(sessionID, params)
	if err != nil {
		return classify(err)
	}
	return payment.OK(map[string]interface{}{
		"session_id":     s.ID,
		"status":         string(s.Status),
		"payment_status": string(s.PaymentStatus),
		"amount":         decimal.NewFromInt(s.AmountTotal).Div(centsPerUnit).String(),
		"currency":       strings.ToUpper(string(s.Currency)),
	})
}

func (a *Adapter) Refund(ctx context.Context, paymentRef string, amount decimal.Decimal) payment.Response {
	if paymentRef == "" {
		return payment.Failure("missing_payment_ref", "refund requires a payment reference")
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentRef),
	}
	if amount.IsPositive() {
		params.Amount = stripe.Int64(amount.Mul(centsPerUnit).IntPart())
	}
	params.Context = ctx

	r, err := refund.New(params)
	if err != nil {
		return classify(err)
	}
	return payment.OK(map[string]interface{}{
		"refund_id": r.ID,
		"status":    string(r.Status),
		"amount":    decimal.NewFromInt(r.Amount).Div(centsPerUnit).String(),
	})
}

// classify maps a Stripe SDK error onto the adapter response contract:
// connection-level failures are retryable, everything else is a
// terminal provider rejection.
func classify(err error) payment.Response {
	var se *stripe.Error
	if errors.As(err, &se) {
		// stripe-go v82 dropped the ErrorTypeAPIConnection constant;
		// compare against its wire value directly.
		if se.Type == stripe.ErrorType("api_connection_error") {
			return payment.TransportFailure(se.Msg)
		}
		code := string(se.Code)
		if code == "" {
			code = string(se.Type)
		}
		return payment.Failure(code, se.Msg)
	}
	return payment.TransportFailure(err.Error())
}

func invoiceIDFromMetadata(md map[string]string) int64 {
	id, _ := strconv.ParseInt(md["invoice_id"], 10, 64)
	return id
}

// Minimal representations of the Stripe objects carried in webhook
// payloads; only the fields the lifecycle pipeline needs.
type checkoutSession struct {
	ID            string            `json:"id"`
	Mode          string            `json:"mode"`
	PaymentIntent string            `json:"payment_intent"`
	Subscription  string            `json:"subscription"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

type paymentIntent struct {
	ID               string            `json:"id"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type subscriptionEvent struct {
	ID                  string `json:"id"`
	Customer            string `json:"customer"`
	Status              string `json:"status"`
	CancellationDetails struct {
		Reason string `json:"reason"`
	} `json:"cancellation_details"`
}
