// internal/testutil/stub_adapter.go
package testutil

import (
	"context"
	"fmt"

	"subpay-service/internal/domain/user"
	"subpay-service/internal/payment"

	"github.com/shopspring/decimal"
)

// StubAdapter is a scriptable payment.Adapter for service tests. Zero
// value responses succeed; set the *Resp fields to script failures.
type StubAdapter struct {
	AdapterName string

	SessionResp  *payment.Response
	CustomerResp *payment.Response
	CancelResp   *payment.Response
	StatusResp   *payment.Response
	RefundResp   *payment.Response

	SessionParams  []payment.CheckoutSessionParams
	CancelledRefs  []string
	RefundedRefs   []string
	RefundAmounts  []decimal.Decimal
	CustomersAsked []int64
}

var _ payment.Adapter = (*StubAdapter)(nil)

func (a *StubAdapter) Name() string {
	if a.AdapterName == "" {
		return "stub"
	}
	return a.AdapterName
}

func (a *StubAdapter) SignatureHeader() string { return "X-Stub-Signature" }

func (a *StubAdapter) CreateCheckoutSession(ctx context.Context, p payment.CheckoutSessionParams) payment.Response {
	a.SessionParams = append(a.SessionParams, p)
	if a.SessionResp != nil {
		return *a.SessionResp
	}
	return payment.OK(map[string]interface{}{
		"session_id":  fmt.Sprintf("sess_%d", len(a.SessionParams)),
		"session_url": "https://pay.stub.local/session",
	})
}

func (a *StubAdapter) CreateOrGetCustomer(ctx context.Context, u *user.User) payment.Response {
	a.CustomersAsked = append(a.CustomersAsked, u.ID)
	if a.CustomerResp != nil {
		return *a.CustomerResp
	}
	return payment.OK(map[string]interface{}{"customer_ref": fmt.Sprintf("cus_%d", u.ID)})
}

func (a *StubAdapter) CancelRemoteSubscription(ctx context.Context, providerSubRef string) payment.Response {
	a.CancelledRefs = append(a.CancelledRefs, providerSubRef)
	if a.CancelResp != nil {
		return *a.CancelResp
	}
	return payment.OK(nil)
}

func (a *StubAdapter) VerifyWebhook(payload []byte, signature string) (*payment.WebhookEvent, error) {
	return nil, fmt.Errorf("stub adapter does not verify webhooks")
}

func (a *StubAdapter) GetSessionStatus(ctx context.Context, sessionID string) payment.Response {
	if a.StatusResp != nil {
		return *a.StatusResp
	}
	return payment.OK(map[string]interface{}{"session_id": sessionID, "status": "open"})
}

func (a *StubAdapter) Refund(ctx context.Context, paymentRef string, amount decimal.Decimal) payment.Response {
	a.RefundedRefs = append(a.RefundedRefs, paymentRef)
	a.RefundAmounts = append(a.RefundAmounts, amount)
	if a.RefundResp != nil {
		return *a.RefundResp
	}
	return payment.OK(map[string]interface{}{"refund_id": "re_" + paymentRef})
}
