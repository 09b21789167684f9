// internal/domain/billing/entity.go
package billing

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusExpired   InvoiceStatus = "expired"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

type LineItemType string

const (
	ItemTypeSubscription LineItemType = "subscription"
	ItemTypeTokenBundle  LineItemType = "token_bundle"
	ItemTypeAddOn        LineItemType = "add_on"
)

// UserInvoice is the billing document for one checkout. It transitions
// PENDING->PAID exactly once; PAID invoices are immutable except for
// audit metadata.
type UserInvoice struct {
	ID            int64                  `json:"id" db:"id"`
	InvoiceNumber string                 `json:"invoice_number" db:"invoice_number"`
	UserID        int64                  `json:"user_id" db:"user_id"`
	Status        InvoiceStatus          `json:"status" db:"status"`
	TotalAmount   decimal.Decimal        `json:"total_amount" db:"total_amount"`
	Currency      string                 `json:"currency" db:"currency"`
	Provider      sql.NullString         `json:"provider,omitempty" db:"provider"`
	PaymentRef    sql.NullString         `json:"payment_ref,omitempty" db:"payment_ref"`
	InvoicedAt    time.Time              `json:"invoiced_at" db:"invoiced_at"`
	PaidAt        sql.NullTime           `json:"paid_at,omitempty" db:"paid_at"`
	ExpiresAt     sql.NullTime           `json:"expires_at,omitempty" db:"expires_at"`
	Metadata      map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	Lines         []InvoiceLineItem      `json:"lines" db:"-"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at" db:"updated_at"`
}

// IsPayable checks if the invoice can still be paid.
func (i *UserInvoice) IsPayable(now time.Time) bool {
	if i.Status != InvoiceStatusPending {
		return false
	}
	if i.ExpiresAt.Valid && i.ExpiresAt.Time.Before(now) {
		return false
	}
	return true
}

// InvoiceLineItem is one priced entry on an invoice. Subscription and
// add-on lines link the companion pending entitlement rows created at
// checkout.
type InvoiceLineItem struct {
	ID                  int64           `json:"id" db:"id"`
	InvoiceID           int64           `json:"invoice_id" db:"invoice_id"`
	ItemType            LineItemType    `json:"item_type" db:"item_type"`
	ItemID              int64           `json:"item_id" db:"item_id"`
	Description         string          `json:"description" db:"description"`
	UnitPrice           decimal.Decimal `json:"unit_price" db:"unit_price"`
	Quantity            int             `json:"quantity" db:"quantity"`
	SubscriptionID      sql.NullInt64   `json:"subscription_id,omitempty" db:"subscription_id"`
	AddOnSubscriptionID sql.NullInt64   `json:"add_on_subscription_id,omitempty" db:"add_on_subscription_id"`
}

// Total returns unit price times quantity.
func (l *InvoiceLineItem) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}
