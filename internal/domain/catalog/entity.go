// internal/domain/catalog/entity.go
package catalog

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type BillingPeriod string

const (
	PeriodWeekly    BillingPeriod = "weekly"
	PeriodMonthly   BillingPeriod = "monthly"
	PeriodQuarterly BillingPeriod = "quarterly"
	PeriodYearly    BillingPeriod = "yearly"
	PeriodOneTime   BillingPeriod = "one_time"
)

// IsRecurring reports whether the period describes a renewing purchase.
func (p BillingPeriod) IsRecurring() bool {
	return p != PeriodOneTime && p != ""
}

// PeriodEnd calculates the entitlement end for a period starting at from.
// One-time purchases get a far-future expiry (~100 years).
func (p BillingPeriod) PeriodEnd(from time.Time) time.Time {
	switch p {
	case PeriodWeekly:
		return from.AddDate(0, 0, 7)
	case PeriodMonthly:
		return from.AddDate(0, 0, 30)
	case PeriodQuarterly:
		return from.AddDate(0, 0, 90)
	case PeriodYearly:
		return from.AddDate(0, 0, 365)
	case PeriodOneTime:
		return from.AddDate(100, 0, 0)
	default:
		return from.AddDate(0, 0, 30)
	}
}

// Interval maps the period to a provider billing interval and count,
// e.g. quarterly = 3 x month. One-time periods return ("", 0).
func (p BillingPeriod) Interval() (string, int64) {
	switch p {
	case PeriodWeekly:
		return "week", 1
	case PeriodMonthly:
		return "month", 1
	case PeriodQuarterly:
		return "month", 3
	case PeriodYearly:
		return "year", 1
	default:
		return "", 0
	}
}

type ItemStatus string

const (
	StatusActive   ItemStatus = "active"
	StatusInactive ItemStatus = "inactive"
)

// TarifPlan is a purchasable subscription tier.
type TarifPlan struct {
	ID            int64           `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Slug          string          `json:"slug" db:"slug"`
	Description   sql.NullString  `json:"description,omitempty" db:"description"`
	Price         decimal.Decimal `json:"price" db:"price"`
	Currency      string          `json:"currency" db:"currency"`
	BillingPeriod BillingPeriod   `json:"billing_period" db:"billing_period"`
	TrialDays     int             `json:"trial_days" db:"trial_days"`
	DefaultTokens int64           `json:"default_tokens" db:"default_tokens"`
	Status        ItemStatus      `json:"status" db:"status"`
	SortOrder     int             `json:"sort_order" db:"sort_order"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// IsRecurring checks if this is a recurring subscription plan.
func (p *TarifPlan) IsRecurring() bool {
	return p.BillingPeriod.IsRecurring()
}

// IsActive checks if the plan can be purchased.
func (p *TarifPlan) IsActive() bool {
	return p.Status == StatusActive
}

// TokenBundle is a one-time purchasable token grant. It confers no
// subscription entitlement; tokens are credited on payment capture.
type TokenBundle struct {
	ID          int64           `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Slug        string          `json:"slug" db:"slug"`
	Description sql.NullString  `json:"description,omitempty" db:"description"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Currency    string          `json:"currency" db:"currency"`
	TokenAmount int64           `json:"token_amount" db:"token_amount"`
	Status      ItemStatus      `json:"status" db:"status"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// IsActive checks if the bundle can be purchased.
func (b *TokenBundle) IsActive() bool {
	return b.Status == StatusActive
}

// AddOn is a purchasable extra carried as its own sub-subscription
// scoped to a parent plan subscription.
type AddOn struct {
	ID            int64           `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Slug          string          `json:"slug" db:"slug"`
	Description   sql.NullString  `json:"description,omitempty" db:"description"`
	Price         decimal.Decimal `json:"price" db:"price"`
	Currency      string          `json:"currency" db:"currency"`
	BillingPeriod BillingPeriod   `json:"billing_period" db:"billing_period"`
	Status        ItemStatus      `json:"status" db:"status"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// IsRecurring checks if the add-on renews with its own billing cycle.
func (a *AddOn) IsRecurring() bool {
	return a.BillingPeriod.IsRecurring()
}

// IsActive checks if the add-on can be purchased.
func (a *AddOn) IsActive() bool {
	return a.Status == StatusActive
}
