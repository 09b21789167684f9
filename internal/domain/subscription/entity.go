// internal/domain/subscription/entity.go
package subscription

import (
	"database/sql"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusTrialing  Status = "trialing"
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Subscription is the billing-cycle state machine for one plan a user
// is entitled to. Rows are never deleted; they carry audit history
// across trial, conversion, renewal and cancellation.
type Subscription struct {
	ID                 int64          `json:"id" db:"id"`
	UserID             int64          `json:"user_id" db:"user_id"`
	TarifPlanID        int64          `json:"tarif_plan_id" db:"tarif_plan_id"`
	Status             Status         `json:"status" db:"status"`
	StartedAt          sql.NullTime   `json:"started_at,omitempty" db:"started_at"`
	ExpiresAt          sql.NullTime   `json:"expires_at,omitempty" db:"expires_at"`
	TrialEndAt         sql.NullTime   `json:"trial_end_at,omitempty" db:"trial_end_at"`
	CancelledAt        sql.NullTime   `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancellationReason sql.NullString `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	ProviderSubRef     sql.NullString `json:"provider_sub_ref,omitempty" db:"provider_sub_ref"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

// CanActivate reports whether a payment capture may move the
// subscription to ACTIVE: fresh PENDING checkouts and post-trial
// CANCELLED rows (conversion offers) qualify; nothing else does.
func (s *Subscription) CanActivate() bool {
	if s.Status == StatusPending {
		return true
	}
	return s.Status == StatusCancelled && s.TrialEndAt.Valid
}

// IsLive reports whether the subscription currently entitles the user.
func (s *Subscription) IsLive(now time.Time) bool {
	if s.Status != StatusActive && s.Status != StatusTrialing {
		return false
	}
	if s.ExpiresAt.Valid && s.ExpiresAt.Time.Before(now) {
		return false
	}
	return true
}

// AddOnSubscription mirrors Subscription for a purchased add-on,
// scoped to a parent plan subscription and cancelled cascading with it.
type AddOnSubscription struct {
	ID                   int64         `json:"id" db:"id"`
	UserID               int64         `json:"user_id" db:"user_id"`
	AddOnID              int64         `json:"add_on_id" db:"add_on_id"`
	ParentSubscriptionID sql.NullInt64 `json:"parent_subscription_id,omitempty" db:"parent_subscription_id"`
	Status               Status        `json:"status" db:"status"`
	StartedAt            sql.NullTime  `json:"started_at,omitempty" db:"started_at"`
	ExpiresAt            sql.NullTime  `json:"expires_at,omitempty" db:"expires_at"`
	CancelledAt          sql.NullTime  `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt            time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at" db:"updated_at"`
}

// CanActivate reports whether payment capture may activate the add-on.
func (a *AddOnSubscription) CanActivate() bool {
	return a.Status == StatusPending
}
