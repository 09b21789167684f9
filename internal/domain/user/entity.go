// internal/domain/user/entity.go
package user

import (
	"database/sql"
	"time"
)

type UserStatus string

const (
	StatusPending   UserStatus = "pending"
	StatusActive    UserStatus = "active"
	StatusSuspended UserStatus = "suspended"
	StatusDeleted   UserStatus = "deleted"
)

// User holds the billing-relevant identity state. Credentials and
// sessions live in the external identity service.
type User struct {
	ID                  int64          `json:"id" db:"id"`
	Email               string         `json:"email" db:"email"`
	Status              UserStatus     `json:"status" db:"status"`
	HasUsedTrial        bool           `json:"has_used_trial" db:"has_used_trial"`
	ProviderCustomerRef sql.NullString `json:"provider_customer_ref,omitempty" db:"provider_customer_ref"`
	CreatedAt           time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at" db:"updated_at"`
}

// IsActive checks if the user account is active.
func (u *User) IsActive() bool {
	return u.Status == StatusActive
}
