package xerrors

import (
	"errors"
	"fmt"
)

// Common reusable application errors
var (
	ErrNotFound            = errors.New("resource not found")
	ErrValidation          = errors.New("validation failed")
	ErrInvalidState        = errors.New("invalid state for requested transition")
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrSignatureInvalid    = errors.New("webhook signature invalid")
	ErrUnauthorized        = errors.New("unauthorized access")
	ErrForbidden           = errors.New("forbidden")
	ErrConflict            = errors.New("conflict: resource already exists")
	ErrInternal            = errors.New("internal server error")
)

// ProviderError wraps a payment provider failure. Expected business
// rejections (declined card, invalid session) are terminal; only
// transport-level failures carry Retryable.
type ProviderError struct {
	Provider  string
	Code      string
	Message   string
	Retryable bool
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider %s: %s (%s)", e.Provider, e.Message, e.Code)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

// IsRetryable reports whether err carries a retryable provider failure.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// Wrap adds context to an error (similar to fmt.Errorf("%w")).
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is allows checking whether an error is a specific sentinel error.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Unwrap extracts the underlying wrapped error.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// MessageOrDefault returns err.Error() or a fallback message if err is nil.
func MessageOrDefault(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}
