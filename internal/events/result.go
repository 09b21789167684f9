// internal/events/result.go
package events

import (
	"errors"
	"fmt"

	xerrors "subpay-service/internal/pkg/errors"
)

type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindValidation          ErrorKind = "validation"
	KindNotFound            ErrorKind = "not_found"
	KindInvalidState        ErrorKind = "invalid_state"
	KindInsufficientBalance ErrorKind = "insufficient_balance"
	KindProvider            ErrorKind = "provider"
	KindInternal            ErrorKind = "internal"
)

// Result is the tagged outcome of handling an event: either a success
// carrying data, or an error with a message and kind.
type Result struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Err     string                 `json:"error,omitempty"`
	Kind    ErrorKind              `json:"error_kind,omitempty"`
}

// OK builds a success result.
func OK(data map[string]interface{}) Result {
	return Result{Success: true, Data: data}
}

// Fail builds an error result.
func Fail(kind ErrorKind, msg string) Result {
	return Result{Success: false, Err: msg, Kind: kind}
}

// Failf builds an error result with a formatted message.
func Failf(kind ErrorKind, format string, args ...interface{}) Result {
	return Fail(kind, fmt.Sprintf(format, args...))
}

// FromError maps application sentinel errors onto result kinds.
func FromError(err error) Result {
	switch {
	case err == nil:
		return OK(nil)
	case errors.Is(err, xerrors.ErrNotFound):
		return Fail(KindNotFound, err.Error())
	case errors.Is(err, xerrors.ErrValidation):
		return Fail(KindValidation, err.Error())
	case errors.Is(err, xerrors.ErrInvalidState):
		return Fail(KindInvalidState, err.Error())
	case errors.Is(err, xerrors.ErrInsufficientBalance):
		return Fail(KindInsufficientBalance, err.Error())
	default:
		var pe *xerrors.ProviderError
		if errors.As(err, &pe) {
			return Fail(KindProvider, err.Error())
		}
		return Fail(KindInternal, err.Error())
	}
}

// Retryable reports whether the failure is worth a provider-side retry.
// Business failures are terminal; only internal/provider kinds qualify.
func (r Result) Retryable() bool {
	if r.Success {
		return false
	}
	return r.Kind == KindInternal || r.Kind == KindProvider
}

// AsError converts an error result back to an error, nil for success.
func (r Result) AsError() error {
	if r.Success {
		return nil
	}
	return fmt.Errorf("%s: %s", r.Kind, r.Err)
}
