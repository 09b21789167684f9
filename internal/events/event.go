// internal/events/event.go
package events

// Stable event name contract shared with the webhook transport.
const (
	PaymentCaptured       = "payment.captured"
	PaymentFailed         = "payment.failed"
	SubscriptionCancelled = "subscription.cancelled"
)

// Event is an immutable record of something that happened. One concrete
// type exists per event name; payload fields are fixed at construction.
type Event interface {
	Name() string
}
