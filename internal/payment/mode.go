// internal/payment/mode.go
package payment

// SessionModeFor computes the provider checkout mode from the resolved
// invoice lines: subscription mode if any line is recurring, one-time
// payment mode otherwise. The selection is pure and provider-agnostic;
// every adapter receives the mode rather than recomputing it.
func SessionModeFor(lines []SessionLine) SessionMode {
	for _, l := range lines {
		if l.Recurring {
			return ModeSubscription
		}
	}
	return ModePayment
}
