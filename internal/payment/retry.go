// internal/payment/retry.go
package payment

import (
	"context"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 500 * time.Millisecond
)

// WithRetry runs op, retrying transport-level failures with exponential
// backoff up to maxAttempts. Provider business rejections are terminal
// and returned immediately.
func WithRetry(ctx context.Context, maxAttempts int, op func() Response) Response {
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}

	var last Response
	backoff := defaultBackoffBase
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		last = op()
		if last.Success || !last.Retryable {
			return last
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return TransportFailure("cancelled: " + ctx.Err().Error())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return last
}
