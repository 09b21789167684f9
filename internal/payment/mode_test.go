package payment

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSessionModeForOneTimeOnly(t *testing.T) {
	lines := []SessionLine{
		{Description: "Token bundle", UnitAmount: decimal.NewFromInt(10), Quantity: 1},
		{Description: "Another bundle", UnitAmount: decimal.NewFromInt(5), Quantity: 2},
	}
	assert.Equal(t, ModePayment, SessionModeFor(lines))
}

func TestSessionModeForRecurringPlan(t *testing.T) {
	lines := []SessionLine{
		{Description: "Token bundle", UnitAmount: decimal.NewFromInt(10), Quantity: 1},
		{Description: "Pro plan", UnitAmount: decimal.RequireFromString("29.00"), Quantity: 1, Recurring: true, Interval: "month", IntervalCount: 1},
	}
	assert.Equal(t, ModeSubscription, SessionModeFor(lines))
}

func TestSessionModeForRecurringAddOn(t *testing.T) {
	lines := []SessionLine{
		{Description: "Extra seats", UnitAmount: decimal.NewFromInt(4), Quantity: 1, Recurring: true, Interval: "month", IntervalCount: 1},
	}
	assert.Equal(t, ModeSubscription, SessionModeFor(lines))
}

func TestSessionModeForEmpty(t *testing.T) {
	assert.Equal(t, ModePayment, SessionModeFor(nil))
}

func TestWithRetryStopsOnTerminalFailure(t *testing.T) {
	calls := 0
	res := WithRetry(context.Background(), 3, func() Response {
		calls++
		return Failure("card_declined", "card was declined")
	})
	assert.False(t, res.Success)
	assert.Equal(t, "card_declined", res.ErrCode)
	assert.Equal(t, 1, calls, "business rejections must not be retried")
}

func TestWithRetryRetriesTransportFailures(t *testing.T) {
	calls := 0
	res := WithRetry(context.Background(), 3, func() Response {
		calls++
		if calls < 3 {
			return TransportFailure("connection reset")
		}
		return OK(map[string]interface{}{"ok": true})
	})
	assert.True(t, res.Success)
	assert.Equal(t, 3, calls)
}
