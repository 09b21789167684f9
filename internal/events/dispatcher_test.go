package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubEvent struct{ name string }

func (e *stubEvent) Name() string { return e.name }

type stubHandler struct {
	event  string
	result Result
	calls  *[]string
	label  string
}

func (h *stubHandler) EventName() string { return h.event }

func (h *stubHandler) Handle(ctx context.Context, e Event) Result {
	if h.calls != nil {
		*h.calls = append(*h.calls, h.label)
	}
	return h.result
}

func TestDispatcherInvokesInRegistrationOrder(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	var calls []string

	d.Register(&stubHandler{event: "payment.captured", result: OK(map[string]interface{}{"first": 1}), calls: &calls, label: "first"})
	d.Register(&stubHandler{event: "payment.captured", result: OK(map[string]interface{}{"second": 2}), calls: &calls, label: "second"})

	res := d.Emit(context.Background(), &stubEvent{name: "payment.captured"})

	require.True(t, res.Success)
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Equal(t, 1, res.Data["first"])
	assert.Equal(t, 2, res.Data["second"])
	assert.Equal(t, 2, res.Data["handlers_invoked"])
}

func TestDispatcherShortCircuitsOnFirstError(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	var calls []string

	d.Register(&stubHandler{event: "payment.failed", result: Fail(KindInvalidState, "boom"), calls: &calls, label: "failing"})
	d.Register(&stubHandler{event: "payment.failed", result: OK(nil), calls: &calls, label: "never"})

	res := d.Emit(context.Background(), &stubEvent{name: "payment.failed"})

	require.False(t, res.Success)
	assert.Equal(t, KindInvalidState, res.Kind)
	assert.Equal(t, "boom", res.Err)
	assert.Equal(t, []string{"failing"}, calls)
}

func TestDispatcherNoHandlers(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	res := d.Emit(context.Background(), &stubEvent{name: "subscription.cancelled"})

	require.False(t, res.Success)
	assert.Equal(t, KindNotFound, res.Kind)
	assert.False(t, d.HasHandlers("subscription.cancelled"))
}

func TestDispatcherRoutesByEventName(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	var calls []string

	d.Register(&stubHandler{event: "payment.captured", result: OK(nil), calls: &calls, label: "captured"})
	d.Register(&stubHandler{event: "payment.failed", result: OK(nil), calls: &calls, label: "failed"})

	res := d.Emit(context.Background(), &stubEvent{name: "payment.captured"})

	require.True(t, res.Success)
	assert.Equal(t, []string{"captured"}, calls)
}

func TestResultRetryable(t *testing.T) {
	assert.False(t, OK(nil).Retryable())
	assert.False(t, Fail(KindValidation, "x").Retryable())
	assert.False(t, Fail(KindNotFound, "x").Retryable())
	assert.False(t, Fail(KindInvalidState, "x").Retryable())
	assert.True(t, Fail(KindInternal, "x").Retryable())
	assert.True(t, Fail(KindProvider, "x").Retryable())
}
