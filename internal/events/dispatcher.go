// internal/events/dispatcher.go
package events

import (
	"context"

	"go.uber.org/zap"
)

// Handler is registered for exactly one event name. Handlers are
// stateless aside from injected collaborators and are registered once
// at process startup.
type Handler interface {
	EventName() string
	Handle(ctx context.Context, e Event) Result
}

// Dispatcher is the in-process router from event name to handlers.
// Emit invokes handlers synchronously in registration order and
// short-circuits on the first error. It has no retry, no persistence
// and no cross-process transport; those belong to the webhook layer.
type Dispatcher struct {
	handlers map[string][]Handler
	logger   *zap.Logger
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Register appends the handler to the ordered list for its event name.
// Registration order is the dispatch order; callers that depend on a
// prior handler's side effect must register after it.
func (d *Dispatcher) Register(h Handler) {
	name := h.EventName()
	d.handlers[name] = append(d.handlers[name], h)
}

// HasHandlers checks whether any handler is registered for the name.
func (d *Dispatcher) HasHandlers(name string) bool {
	return len(d.handlers[name]) > 0
}

// Emit dispatches the event. The first handler error is returned
// verbatim and remaining handlers are skipped; if all succeed the
// result aggregates every handler's data.
func (d *Dispatcher) Emit(ctx context.Context, e Event) Result {
	hs := d.handlers[e.Name()]
	if len(hs) == 0 {
		d.logger.Warn("no handlers registered for event", zap.String("event", e.Name()))
		return Fail(KindNotFound, "no handlers registered for event "+e.Name())
	}

	aggregated := make(map[string]interface{})
	for _, h := range hs {
		res := h.Handle(ctx, e)
		if !res.Success {
			d.logger.Error("event handler failed",
				zap.String("event", e.Name()),
				zap.String("kind", string(res.Kind)),
				zap.String("error", res.Err),
			)
			return res
		}
		for k, v := range res.Data {
			aggregated[k] = v
		}
	}
	aggregated["handlers_invoked"] = len(hs)

	return OK(aggregated)
}
