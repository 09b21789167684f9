// internal/payment/registry.go
package payment

import (
	"fmt"

	xerrors "subpay-service/internal/pkg/errors"
)

// Registry maps provider names to adapters. It is populated explicitly
// at process startup; no dynamic discovery.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown payment provider %q: %w", name, xerrors.ErrNotFound)
	}
	return a, nil
}

// Names lists the registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	return names
}
