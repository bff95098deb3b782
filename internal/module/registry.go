package module

import "fmt"

// Registry holds the Builders the controller core declares at startup,
// in declaration order, the way the teacher's Hub owns its rooms registry
// (internal/v1/session/hub.go) — here the registry is populated once and
// read many times, so no locking is needed after startup.
type Registry struct {
	order    []Namespace
	builders map[Namespace]Builder
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[Namespace]Builder)}
}

// Register adds a Builder. Re-registering the same namespace replaces the
// existing Builder without changing its position in declaration order.
func (r *Registry) Register(b Builder) {
	ns := b.ModuleID()
	if _, exists := r.builders[ns]; !exists {
		r.order = append(r.order, ns)
	}
	r.builders[ns] = b
}

// Builders returns every registered Builder in declaration order.
func (r *Registry) Builders() []Builder {
	out := make([]Builder, 0, len(r.order))
	for _, ns := range r.order {
		out = append(out, r.builders[ns])
	}
	return out
}

// Get returns the Builder registered under ns, if any.
func (r *Registry) Get(ns Namespace) (Builder, bool) {
	b, ok := r.builders[ns]
	return b, ok
}

// Features returns the union of every registered Builder's ProvidedFeatures,
// used to merge the server-disabled feature set into a room's tariff
// (spec.md §4.5).
func (r *Registry) Features() []Feature {
	var out []Feature
	for _, ns := range r.order {
		out = append(out, r.builders[ns].ProvidedFeatures()...)
	}
	return out
}

func (r *Registry) String() string {
	return fmt.Sprintf("module.Registry{%d builders}", len(r.order))
}
