package scoring

import (
	"context"
	"sort"
)

// Runner executes one named scoring algorithm over a note's ratings.
// Runners must honor ctx cancellation; the tier fallback machinery bounds
// each invocation with a deadline.
type Runner func(ctx context.Context, ratings []float64) (float64, error)

// Registry maps scorer identifiers from tier configs to runners. Register
// everything during startup; after that the registry is read-only and safe
// to share across workers.
type Registry struct {
	runners map[string]Runner
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

// Register binds name to fn, replacing any previous binding.
func (r *Registry) Register(name string, fn Runner) {
	r.runners[name] = fn
}

// Resolve walks a tier's ordered scorer chain and returns the first
// identifier with a registered runner. Identifiers nobody registered are
// skipped: tier configs may name algorithms the embedding system does not
// provide, and every chain ends in the always-registered Bayesian fallback.
func (r *Registry) Resolve(chain []string) (string, Runner, bool) {
	for _, name := range chain {
		if fn, ok := r.runners[name]; ok {
			return name, fn, true
		}
	}
	return "", nil, false
}

// Names lists the registered identifiers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.runners))
	for name := range r.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
