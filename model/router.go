package model

import "github.com/loomwork/loomwork/errs"

// Router holds the closed selector-to-(provider,model-id) table of spec.md
// §4.C/§6 and is the single decision point for PickModel. Adding a selector
// requires a code change, matching "Recognized model selectors... closed
// table; additions require a code change."
type Router struct {
	entries map[Selector]routerEntry
}

type routerEntry struct {
	provider ProviderClient
	modelID  string
}

// NewRouter constructs an empty Router; use Register to populate it.
func NewRouter() *Router {
	return &Router{entries: make(map[Selector]routerEntry)}
}

// Register binds a Selector to a provider adapter and its provider-native
// model identifier.
func (r *Router) Register(sel Selector, provider ProviderClient, modelID string) *Router {
	r.entries[sel] = routerEntry{provider: provider, modelID: modelID}
	return r
}

// Resolve translates sel into its provider adapter and model id. An
// unregistered selector is a configuration error (spec.md §4.C).
func (r *Router) Resolve(sel Selector) (ProviderClient, string, error) {
	e, ok := r.entries[sel]
	if !ok {
		return nil, "", errs.New(errs.KindConfiguration, "model.Router.Resolve", "unknown model selector: "+string(sel))
	}
	return e.provider, e.modelID, nil
}

// PickModel returns the selector to route to for the given complexity,
// spec.md §4.C's "single decision point for routing": simple work goes to
// the fast-cheap model, complex work to the capable reasoning model.
func PickModel(complexity Complexity) Selector {
	if complexity == ComplexityComplex {
		return SelectorCapable
	}
	return SelectorFastCheap
}
