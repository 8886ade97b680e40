// Package tools implements the Tool Registry (spec.md §3/§4.G): a name-keyed
// table of handlers invoked by tool-capable agents. The registry is
// registered before any tool-capable agent executes and is read-only during
// execution (spec.md §4.G).
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/loomwork/loomwork/errs"
)

// Handler is a function from an argument object to a JSON-shaped result. A
// handler may return an error; the enclosing agent surfaces it to the model
// as a failed tool-result message rather than aborting the loop outright
// (spec.md §4.G).
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Spec describes one registered tool's metadata and optional argument
// schema.
type Spec struct {
	Name        string
	Description string
	// Schema, when non-nil, is a JSON Schema object validated against a
	// tool call's arguments before the handler runs.
	Schema  map[string]any
	Handler Handler

	compiled *jsonschema.Schema
}

// Registry is the name-keyed tool table of spec.md §4.G.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]*Spec
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]*Spec)}
}

// Register adds a tool. Register compiles Schema eagerly (if present) so a
// malformed schema fails at registration time, never mid-execution. Register
// takes the registry's write lock, so it may run alongside Call; tools are
// expected to be registered before any tool-capable agent executes, per
// spec.md §4.G.
func (r *Registry) Register(spec Spec) error {
	if spec.Name == "" {
		return errs.New(errs.KindValidation, "tools.Registry.Register", "tool name is required")
	}
	if spec.Handler == nil {
		return errs.New(errs.KindValidation, "tools.Registry.Register", "tool handler is required")
	}
	if spec.Schema != nil {
		compiled, err := compileSchema(spec.Name, spec.Schema)
		if err != nil {
			return errs.Wrap(errs.KindValidation, "tools.Registry.Register", "compile schema for tool "+spec.Name, err)
		}
		spec.compiled = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.Name] = &spec
	return nil
}

// Spec returns the registered spec for name, if any.
func (r *Registry) Spec(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	if !ok {
		return Spec{}, false
	}
	return *s, true
}

// Call dispatches to the named tool's handler, validating args against the
// tool's schema (when declared) first. A missing name surfaces
// errs.KindToolNotFound; a handler error or schema violation surfaces
// errs.KindToolFailure, per spec.md §4.A.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	spec, ok := r.specs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.KindToolNotFound, "tools.Registry.Call", "tool not registered: "+name)
	}

	if spec.compiled != nil {
		if err := validateArgs(spec.compiled, args); err != nil {
			return nil, errs.Wrap(errs.KindToolFailure, "tools.Registry.Call", "arguments failed schema validation for tool "+name, err)
		}
	}

	result, err := spec.Handler(ctx, args)
	if err != nil {
		return nil, errs.Wrap(errs.KindToolFailure, "tools.Registry.Call", "tool handler failed: "+name, err)
	}
	return result, nil
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	resource := "tool://" + name
	if err := c.AddResource(resource, doc); err != nil {
		return nil, err
	}
	return c.Compile(resource)
}

func validateArgs(schema *jsonschema.Schema, args map[string]any) error {
	// jsonschema validates against any decoded-JSON value; a map[string]any
	// round-trips through JSON cleanly, so no extra conversion is needed
	// beyond widening to `any`.
	return schema.Validate(any(args))
}
