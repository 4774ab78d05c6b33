package orchestration

import (
	"github.com/turtacn/OptiFlow/pkg/errors"
)

// Registry is the read-only table of flows keyed by problem type.
type Registry struct {
	flows  []Flow
	byKey  map[string]*Flow
	byPath map[string]*Flow
}

// NewRegistry indexes flows.  Keys and paths must be unique and non-empty.
func NewRegistry(flows ...Flow) (*Registry, error) {
	r := &Registry{
		flows:  make([]Flow, len(flows)),
		byKey:  make(map[string]*Flow, len(flows)),
		byPath: make(map[string]*Flow, len(flows)),
	}
	copy(r.flows, flows)
	for i := range r.flows {
		f := &r.flows[i]
		if f.Key == "" || f.Path == "" {
			return nil, errors.Newf(errors.CodeInternal, "flow %d has no key or path", i)
		}
		if _, dup := r.byKey[f.Key]; dup {
			return nil, errors.Newf(errors.CodeInternal, "duplicate flow key %q", f.Key)
		}
		if _, dup := r.byPath[f.Path]; dup {
			return nil, errors.Newf(errors.CodeInternal, "duplicate flow path %q", f.Path)
		}
		r.byKey[f.Key] = f
		r.byPath[f.Path] = f
	}
	return r, nil
}

// Lookup returns the flow registered under key.
func (r *Registry) Lookup(key string) (*Flow, error) {
	if f, ok := r.byKey[key]; ok {
		return f, nil
	}
	return nil, errors.UnsupportedProblemType(key)
}

// LookupPath returns the flow served under the URL slug path.
func (r *Registry) LookupPath(path string) (*Flow, error) {
	if f, ok := r.byPath[path]; ok {
		return f, nil
	}
	return nil, errors.UnsupportedProblemType(path)
}

// Flows returns the flows in registration order.
func (r *Registry) Flows() []Flow {
	out := make([]Flow, len(r.flows))
	copy(out, r.flows)
	return out
}

// Keys returns every registered key in registration order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.flows))
	for i, f := range r.flows {
		out[i] = f.Key
	}
	return out
}
