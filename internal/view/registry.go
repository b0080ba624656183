package view

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/eduops/internal/apperr"
)

// Registry holds the views served by the application in registration
// order.
type Registry struct {
	order []string
	views map[string]View
}

// NewRegistry creates a registry from views. Duplicate names panic.
func NewRegistry(views ...View) *Registry {
	r := &Registry{views: make(map[string]View, len(views))}
	for _, v := range views {
		if _, dup := r.views[v.Name()]; dup {
			panic(fmt.Sprintf("view: duplicate view %q", v.Name()))
		}
		r.order = append(r.order, v.Name())
		r.views[v.Name()] = v
	}
	return r
}

// Get returns the named view.
func (r *Registry) Get(name string) (View, error) {
	v, ok := r.views[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperr.ErrUnknownView, name)
	}
	return v, nil
}

// All returns every view in registration order.
func (r *Registry) All() []View {
	out := make([]View, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.views[name])
	}
	return out
}

// RefreshAll starts a new epoch in every view. Failures are logged and do
// not stop the other views.
func (r *Registry) RefreshAll(ctx context.Context) {
	for _, v := range r.All() {
		if _, err := v.Refresh(ctx); err != nil {
			slog.Warn("view: refresh failed", slog.String("view", v.Name()), slog.String("error", err.Error()))
		}
	}
}
