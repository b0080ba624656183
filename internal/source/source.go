// Package source defines the contract between list views and the upstream
// services that own the records.
package source

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/starford/eduops/internal/record"
)

// Params are flat query-string filters forwarded to a backend. Values are
// always primitives; composite filter objects are never sent.
type Params map[string]string

// Signature returns a stable string identifying the parameter set.
func (p Params) Signature() string {
	keys := slices.Sorted(maps.Keys(p))
	var b strings.Builder
	for _, k := range keys {
		if p[k] == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p[k])
	}
	return b.String()
}

// Backend is an upstream data service.
type Backend interface {
	// ListPrimary returns the records of collection matching params.
	ListPrimary(ctx context.Context, collection string, params Params) ([]record.Raw, error)
	// ListSecondary returns the records of collection with the given keys,
	// or every record when ids is empty.
	ListSecondary(ctx context.Context, collection string, ids []string) ([]record.Raw, error)
	// GetDetail returns one record by natural key, or nil when there is none.
	GetDetail(ctx context.Context, collection, key string) (record.Raw, error)
}

// Fetcher loads one collection for a view.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, params Params) ([]record.Raw, error)
}

// FetchError is a transport or HTTP failure while loading a source.
type FetchError struct {
	Source string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d: %v", e.Source, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// wrap normalises err into a *FetchError attributed to name.
func wrap(name string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.Source == "" {
			fe.Source = name
		}
		return fe
	}
	return &FetchError{Source: name, Err: err}
}

func nonNil(records []record.Raw) []record.Raw {
	if records == nil {
		return []record.Raw{}
	}
	return records
}

// ClientFilteredFetch downloads a whole collection so the view can join and
// filter it locally. Request parameters are ignored; only the bulk page size
// is sent.
type ClientFilteredFetch struct {
	Backend    Backend
	Collection string
	PageSize   int
}

// Name returns the collection name.
func (f *ClientFilteredFetch) Name() string { return f.Collection }

// Fetch loads every record of the collection.
func (f *ClientFilteredFetch) Fetch(ctx context.Context, _ Params) ([]record.Raw, error) {
	params := Params{}
	if f.PageSize > 0 {
		params["page_size"] = fmt.Sprint(f.PageSize)
	}
	records, err := f.Backend.ListPrimary(ctx, f.Collection, params)
	if err != nil {
		return nil, wrap(f.Collection, err)
	}
	return nonNil(records), nil
}

// ServerFilteredFetch forwards the allowed filter parameters to the backend
// and returns only the records it selects. A change to any forwarded
// parameter requires a new fetch.
type ServerFilteredFetch struct {
	Backend    Backend
	Collection string
	// Allowed lists the parameter names the server understands.
	Allowed  []string
	PageSize int
}

// Name returns the collection name.
func (f *ServerFilteredFetch) Name() string { return f.Collection }

// Select returns the subset of params forwarded to the server.
func (f *ServerFilteredFetch) Select(params Params) Params {
	out := Params{}
	for _, k := range f.Allowed {
		if v := strings.TrimSpace(params[k]); v != "" && v != "all" {
			out[k] = v
		}
	}
	return out
}

// Fetch loads the records matching the forwarded parameters.
func (f *ServerFilteredFetch) Fetch(ctx context.Context, params Params) ([]record.Raw, error) {
	q := f.Select(params)
	if f.PageSize > 0 {
		q["page_size"] = fmt.Sprint(f.PageSize)
	}
	records, err := f.Backend.ListPrimary(ctx, f.Collection, q)
	if err != nil {
		return nil, wrap(f.Collection, err)
	}
	return nonNil(records), nil
}

// SecondaryFetch loads a whole lookup collection.
type SecondaryFetch struct {
	Backend    Backend
	Collection string
}

// Name returns the collection name.
func (f *SecondaryFetch) Name() string { return f.Collection }

// Fetch loads every record of the collection.
func (f *SecondaryFetch) Fetch(ctx context.Context, _ Params) ([]record.Raw, error) {
	records, err := f.Backend.ListSecondary(ctx, f.Collection, nil)
	if err != nil {
		return nil, wrap(f.Collection, err)
	}
	return nonNil(records), nil
}

// Compile-time interface checks.
var (
	_ Fetcher = (*ClientFilteredFetch)(nil)
	_ Fetcher = (*ServerFilteredFetch)(nil)
	_ Fetcher = (*SecondaryFetch)(nil)
)
