package source

import (
	"context"
	"strings"
	"sync"

	"github.com/starford/eduops/internal/record"
)

// Static is an in-memory Backend. It applies server-side params as exact
// field matches, except "q" which is a case-insensitive substring match over
// every string field. It is safe for concurrent use.
type Static struct {
	mu          sync.Mutex
	collections map[string][]record.Raw
	keys        map[string]string
	failures    map[string]error
	calls       map[string]int

	// Before, when set, runs before every call with the collection name
	// (and key for detail look-ups). Tests use it to block or reorder calls.
	Before func(ctx context.Context, collection, key string)
}

// NewStatic returns an empty Static backend.
func NewStatic() *Static {
	return &Static{
		collections: map[string][]record.Raw{},
		keys:        map[string]string{},
		failures:    map[string]error{},
		calls:       map[string]int{},
	}
}

// Set stores the records of collection; keyField names the natural key used
// by GetDetail and ListSecondary id filtering.
func (s *Static) Set(collection, keyField string, records ...record.Raw) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection] = records
	s.keys[collection] = keyField
	return s
}

// Fail makes every call for target fail with err. target is a collection
// name, or "collection/key" for a single detail look-up. A nil err clears it.
func (s *Static) Fail(target string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, target)
		return
	}
	s.failures[target] = err
}

// Calls returns how often target was requested.
func (s *Static) Calls(target string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[target]
}

func (s *Static) begin(ctx context.Context, collection, key string) ([]record.Raw, string, error) {
	if s.Before != nil {
		s.Before(ctx, collection, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	target := collection
	if key != "" {
		target = collection + "/" + key
	}
	s.calls[target]++
	if err, ok := s.failures[target]; ok {
		return nil, "", err
	}
	if err, ok := s.failures[collection]; ok {
		return nil, "", err
	}
	return append([]record.Raw{}, s.collections[collection]...), s.keys[collection], nil
}

// ListPrimary implements Backend.
func (s *Static) ListPrimary(ctx context.Context, collection string, params Params) ([]record.Raw, error) {
	all, _, err := s.begin(ctx, collection, "")
	if err != nil {
		return nil, err
	}
	out := make([]record.Raw, 0, len(all))
	for _, r := range all {
		if matchParams(r, params) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListSecondary implements Backend.
func (s *Static) ListSecondary(ctx context.Context, collection string, ids []string) ([]record.Raw, error) {
	all, keyField, err := s.begin(ctx, collection, "")
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return all, nil
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]record.Raw, 0, len(ids))
	for _, r := range all {
		if _, ok := want[r.String(keyField)]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetDetail implements Backend.
func (s *Static) GetDetail(ctx context.Context, collection, key string) (record.Raw, error) {
	all, keyField, err := s.begin(ctx, collection, key)
	if err != nil {
		return nil, err
	}
	for _, r := range all {
		if r.String(keyField) == key {
			return r, nil
		}
	}
	return nil, nil
}

func matchParams(r record.Raw, params Params) bool {
	for k, v := range params {
		switch k {
		case "page", "page_size":
			continue
		case "q":
			if !containsAny(r, v) {
				return false
			}
		default:
			if r.String(k) != v {
				return false
			}
		}
	}
	return true
}

func containsAny(r record.Raw, q string) bool {
	q = strings.ToLower(q)
	for k := range r {
		if strings.Contains(strings.ToLower(r.String(k)), q) {
			return true
		}
	}
	return false
}

var _ Backend = (*Static)(nil)
