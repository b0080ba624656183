// Package pipeline holds the generic stages shared by every list view:
// predicate filtering, sorting and pagination over enriched records.
//
// All stages are pure. They never mutate their input and always return a
// fresh, non-nil slice.
package pipeline

import "strings"

// All is the sentinel value that disables a category filter.
const All = "all"

// Predicate reports whether a record passes one filter. A nil Predicate is
// a filter that is not applied.
type Predicate[T any] func(T) bool

// Filter returns the records that pass every predicate. Predicates are
// combined with AND and, being pure, commute: application order never
// changes the result.
func Filter[T any](records []T, preds ...Predicate[T]) []T {
	active := make([]Predicate[T], 0, len(preds))
	for _, p := range preds {
		if p != nil {
			active = append(active, p)
		}
	}
	out := make([]T, 0, len(records))
next:
	for _, r := range records {
		for _, p := range active {
			if !p(r) {
				continue next
			}
		}
		out = append(out, r)
	}
	return out
}

// Equal matches records whose field equals want exactly. An empty want or
// the All sentinel disables the filter.
func Equal[T any](want string, get func(T) string) Predicate[T] {
	if want == "" || want == All {
		return nil
	}
	return func(r T) bool { return get(r) == want }
}

// Search matches records where any projected field contains query,
// ignoring case. A blank query disables the filter; empty fields simply
// never match.
func Search[T any](query string, project func(T) []string) Predicate[T] {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	return func(r T) bool {
		for _, field := range project(r) {
			if field != "" && strings.Contains(strings.ToLower(field), q) {
				return true
			}
		}
		return false
	}
}

// Range is an inclusive numeric filter [Min, Max] over a field whose full
// domain is [Floor, Ceil].
type Range struct {
	Min   float64
	Max   float64
	Floor float64
	Ceil  float64
}

// FullRange returns a Range selecting the whole domain.
func FullRange(floor, ceil float64) Range {
	return Range{Min: floor, Max: ceil, Floor: floor, Ceil: ceil}
}

// Active reports whether the selection is narrower than the domain.
func (r Range) Active() bool {
	return r.Min > r.Floor || r.Max < r.Ceil
}

// InRange matches records whose value lies within r. While r spans its full
// domain the filter is disabled, so records without a value pass; once it
// is narrowed they are excluded.
func InRange[T any](r Range, get func(T) *float64) Predicate[T] {
	if !r.Active() {
		return nil
	}
	return func(rec T) bool {
		v := get(rec)
		return v != nil && *v >= r.Min && *v <= r.Max
	}
}

// InSet matches records whose field is one of selected. An empty selection
// means no restriction.
func InSet[T any](selected []string, get func(T) string) Predicate[T] {
	if len(selected) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(selected))
	for _, s := range selected {
		set[s] = struct{}{}
	}
	return func(r T) bool {
		_, ok := set[get(r)]
		return ok
	}
}
