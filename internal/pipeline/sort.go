package pipeline

import (
	"cmp"
	"slices"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Direction is a sort direction.
type Direction string

// Sort directions.
const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// SortState selects the active sort key. An empty Key means the view's
// default comparator applies.
type SortState struct {
	Key       string    `json:"key,omitempty"`
	Direction Direction `json:"direction,omitempty"`
}

// IsDefault reports whether no explicit key is selected.
func (s SortState) IsDefault() bool { return s.Key == "" }

// Toggle cycles the sort on key: unset -> descending -> ascending -> unset.
// Selecting a different key starts again at descending.
func (s SortState) Toggle(key string) SortState {
	if s.Key != key {
		return SortState{Key: key, Direction: Desc}
	}
	if s.Direction == Desc {
		return SortState{Key: key, Direction: Asc}
	}
	return SortState{}
}

type valueKind uint8

const (
	kindMissing valueKind = iota
	kindNumber
	kindText
)

// Value is a sortable field value.
type Value struct {
	kind valueKind
	text string
	num  float64
}

// Missing is a value that always sorts last.
func Missing() Value { return Value{} }

// Text is a string value. The empty string is treated as missing.
func Text(s string) Value {
	if s == "" {
		return Missing()
	}
	return Value{kind: kindText, text: s}
}

// Number is a numeric value; nil is missing.
func Number(f *float64) Value {
	if f == nil {
		return Missing()
	}
	return Value{kind: kindNumber, num: *f}
}

// Int is Number for integer fields.
func Int(n *int) Value {
	if n == nil {
		return Missing()
	}
	return Value{kind: kindNumber, num: float64(*n)}
}

// Time compares timestamps numerically; nil is missing.
func Time(t *time.Time) Value {
	if t == nil || t.IsZero() {
		return Missing()
	}
	return Value{kind: kindNumber, num: float64(t.UnixNano())}
}

// IsMissing reports whether v sorts in the trailing missing group.
func (v Value) IsMissing() bool { return v.kind == kindMissing }

// Key extracts the sort value of one column.
type Key[T any] func(T) Value

// Sort orders records by the key named in state. When state is the default
// or names an unknown key, fallback decides the order (nil keeps the input
// order). Strings compare with an English collator, numbers numerically and
// missing values always come last regardless of direction. The sort is
// stable and never mutates records.
func Sort[T any](records []T, state SortState, keys map[string]Key[T], fallback func([]T) []T) []T {
	out := slices.Clone(records)
	if out == nil {
		out = []T{}
	}
	key, ok := keys[state.Key]
	if state.IsDefault() || !ok {
		if fallback == nil {
			return out
		}
		return fallback(out)
	}
	c := collate.New(language.English)
	desc := state.Direction == Desc
	slices.SortStableFunc(out, func(a, b T) int {
		return compareValues(c, key(a), key(b), desc)
	})
	return out
}

// TierSort builds a default comparator: records are ordered by tier
// ascending, and only records in tier top are additionally ordered by score
// descending (missing scores last). Records in every other tier keep their
// relative input order.
func TierSort[T any](tier func(T) int, top int, score Key[T]) func([]T) []T {
	return func(records []T) []T {
		out := slices.Clone(records)
		if out == nil {
			out = []T{}
		}
		slices.SortStableFunc(out, func(a, b T) int {
			ta, tb := tier(a), tier(b)
			if ta != tb {
				return cmp.Compare(ta, tb)
			}
			if ta != top || score == nil {
				return 0
			}
			return compareValues(nil, score(a), score(b), true)
		})
		return out
	}
}

func compareValues(c *collate.Collator, a, b Value, desc bool) int {
	switch {
	case a.IsMissing() && b.IsMissing():
		return 0
	case a.IsMissing():
		return 1
	case b.IsMissing():
		return -1
	}
	var n int
	switch {
	case a.kind != b.kind:
		n = cmp.Compare(a.kind, b.kind)
	case a.kind == kindNumber:
		n = cmp.Compare(a.num, b.num)
	case c != nil:
		n = c.CompareString(a.text, b.text)
	default:
		n = cmp.Compare(a.text, b.text)
	}
	if desc {
		return -n
	}
	return n
}
