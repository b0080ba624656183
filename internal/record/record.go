// Package record provides schemaless access to upstream JSON documents.
//
// Every read goes through a get-or-default accessor so that a missing,
// renamed or mistyped backend field degrades to a zero value instead of
// failing the view.
package record

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Raw is a single unprocessed document from one upstream collection.
type Raw map[string]any

// Get returns the value stored under key, or nil.
func (r Raw) Get(key string) any {
	if r == nil {
		return nil
	}
	return r[key]
}

// Has reports whether key is present with a non-nil value.
func (r Raw) Has(key string) bool {
	return r.Get(key) != nil
}

// String returns the value under key rendered as a trimmed string.
// Numbers and booleans are formatted; anything else yields "".
func (r Raw) String(key string) string {
	switch v := r.Get(key).(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Float returns the numeric value under key. Numeric strings are parsed.
func (r Raw) Float(key string) (float64, bool) {
	switch v := r.Get(key).(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// FloatPtr is Float returning nil when the value is absent or not numeric.
func (r Raw) FloatPtr(key string) *float64 {
	f, ok := r.Float(key)
	if !ok {
		return nil
	}
	return &f
}

// IntPtr returns the value under key truncated to an int, or nil.
func (r Raw) IntPtr(key string) *int {
	f, ok := r.Float(key)
	if !ok {
		return nil
	}
	n := int(f)
	return &n
}

// Bool reports whether the value under key is truthy: true, "true", "yes", "1" or a
// non-zero number.
func (r Raw) Bool(key string) bool {
	switch v := r.Get(key).(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1":
			return true
		}
		return false
	default:
		f, ok := r.Float(key)
		return ok && f != 0
	}
}

// Sub returns the nested object under key. A missing or non-object value
// yields a nil Raw, which is safe to read from.
func (r Raw) Sub(key string) Raw {
	switch v := r.Get(key).(type) {
	case map[string]any:
		return Raw(v)
	case Raw:
		return v
	default:
		return nil
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time parses the value under key as a timestamp. RFC 3339, plain dates
// and unix seconds are accepted.
func (r Raw) Time(key string) *time.Time {
	switch v := r.Get(key).(type) {
	case time.Time:
		return &v
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return &t
			}
		}
		return nil
	default:
		f, ok := r.Float(key)
		if !ok || f <= 0 {
			return nil
		}
		t := time.Unix(int64(f), 0).UTC()
		return &t
	}
}

// Index builds a lookup map keyed by the string value of field. Records
// without a key are skipped; the first record wins on duplicates.
func Index(records []Raw, field string) map[string]Raw {
	out := make(map[string]Raw, len(records))
	for _, r := range records {
		k := r.String(field)
		if k == "" {
			continue
		}
		if _, dup := out[k]; dup {
			continue
		}
		out[k] = r
	}
	return out
}

// Decode parses an upstream payload into records. It accepts a bare array
// or an object wrapping the array under one of the common envelope keys.
// A payload with no recognisable records yields an empty, non-nil slice.
func Decode(data []byte) ([]Raw, error) {
	var list []Raw
	if err := json.Unmarshal(data, &list); err == nil {
		return nonNil(list), nil
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	for _, k := range []string{"data", "results", "items", "records"} {
		raw, ok := envelope[k]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &list); err == nil {
			return nonNil(list), nil
		}
		// Paginated APIs nest the page one level deeper: {"data": {"items": [...]}}.
		if inner, err := Decode(raw); err == nil && len(inner) > 0 {
			return inner, nil
		}
	}
	return []Raw{}, nil
}

// DecodeOne parses a single-object payload, unwrapping a "data" envelope.
func DecodeOne(data []byte) (Raw, error) {
	var obj Raw
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	if inner := obj.Sub("data"); inner != nil && len(obj) == 1 {
		return inner, nil
	}
	return obj, nil
}

func nonNil(list []Raw) []Raw {
	if list == nil {
		return []Raw{}
	}
	out := list[:0]
	for _, r := range list {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
