package record

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Placeholder is rendered in place of a missing value.
const Placeholder = "—"

// OrPlaceholder returns s, or Placeholder when s is empty.
func OrPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return Placeholder
	}
	return s
}

// FlagEmoji converts an ISO 3166-1 alpha-2 country code into its flag
// emoji. Anything that is not two ASCII letters yields "".
func FlagEmoji(code string) string {
	code = strings.TrimSpace(code)
	if len(code) != 2 {
		return ""
	}
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		if r < 'A' || r > 'Z' {
			return ""
		}
		b.WriteRune(0x1F1E6 + (r - 'A'))
	}
	return b.String()
}

// HeaderLabel turns a field name into a column header: underscores become
// spaces and the first letter of every word is upper-cased.
// "license_no" -> "License No".
func HeaderLabel(field string) string {
	words := strings.FieldsFunc(field, func(r rune) bool { return r == '_' || unicode.IsSpace(r) })
	return cases.Title(language.English, cases.NoLower).String(strings.Join(words, " "))
}

// FormatDate renders t as "Jan 2, 2006", or Placeholder when t is nil.
func FormatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return Placeholder
	}
	return t.Format("Jan 2, 2006")
}
