package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawAccessors_MissingKeysDefault(t *testing.T) {
	var r Raw
	assert.Equal(t, "", r.String("email"))
	assert.Nil(t, r.FloatPtr("score"))
	assert.False(t, r.Bool("is_used"))
	assert.Nil(t, r.Sub("student"))
	assert.Equal(t, "", r.Sub("student").String("email"))
	assert.Nil(t, r.Time("created_at"))
}

func TestRawAccessors_Conversions(t *testing.T) {
	r := Raw{
		"name":    "  Priya  ",
		"score":   "87.5",
		"count":   float64(3),
		"used":    "yes",
		"flag":    float64(0),
		"student": map[string]any{"email": "z@y.com"},
		"created": "2024-03-01",
		"updated": "2024-03-01T10:00:00Z",
		"id":      float64(42),
	}

	assert.Equal(t, "Priya", r.String("name"))
	assert.Equal(t, "42", r.String("id"))

	score := r.FloatPtr("score")
	require.NotNil(t, score)
	assert.InDelta(t, 87.5, *score, 1e-9)

	count := r.IntPtr("count")
	require.NotNil(t, count)
	assert.Equal(t, 3, *count)

	assert.True(t, r.Bool("used"))
	assert.False(t, r.Bool("flag"))
	assert.Equal(t, "z@y.com", r.Sub("student").String("email"))

	created := r.Time("created")
	require.NotNil(t, created)
	assert.Equal(t, 2024, created.Year())
	require.NotNil(t, r.Time("updated"))
}

func TestRawAccessors_WrongTypes(t *testing.T) {
	r := Raw{"student": "not-an-object", "score": map[string]any{}, "name": []any{"x"}}
	assert.Nil(t, r.Sub("student"))
	assert.Nil(t, r.FloatPtr("score"))
	assert.Equal(t, "", r.String("name"))
}

func TestIndex_FirstWinsAndSkipsEmptyKeys(t *testing.T) {
	idx := Index([]Raw{
		{"license_no": "A", "n": float64(1)},
		{"license_no": "A", "n": float64(2)},
		{"n": float64(3)},
		{"license_no": "B"},
	}, "license_no")

	require.Len(t, idx, 2)
	assert.Equal(t, "1", idx["A"].String("n"))
	_, ok := idx["B"]
	assert.True(t, ok)
}

func TestDecode_Envelopes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bare array", `[{"id":1},{"id":2}]`, 2},
		{"data envelope", `{"data":[{"id":1}],"total":1}`, 1},
		{"results envelope", `{"results":[{"id":1},{"id":2},{"id":3}]}`, 3},
		{"nested page", `{"data":{"items":[{"id":1}],"page":1}}`, 1},
		{"null", `null`, 0},
		{"no records", `{"total":0}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.body))
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestDecodeOne_UnwrapsData(t *testing.T) {
	r, err := DecodeOne([]byte(`{"data":{"tests_taken":4}}`))
	require.NoError(t, err)
	assert.Equal(t, "4", r.String("tests_taken"))

	r, err = DecodeOne([]byte(`{"tests_taken":5}`))
	require.NoError(t, err)
	assert.Equal(t, "5", r.String("tests_taken"))
}
