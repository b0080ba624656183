package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rowKeys() map[string]Key[row] {
	return map[string]Key[row]{
		"name":  func(r row) Value { return Text(r.Name) },
		"score": func(r row) Value { return Number(r.Score) },
	}
}

func TestToggle_ThreeState(t *testing.T) {
	var s SortState
	require.True(t, s.IsDefault())

	s = s.Toggle("score")
	assert.Equal(t, SortState{Key: "score", Direction: Desc}, s)
	s = s.Toggle("score")
	assert.Equal(t, SortState{Key: "score", Direction: Asc}, s)
	s = s.Toggle("score")
	assert.True(t, s.IsDefault())
}

func TestToggle_OtherKeyStartsDescending(t *testing.T) {
	s := SortState{Key: "score", Direction: Asc}.Toggle("name")
	assert.Equal(t, SortState{Key: "name", Direction: Desc}, s)
}

func TestSort_MissingLastBothDirections(t *testing.T) {
	desc := Sort(sample(), SortState{Key: "score", Direction: Desc}, rowKeys(), nil)
	assert.Equal(t, []string{"1", "2", "5", "4", "3"}, ids(desc))

	asc := Sort(sample(), SortState{Key: "score", Direction: Asc}, rowKeys(), nil)
	assert.Equal(t, []string{"4", "5", "2", "1", "3"}, ids(asc))
}

func TestSort_TextCollatedMissingLast(t *testing.T) {
	asc := Sort(sample(), SortState{Key: "name", Direction: Asc}, rowKeys(), nil)
	assert.Equal(t, []string{"5", "2", "1", "3", "4"}, ids(asc))

	desc := Sort(sample(), SortState{Key: "name", Direction: Desc}, rowKeys(), nil)
	assert.Equal(t, []string{"3", "1", "2", "5", "4"}, ids(desc))
}

func TestSort_DoesNotMutate(t *testing.T) {
	in := sample()
	_ = Sort(in, SortState{Key: "score", Direction: Asc}, rowKeys(), nil)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids(in))
}

func TestSort_DefaultAndUnknownKeyUseFallback(t *testing.T) {
	reverse := func(rs []row) []row {
		for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
			rs[i], rs[j] = rs[j], rs[i]
		}
		return rs
	}
	assert.Equal(t, []string{"5", "4", "3", "2", "1"}, ids(Sort(sample(), SortState{}, rowKeys(), reverse)))
	assert.Equal(t, []string{"5", "4", "3", "2", "1"}, ids(Sort(sample(), SortState{Key: "bogus", Direction: Asc}, rowKeys(), reverse)))
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids(Sort(sample(), SortState{}, rowKeys(), nil)))
}

func tierOf(r row) int {
	switch r.Status {
	case "used":
		return 0
	case "allocated":
		return 2
	default:
		return 3
	}
}

func TestTierSort_TopTierByScore(t *testing.T) {
	def := TierSort(tierOf, 0, func(r row) Value { return Number(r.Score) })
	got := def(sample())
	// used by score desc (missing last), then allocated, then available.
	assert.Equal(t, []string{"1", "5", "3", "2", "4"}, ids(got))
}

func TestTierSort_StableOutsideTopTier(t *testing.T) {
	rows := []row{
		{ID: "a", Status: "available", Score: ptr(10)},
		{ID: "b", Status: "allocated", Score: ptr(99)},
		{ID: "c", Status: "available", Score: ptr(90)},
		{ID: "d", Status: "allocated", Score: ptr(1)},
		{ID: "e", Status: "available", Score: nil},
	}
	got := TierSort(tierOf, 0, func(r row) Value { return Number(r.Score) })(rows)
	assert.Equal(t, []string{"b", "d", "a", "c", "e"}, ids(got))
	assert.Equal(t, "a", rows[0].ID, "input untouched")
}
