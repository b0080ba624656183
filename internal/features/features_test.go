package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/eduops/internal/apperr"
	"github.com/starford/eduops/internal/source"
	"github.com/starford/eduops/internal/view"
)

func TestRegistry(t *testing.T) {
	reg := Registry(view.Env{Backend: source.NewStatic()})
	names := make([]string, 0, 3)
	for _, v := range reg.All() {
		names = append(names, v.Name())
	}
	assert.Equal(t, []string{"licenses", "leads", "applicants"}, names)

	v, err := reg.Get("leads")
	require.NoError(t, err)
	assert.Equal(t, view.ServerFiltered, v.Strategy())

	_, err = reg.Get("events")
	assert.ErrorIs(t, err, apperr.ErrUnknownView)
}

func TestCollections(t *testing.T) {
	got := Collections()
	assert.Contains(t, got, "stats/top-performers")
	assert.NotContains(t, got, "allocations/details")
	assert.Len(t, got, 7)
}
