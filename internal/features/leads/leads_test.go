package leads

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/eduops/internal/record"
	"github.com/starford/eduops/internal/source"
	"github.com/starford/eduops/internal/view"
)

func TestEnrich(t *testing.T) {
	programs := record.Index([]record.Raw{{"id": "p1", "name": "MBA"}}, "id")
	got := Enrich([]record.Raw{
		{"id": "1", "first_name": "Priya", "last_name": "Sharma", "program_id": "p1", "status": "Enrolled", "country": "in"},
		{"id": "2", "name": "James Chen", "program_name": "Flat Program"},
		{"id": "3", "email": "only@mail.com", "program": map[string]any{"id": "p1"}, "status": "lost"},
	}, programs)
	require.Len(t, got, 3)

	assert.Equal(t, "Priya Sharma", got[0].DisplayName)
	assert.Equal(t, "MBA", got[0].ProgramName)
	assert.Equal(t, StatusEnrolled, got[0].Status)
	assert.Equal(t, 0, got[0].StatusTier)
	assert.Equal(t, "🇮🇳", got[0].Flag)

	assert.Equal(t, "James Chen", got[1].DisplayName)
	assert.Equal(t, "Flat Program", got[1].ProgramName)
	assert.Equal(t, StatusNew, got[1].Status)
	assert.Equal(t, 3, got[1].StatusTier)

	assert.Equal(t, "only@mail.com", got[2].DisplayName)
	assert.Equal(t, "MBA", got[2].ProgramName)
	assert.Equal(t, 3, got[2].StatusTier)
}

func seed() *source.Static {
	return source.NewStatic().
		Set(CollectionLeads, "id",
			record.Raw{"id": "1", "name": "Old Enrolled", "status": "enrolled", "created_at": "2024-01-01", "country": "US", "source": "fair"},
			record.Raw{"id": "2", "name": "Applied", "status": "applied", "created_at": "2024-06-01", "country": "IN", "source": "web"},
			record.Raw{"id": "3", "name": "New Enrolled", "status": "enrolled", "created_at": "2024-05-01", "country": "IN", "source": "web"},
			record.Raw{"id": "4", "name": "Fresh", "status": "new", "created_at": "2024-07-01", "country": "BR", "source": "web"},
		).
		Set(CollectionPrograms, "id")
}

func ids(ls []Lead) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.ID
	}
	return out
}

func TestTable_DefaultSortNewestEnrolledFirst(t *testing.T) {
	tbl := New(view.Env{Backend: seed()})
	p, err := tbl.List(context.Background(), view.Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "1", "2", "4"}, ids(p.Items))
}

func TestTable_ServerParamsRefetch(t *testing.T) {
	backend := seed()
	tbl := New(view.Env{Backend: backend})
	ctx := context.Background()

	p, err := tbl.List(ctx, view.Query{Filters: source.Params{"status": "enrolled"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "1"}, ids(p.Items))
	assert.Equal(t, 2, p.Total)
	assert.Equal(t, 1, backend.Calls(CollectionLeads))

	// Local filters re-derive from the fetched set.
	p, err = tbl.List(ctx, view.Query{Filters: source.Params{"status": "enrolled", "country": "us"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(p.Items))
	assert.Equal(t, 1, backend.Calls(CollectionLeads))
	epoch := p.Epoch

	p, err = tbl.List(ctx, view.Query{Filters: source.Params{"status": "all", "source": "web"}})
	require.NoError(t, err)
	assert.Equal(t, 2, backend.Calls(CollectionLeads))
	assert.Greater(t, p.Epoch, epoch)
	assert.Equal(t, []string{"3", "2", "4"}, ids(p.Items))
}

func TestTable_ServerSearch(t *testing.T) {
	tbl := New(view.Env{Backend: seed()})
	p, err := tbl.List(context.Background(), view.Query{Filters: source.Params{"q": "enrolled"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "1"}, ids(p.Items))
	assert.Equal(t, view.ServerFiltered, tbl.Strategy())
}
