// Package leads is the profile leads view. Status, program and search
// filters are applied by the backend; country and source are filtered
// locally.
package leads

import (
	"strings"
	"time"

	"github.com/starford/eduops/internal/dataset"
	"github.com/starford/eduops/internal/pipeline"
	"github.com/starford/eduops/internal/record"
	"github.com/starford/eduops/internal/source"
	"github.com/starford/eduops/internal/view"
)

// Name is the view name.
const Name = "leads"

// Backend collections.
const (
	CollectionLeads    = "leads"
	CollectionPrograms = "programs"
)

// Lead statuses with a tier of their own.
const (
	StatusEnrolled  = "enrolled"
	StatusApplied   = "applied"
	StatusContacted = "contacted"
	StatusNew       = "new"
)

const tierOther = 3

var tiers = map[string]int{
	StatusEnrolled:  0,
	StatusApplied:   1,
	StatusContacted: 2,
}

// ServerParams are forwarded to the leads endpoint.
var ServerParams = []string{"status", "program_id", "q"}

// Lead is an enriched lead row.
type Lead struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone"`
	ProgramID   string     `json:"program_id"`
	ProgramName string     `json:"program_name"`
	Status      string     `json:"status"`
	StatusTier  int        `json:"status_tier"`
	Source      string     `json:"source"`
	Country     string     `json:"country"`
	Flag        string     `json:"flag"`
	CreatedAt   *time.Time `json:"created_at"`
}

// Enrich joins leads with programs keyed by id.
func Enrich(leads []record.Raw, programs map[string]record.Raw) []Lead {
	out := make([]Lead, 0, len(leads))
	for _, r := range leads {
		programID := record.FirstString(r.String("program_id"), r.Sub("program").String("id"))
		l := Lead{
			ID: r.String("id"),
			DisplayName: record.FirstString(
				record.FullName(r.String("first_name"), r.String("last_name")),
				r.String("name"),
				r.String("email"),
			),
			Email:       r.String("email"),
			Phone:       r.String("phone"),
			ProgramID:   programID,
			ProgramName: record.FirstString(programs[programID].String("name"), r.String("program_name")),
			Status:      strings.ToLower(record.FirstString(r.String("status"), StatusNew)),
			Source:      r.String("source"),
			Country:     strings.ToUpper(r.String("country")),
			CreatedAt:   r.Time("created_at"),
		}
		l.Flag = record.FlagEmoji(l.Country)
		l.StatusTier = tierOther
		if t, ok := tiers[l.Status]; ok {
			l.StatusTier = t
		}
		out = append(out, l)
	}
	return out
}

func enrichSnapshot(s dataset.Snapshot) []Lead {
	return Enrich(s.Primary, s.Lookup(CollectionPrograms, "id"))
}

// filters builds the local predicates. Server params are already applied
// to the fetched set.
func filters(p source.Params) ([]pipeline.Predicate[Lead], error) {
	countries := view.ParseList(p, "country")
	for i, c := range countries {
		countries[i] = strings.ToUpper(c)
	}
	return []pipeline.Predicate[Lead]{
		pipeline.InSet(countries, func(l Lead) string { return l.Country }),
		pipeline.InSet(view.ParseList(p, "source"), func(l Lead) string { return l.Source }),
	}, nil
}

func createdAt(l Lead) pipeline.Value { return pipeline.Time(l.CreatedAt) }

var sortKeys = map[string]pipeline.Key[Lead]{
	"name":       func(l Lead) pipeline.Value { return pipeline.Text(l.DisplayName) },
	"email":      func(l Lead) pipeline.Value { return pipeline.Text(l.Email) },
	"program":    func(l Lead) pipeline.Value { return pipeline.Text(l.ProgramName) },
	"status":     func(l Lead) pipeline.Value { return pipeline.Int(&l.StatusTier) },
	"created_at": createdAt,
}

var columns = []view.Column[Lead]{
	{Field: "name", Value: func(l Lead) any { return l.DisplayName }},
	{Field: "email", Value: func(l Lead) any { return l.Email }},
	{Field: "phone", Value: func(l Lead) any { return l.Phone }},
	{Field: "program", Value: func(l Lead) any { return l.ProgramName }},
	{Field: "status", Value: func(l Lead) any { return l.Status }},
	{Field: "source", Value: func(l Lead) any { return l.Source }},
	{Field: "country", Value: func(l Lead) any { return l.Country }},
	{Field: "created_at", Value: func(l Lead) any { return l.CreatedAt }},
}

// Definition returns the view definition.
func Definition() view.Definition[Lead] {
	return view.Definition[Lead]{
		Name:         Name,
		Strategy:     view.ServerFiltered,
		ServerParams: ServerParams,
		FilterParams: append(append([]string{}, ServerParams...), "country", "source"),
		Enrich:       enrichSnapshot,
		Filters:      filters,
		SortKeys:     sortKeys,
		DefaultSort:  pipeline.TierSort(func(l Lead) int { return l.StatusTier }, tiers[StatusEnrolled], createdAt),
		Columns:      columns,
	}
}

// New builds the leads table.
func New(env view.Env) *view.Table[Lead] {
	ds := env.Dataset(Name,
		&source.ServerFilteredFetch{Backend: env.Backend, Collection: CollectionLeads, Allowed: ServerParams},
		&source.SecondaryFetch{Backend: env.Backend, Collection: CollectionPrograms},
	)
	return view.NewTable(Definition(), ds, env.Options)
}
