// Package applicants is the scholarship applications view.
package applicants

import (
	"context"
	"strings"
	"time"

	"github.com/starford/eduops/internal/dataset"
	"github.com/starford/eduops/internal/pipeline"
	"github.com/starford/eduops/internal/record"
	"github.com/starford/eduops/internal/source"
	"github.com/starford/eduops/internal/view"
)

// Name is the view name.
const Name = "applicants"

// Backend collections.
const (
	CollectionApplications = "scholarship-applications"
	CollectionScholarships = "scholarships"
	CollectionContacts     = "contacts"
)

// Statuses in tier order. Anything else ranks with submitted.
const (
	StatusAwarded     = "awarded"
	StatusShortlisted = "shortlisted"
	StatusUnderReview = "under_review"
	StatusSubmitted   = "submitted"
)

var tiers = map[string]int{
	StatusAwarded:     0,
	StatusShortlisted: 1,
	StatusUnderReview: 2,
	StatusSubmitted:   3,
}

// Applicant is an enriched scholarship application.
type Applicant struct {
	ID              string     `json:"id"`
	ContactID       string     `json:"contact_id"`
	DisplayName     string     `json:"display_name"`
	Email           string     `json:"email"`
	Phone           string     `json:"phone"`
	ScholarshipID   string     `json:"scholarship_id"`
	ScholarshipName string     `json:"scholarship_name"`
	Amount          *float64   `json:"amount"`
	Status          string     `json:"status"`
	StatusTier      int        `json:"status_tier"`
	Score           *float64   `json:"score"`
	GPA             *float64   `json:"gpa"`
	Nationality     string     `json:"nationality"`
	Flag            string     `json:"flag"`
	SubmittedAt     *time.Time `json:"submitted_at"`
}

// Enrich joins applications with scholarships keyed by id and contacts
// keyed by contact id.
func Enrich(apps []record.Raw, scholarships, contacts map[string]record.Raw) []Applicant {
	out := make([]Applicant, 0, len(apps))
	for _, r := range apps {
		contactID := r.String("contact_id")
		contact := contacts[contactID]
		schID := record.FirstString(r.String("scholarship_id"), r.Sub("scholarship").String("id"))
		sch := scholarships[schID]

		a := Applicant{
			ID:        r.String("id"),
			ContactID: contactID,
			DisplayName: record.FirstString(
				contact.String("name"),
				r.String("full_name"),
				record.FullName(r.String("first_name"), r.String("last_name")),
				contact.String("email"),
				r.String("email"),
			),
			Email:         record.FirstString(contact.String("email"), r.String("email")),
			Phone:         record.FirstString(contact.String("phone"), r.String("phone")),
			ScholarshipID: schID,
			ScholarshipName: record.FirstString(
				sch.String("name"),
				r.Sub("scholarship").String("name"),
				r.String("scholarship_name"),
			),
			Amount:      record.FirstPtr(sch.FloatPtr("amount"), r.FloatPtr("amount")),
			Status:      strings.ToLower(record.FirstString(r.String("status"), StatusSubmitted)),
			Score:       record.FirstPtr(r.FloatPtr("score"), contact.FloatPtr("test_score")),
			GPA:         record.FirstPtr(r.FloatPtr("gpa"), contact.FloatPtr("gpa")),
			Nationality: strings.ToUpper(record.FirstString(r.String("nationality"), contact.String("nationality"))),
			SubmittedAt: record.FirstPtr(r.Time("submitted_at"), r.Time("created_at")),
		}
		a.Flag = record.FlagEmoji(a.Nationality)
		a.StatusTier = tiers[StatusSubmitted]
		if t, ok := tiers[a.Status]; ok {
			a.StatusTier = t
		}
		out = append(out, a)
	}
	return out
}

func enrichSnapshot(s dataset.Snapshot) []Applicant {
	return Enrich(s.Primary, s.Lookup(CollectionScholarships, "id"), s.Details)
}

func filters(p source.Params) ([]pipeline.Predicate[Applicant], error) {
	st, err := view.ParseEnum(p, "status", StatusAwarded, StatusShortlisted, StatusUnderReview, StatusSubmitted)
	if err != nil {
		return nil, err
	}
	gpa, err := view.ParseRange(p, "gpa_min", "gpa_max", 0, 4)
	if err != nil {
		return nil, err
	}
	score, err := view.ParseRange(p, "score_min", "score_max", 0, 100)
	if err != nil {
		return nil, err
	}
	nat := view.ParseList(p, "nationality")
	for i, n := range nat {
		nat[i] = strings.ToUpper(n)
	}
	return []pipeline.Predicate[Applicant]{
		pipeline.Equal(st, func(a Applicant) string { return a.Status }),
		pipeline.Search(p["q"], func(a Applicant) []string {
			return []string{a.DisplayName, a.Email, a.Phone, a.ID}
		}),
		pipeline.InRange(gpa, func(a Applicant) *float64 { return a.GPA }),
		pipeline.InRange(score, func(a Applicant) *float64 { return a.Score }),
		pipeline.InSet(nat, func(a Applicant) string { return a.Nationality }),
	}, nil
}

func score(a Applicant) pipeline.Value { return pipeline.Number(a.Score) }

var sortKeys = map[string]pipeline.Key[Applicant]{
	"name":         func(a Applicant) pipeline.Value { return pipeline.Text(a.DisplayName) },
	"email":        func(a Applicant) pipeline.Value { return pipeline.Text(a.Email) },
	"scholarship":  func(a Applicant) pipeline.Value { return pipeline.Text(a.ScholarshipName) },
	"score":        score,
	"gpa":          func(a Applicant) pipeline.Value { return pipeline.Number(a.GPA) },
	"status":       func(a Applicant) pipeline.Value { return pipeline.Int(&a.StatusTier) },
	"submitted_at": func(a Applicant) pipeline.Value { return pipeline.Time(a.SubmittedAt) },
}

var columns = []view.Column[Applicant]{
	{Field: "applicant_id", Value: func(a Applicant) any { return a.ID }},
	{Field: "name", Value: func(a Applicant) any { return a.DisplayName }},
	{Field: "email", Value: func(a Applicant) any { return a.Email }},
	{Field: "phone", Value: func(a Applicant) any { return a.Phone }},
	{Field: "scholarship", Value: func(a Applicant) any { return a.ScholarshipName }},
	{Field: "amount", Value: func(a Applicant) any { return a.Amount }},
	{Field: "status", Value: func(a Applicant) any { return a.Status }},
	{Field: "score", Value: func(a Applicant) any { return a.Score }},
	{Field: "gpa", Value: func(a Applicant) any { return a.GPA }},
	{Field: "nationality", Value: func(a Applicant) any { return a.Nationality }},
	{Field: "submitted_at", Value: func(a Applicant) any { return a.SubmittedAt }},
}

func detailKeys(rows []Applicant) []string {
	keys := make([]string, 0, len(rows))
	for _, a := range rows {
		if a.ContactID != "" {
			keys = append(keys, a.ContactID)
		}
	}
	return keys
}

// Definition returns the view definition reading contacts from backend.
func Definition(backend source.Backend) view.Definition[Applicant] {
	return view.Definition[Applicant]{
		Name:         Name,
		Strategy:     view.ClientFiltered,
		FilterParams: []string{"status", "q", "gpa_min", "gpa_max", "score_min", "score_max", "nationality"},
		Enrich:       enrichSnapshot,
		Filters:      filters,
		SortKeys:     sortKeys,
		DefaultSort:  pipeline.TierSort(func(a Applicant) int { return a.StatusTier }, tiers[StatusAwarded], score),
		Columns:      columns,
		DetailKeys:   detailKeys,
		Detail: func(ctx context.Context, key string) (record.Raw, error) {
			return backend.GetDetail(ctx, CollectionContacts, key)
		},
	}
}

// New builds the applicants table.
func New(env view.Env) *view.Table[Applicant] {
	ds := env.Dataset(Name,
		&source.ClientFilteredFetch{Backend: env.Backend, Collection: CollectionApplications, PageSize: env.BulkPageSize},
		&source.SecondaryFetch{Backend: env.Backend, Collection: CollectionScholarships},
	)
	return view.NewTable(Definition(env.Backend), ds, env.Options)
}
