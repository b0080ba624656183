// Package licenses is the visa-prep license view: licenses joined with
// their allocations, top-performer statistics and allocation details.
package licenses

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
const Name = "licenses"

// Backend collections.
const (
	CollectionLicenses      = "licenses"
	CollectionAllocations   = "allocations"
	CollectionTopPerformers = "stats/top-performers"
	CollectionDetails       = "allocations/details"
)

// Statuses in tier order.
const (
	StatusUsed      = "used"
	StatusActivated = "activated"
	StatusAllocated = "allocated"
	StatusAvailable = "available"
)

var tiers = map[string]int{
	StatusUsed:      0,
	StatusActivated: 1,
	StatusAllocated: 2,
	StatusAvailable: 3,
}

// License is an enriched license row.
type License struct {
	LicenseNo        string     `json:"license_no"`
	DisplayName      string     `json:"display_name"`
	AllocEmail       string     `json:"alloc_email"`
	Phone            string     `json:"phone"`
	Country          string     `json:"country"`
	Flag             string     `json:"flag"`
	IsAllocated      bool       `json:"is_allocated"`
	IsActivated      bool       `json:"is_activated"`
	IsUsed           bool       `json:"is_used"`
	Status           string     `json:"status"`
	StatusTier       int        `json:"status_tier"`
	DisplayBestScore *float64   `json:"display_best_score"`
	TestsTaken       *int       `json:"tests_taken"`
	LastActivityAt   *time.Time `json:"last_activity_at"`
	AllocatedAt      *time.Time `json:"allocated_at"`
	CreatedAt        *time.Time `json:"created_at"`
}

func licenseNo(r record.Raw) string {
	return record.FirstString(r.String("license_no"), r.String("license_number"), r.String("id"))
}

// Enrich joins licenses with allocations and top performers, both keyed by
// license number, and with allocation details. Any lookup may be empty.
func Enrich(licenses []record.Raw, allocations, top, details map[string]record.Raw) []License {
	out := make([]License, 0, len(licenses))
	for _, lic := range licenses {
		no := licenseNo(lic)
		alloc, allocated := allocations[no]
		student := alloc.Sub("student")
		perf := top[no]
		det := details[no]

		l := License{
			LicenseNo: no,
			DisplayName: record.FirstString(
				student.String("name"),
				record.FullName(student.String("first_name"), student.String("last_name")),
				lic.String("student_name"),
				perf.String("student_name"),
			),
			AllocEmail:  record.FirstString(student.String("email"), lic.String("email")),
			Phone:       record.FirstString(student.String("phone"), lic.String("phone")),
			Country:     strings.ToUpper(record.FirstString(student.String("country"), lic.String("country"))),
			IsActivated: lic.String("activation_status") == StatusActivated,
			IsUsed:      lic.Bool("is_used") || lic.String("status") == StatusUsed,
			DisplayBestScore: record.FirstPtr(
				lic.FloatPtr("best_score"),
				perf.FloatPtr("best_score"),
				perf.FloatPtr("score"),
			),
			TestsTaken: record.FirstPtr(
				det.IntPtr("tests_taken"),
				perf.IntPtr("tests_taken"),
				lic.IntPtr("tests_taken"),
			),
			LastActivityAt: record.FirstPtr(det.Time("last_activity_at"), perf.Time("last_activity_at")),
			AllocatedAt:    record.FirstPtr(alloc.Time("allocated_at"), lic.Time("allocated_at")),
			CreatedAt:      lic.Time("created_at"),
		}
		l.IsAllocated = lic.String("email") != "" || allocated
		l.Flag = record.FlagEmoji(l.Country)
		l.Status = status(l)
		l.StatusTier = tiers[l.Status]
		out = append(out, l)
	}
	return out
}

// status picks the most advanced state whose flag is set.
func status(l License) string {
	switch {
	case l.IsUsed:
		return StatusUsed
	case l.IsActivated:
		return StatusActivated
	case l.IsAllocated:
		return StatusAllocated
	default:
		return StatusAvailable
	}
}

func enrichSnapshot(s dataset.Snapshot) []License {
	return Enrich(
		s.Primary,
		s.Lookup(CollectionAllocations, "license_no"),
		s.Lookup(CollectionTopPerformers, "license_no"),
		s.Details,
	)
}

func filters(p source.Params) ([]pipeline.Predicate[License], error) {
	st, err := view.ParseEnum(p, "status", StatusUsed, StatusActivated, StatusAllocated, StatusAvailable)
	if err != nil {
		return nil, err
	}
	score, err := view.ParseRange(p, "score_min", "score_max", 0, 100)
	if err != nil {
		return nil, err
	}
	countries := view.ParseList(p, "country")
	for i, c := range countries {
		countries[i] = strings.ToUpper(c)
	}
	return []pipeline.Predicate[License]{
		pipeline.Equal(st, func(l License) string { return l.Status }),
		pipeline.Search(p["q"], func(l License) []string {
			return []string{l.LicenseNo, l.DisplayName, l.AllocEmail, l.Phone}
		}),
		pipeline.InRange(score, func(l License) *float64 { return l.DisplayBestScore }),
		pipeline.InSet(countries, func(l License) string { return l.Country }),
	}, nil
}

func bestScore(l License) pipeline.Value { return pipeline.Number(l.DisplayBestScore) }

var sortKeys = map[string]pipeline.Key[License]{
	"license_no":   func(l License) pipeline.Value { return pipeline.Text(l.LicenseNo) },
	"name":         func(l License) pipeline.Value { return pipeline.Text(l.DisplayName) },
	"email":        func(l License) pipeline.Value { return pipeline.Text(l.AllocEmail) },
	"score":        bestScore,
	"status":       func(l License) pipeline.Value { return pipeline.Int(&l.StatusTier) },
	"allocated_at": func(l License) pipeline.Value { return pipeline.Time(l.AllocatedAt) },
	"created_at":   func(l License) pipeline.Value { return pipeline.Time(l.CreatedAt) },
}

var columns = []view.Column[License]{
	{Field: "license_no", Value: func(l License) any { return l.LicenseNo }},
	{Field: "student_name", Value: func(l License) any { return l.DisplayName }},
	{Field: "email", Value: func(l License) any { return l.AllocEmail }},
	{Field: "phone", Value: func(l License) any { return l.Phone }},
	{Field: "country", Value: func(l License) any { return l.Country }},
	{Field: "status", Value: func(l License) any { return l.Status }},
	{Field: "best_score", Value: func(l License) any { return l.DisplayBestScore }},
	{Field: "tests_taken", Value: func(l License) any { return l.TestsTaken }},
	{Field: "allocated_at", Value: func(l License) any { return l.AllocatedAt }},
	{Field: "last_activity_at", Value: func(l License) any { return l.LastActivityAt }},
}

// detailKeys selects allocated licenses: only those have a student whose
// activity can be looked up.
func detailKeys(rows []License) []string {
	keys := make([]string, 0, len(rows))
	for _, l := range rows {
		if l.IsAllocated && l.LicenseNo != "" {
			keys = append(keys, l.LicenseNo)
		}
	}
	return keys
}

// Definition returns the view definition reading details from backend.
func Definition(backend source.Backend) view.Definition[License] {
	return view.Definition[License]{
		Name:         Name,
		Strategy:     view.ClientFiltered,
		FilterParams: []string{"status", "q", "score_min", "score_max", "country"},
		Enrich:       enrichSnapshot,
		Filters:      filters,
		SortKeys:     sortKeys,
		DefaultSort:  pipeline.TierSort(func(l License) int { return l.StatusTier }, tiers[StatusUsed], bestScore),
		Columns:      columns,
		DetailKeys:   detailKeys,
		Detail: func(ctx context.Context, key string) (record.Raw, error) {
			return backend.GetDetail(ctx, CollectionDetails, key)
		},
	}
}

// New builds the licenses table.
func New(env view.Env) *view.Table[License] {
	ds := env.Dataset(Name,
		&source.ClientFilteredFetch{Backend: env.Backend, Collection: CollectionLicenses, PageSize: env.BulkPageSize},
		&source.SecondaryFetch{Backend: env.Backend, Collection: CollectionAllocations},
		&source.SecondaryFetch{Backend: env.Backend, Collection: CollectionTopPerformers},
	)
	return view.NewTable(Definition(env.Backend), ds, env.Options)
}
