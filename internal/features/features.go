// Package features registers the dashboard list views.
package features

import (
	"github.com/starford/eduops/internal/features/applicants"
	"github.com/starford/eduops/internal/features/leads"
	"github.com/starford/eduops/internal/features/licenses"
	"github.com/starford/eduops/internal/view"
)

// Registry builds every view over env.
func Registry(env view.Env) *view.Registry {
	return view.NewRegistry(
		licenses.New(env),
		leads.New(env),
		applicants.New(env),
	)
}

// Collections lists the listable backend collections the views read.
// Detail collections are fetched one key at a time and are not included.
func Collections() []string {
	return []string{
		licenses.CollectionLicenses,
		licenses.CollectionAllocations,
		licenses.CollectionTopPerformers,
		leads.CollectionLeads,
		leads.CollectionPrograms,
		applicants.CollectionApplications,
		applicants.CollectionScholarships,
	}
}
