package api

import "github.com/starford/eduops/internal/view"

// ViewInfo describes one view in GET /api/views.
type ViewInfo struct {
	Name     string        `json:"name" example:"licenses" validate:"required"`
	Strategy view.Strategy `json:"strategy" example:"client_filtered" validate:"required"`
	Filters  []string      `json:"filters" validate:"required"`
	SortKeys []string      `json:"sort_keys" validate:"required"`
	Epoch    uint64        `json:"epoch" example:"3"`
}

// ViewListResponse wraps the view catalogue.
type ViewListResponse struct {
	Views []ViewInfo `json:"views" validate:"required"`
}

// RefreshResponse is returned after a refresh started a new epoch.
type RefreshResponse struct {
	View  string `json:"view" example:"licenses" validate:"required"`
	Epoch uint64 `json:"epoch" example:"4" validate:"required"`
	Error string `json:"error,omitempty"`
}

// PageResponse is one page of a view (aliased from the view layer).
type PageResponse = view.Result
