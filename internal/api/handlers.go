package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/eduops/internal/export"
	"github.com/starford/eduops/internal/view"
)

// Handler holds API route handlers.
type Handler struct {
	reg *view.Registry
	now func() time.Time
}

// NewHandler creates a new Handler.
func NewHandler(reg *view.Registry) *Handler {
	return &Handler{reg: reg, now: time.Now}
}

func (h *Handler) view(w http.ResponseWriter, r *http.Request) (view.View, bool) {
	v, err := h.reg.Get(chi.URLParam(r, "view"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return v, true
}

// ListViews handles GET /api/views.
//
//	@Summary		List the available views
//	@Tags			views
//	@Produce		json
//	@Success		200	{object}	ViewListResponse
//	@Security		BearerAuth
//	@Router			/views [get]
func (h *Handler) ListViews(w http.ResponseWriter, _ *http.Request) {
	all := h.reg.All()
	out := ViewListResponse{Views: make([]ViewInfo, 0, len(all))}
	for _, v := range all {
		out.Views = append(out.Views, ViewInfo{
			Name:     v.Name(),
			Strategy: v.Strategy(),
			Filters:  v.FilterParams(),
			SortKeys: v.SortKeys(),
			Epoch:    v.Epoch(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// QueryView handles GET /api/views/{view}.
//
//	@Summary		Filter, sort and paginate a view
//	@Tags			views
//	@Produce		json
//	@Param			view		path		string	true	"View name"	Enums(licenses, leads, applicants)
//	@Param			sort		query		string	false	"Sort key"
//	@Param			dir			query		string	false	"Sort direction"	Enums(asc, desc)
//	@Param			page		query		int		false	"1-based page"
//	@Param			page_size	query		int		false	"Page size"
//	@Success		200			{object}	PageResponse
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/views/{view} [get]
func (h *Handler) QueryView(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	q, err := view.ParseQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := v.Query(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// RefreshView handles POST /api/views/{view}/refresh.
//
//	@Summary		Discard cached data and reload every source of a view
//	@Tags			views
//	@Produce		json
//	@Param			view	path		string	true	"View name"
//	@Success		200		{object}	RefreshResponse
//	@Failure		404		{object}	errResponse
//	@Failure		502		{object}	RefreshResponse
//	@Security		BearerAuth
//	@Router			/views/{view}/refresh [post]
func (h *Handler) RefreshView(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	epoch, err := v.Refresh(r.Context())
	resp := RefreshResponse{View: v.Name(), Epoch: epoch}
	if err != nil {
		slog.Warn("refresh failed", slog.String("view", v.Name()), slog.String("error", err.Error()))
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ExportView handles GET /api/views/{view}/export.
//
//	@Summary		Download the filtered and sorted view as a spreadsheet
//	@Tags			views
//	@Produce		application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
//	@Param			view	path	string	true	"View name"
//	@Success		200
//	@Failure		400	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/views/{view}/export [get]
func (h *Handler) ExportView(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	q, err := view.ParseQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	sh, err := v.Sheet(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", export.Filename(v.Name(), h.now())))
	w.WriteHeader(http.StatusOK)
	if err := export.Write(w, sh); err != nil {
		slog.Error("export failed", slog.String("view", v.Name()), slog.String("error", err.Error()))
	}
}
