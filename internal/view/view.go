// Package view runs the list pipeline of one dashboard view:
// fetch, enrich, filter, sort and paginate.
package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/starford/eduops/internal/apperr"
	"github.com/starford/eduops/internal/dataset"
	"github.com/starford/eduops/internal/detail"
	"github.com/starford/eduops/internal/metrics"
	"github.com/starford/eduops/internal/pipeline"
	"github.com/starford/eduops/internal/record"
	"github.com/starford/eduops/internal/source"
)

// Strategy names how a view filters its primary source.
type Strategy string

// Fetch strategies.
const (
	// ClientFiltered downloads the whole primary collection and filters it
	// locally.
	ClientFiltered Strategy = "client_filtered"
	// ServerFiltered forwards some filters to the backend; changing them
	// starts a new epoch.
	ServerFiltered Strategy = "server_filtered"
)

// Status describes what a list page shows.
type Status string

// Page statuses.
const (
	StatusLoading Status = "loading"
	StatusError   Status = "error"
	StatusEmpty   Status = "empty"
	StatusNoMatch Status = "no_match"
	StatusOK      Status = "ok"
)

// Column is one exported spreadsheet column.
type Column[T any] struct {
	Field string
	Value func(T) any
}

// Definition describes a concrete view over enriched records of type T.
type Definition[T any] struct {
	Name     string
	Strategy Strategy
	// ServerParams are the filter params forwarded to the primary fetch.
	ServerParams []string
	// FilterParams lists every accepted filter param, server ones included.
	FilterParams []string
	// Enrich joins a snapshot into enriched records. It must be pure.
	Enrich func(dataset.Snapshot) []T
	// Filters builds the local predicate chain from flat params. Malformed
	// params yield an error.
	Filters  func(source.Params) ([]pipeline.Predicate[T], error)
	SortKeys map[string]pipeline.Key[T]
	// DefaultSort applies when no sort key is selected.
	DefaultSort func([]T) []T
	Columns     []Column[T]
	// DetailKeys selects the natural keys that need a detail look-up.
	DetailKeys func([]T) []string
	Detail     detail.Getter
}

// Options are shared by every table.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
}

// View is the type-erased surface of a Table used by the API and MCP
// layers.
type View interface {
	Name() string
	Strategy() Strategy
	FilterParams() []string
	SortKeys() []string
	Query(ctx context.Context, q Query) (Result, error)
	Sheet(ctx context.Context, q Query) (Sheet, error)
	Refresh(ctx context.Context) (uint64, error)
	Epoch() uint64
}

// SourceError reports a failed source on a page.
type SourceError struct {
	Source  string `json:"source"`
	Status  int    `json:"status,omitempty"`
	Message string `json:"message"`
}

// Page is one page of enriched records.
type Page[T any] struct {
	View       string             `json:"view"`
	Epoch      uint64             `json:"epoch"`
	Status     Status             `json:"status"`
	Items      []T                `json:"items"`
	Total      int                `json:"total"`
	Filtered   int                `json:"filtered"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
	TotalPages int                `json:"total_pages"`
	Sort       pipeline.SortState `json:"sort"`
	Errors     []SourceError      `json:"errors"`
}

// Result is a Page with type-erased items.
type Result = Page[any]

// Sheet is a tabular rendering of the filtered and sorted records.
type Sheet struct {
	Name    string
	Headers []string
	Rows    [][]any
}

// Table is a View over records of type T.
type Table[T any] struct {
	def    Definition[T]
	ds     *dataset.Dataset
	opts   Options
	logger *slog.Logger
}

var _ View = (*Table[struct{}])(nil)

// NewTable creates a table over ds.
func NewTable[T any](def Definition[T], ds *dataset.Dataset, opts Options) *Table[T] {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 25
	}
	if opts.MaxPageSize < opts.DefaultPageSize {
		opts.MaxPageSize = max(opts.DefaultPageSize, 200)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Table[T]{def: def, ds: ds, opts: opts, logger: logger.With(slog.String("view", def.Name))}
}

// Name returns the view name.
func (t *Table[T]) Name() string { return t.def.Name }

// Strategy returns the fetch strategy.
func (t *Table[T]) Strategy() Strategy { return t.def.Strategy }

// FilterParams returns the accepted filter param names.
func (t *Table[T]) FilterParams() []string { return slices.Clone(t.def.FilterParams) }

// SortKeys returns the sortable keys in lexical order.
func (t *Table[T]) SortKeys() []string {
	keys := make([]string, 0, len(t.def.SortKeys))
	for k := range t.def.SortKeys {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Epoch returns the current dataset epoch.
func (t *Table[T]) Epoch() uint64 { return t.ds.Epoch() }

// Dataset returns the underlying dataset.
func (t *Table[T]) Dataset() *dataset.Dataset { return t.ds }

// Refresh starts a new epoch and reloads every source.
func (t *Table[T]) Refresh(ctx context.Context) (uint64, error) {
	id, err := t.ds.Refresh(ctx)
	if err != nil {
		return id, err
	}
	t.loadDetails(ctx, t.ds.Snapshot())
	return id, nil
}

func (t *Table[T]) serverParams(filters source.Params) source.Params {
	out := source.Params{}
	for _, k := range t.def.ServerParams {
		if v := strings.TrimSpace(filters[k]); v != "" && v != pipeline.All {
			out[k] = v
		}
	}
	return out
}

// snapshot ensures the dataset matches the server params of q and that
// details are loaded for it.
func (t *Table[T]) snapshot(ctx context.Context, q Query) dataset.Snapshot {
	snap, err := t.ds.Ensure(ctx, t.serverParams(q.Filters))
	if err != nil {
		// The failure is carried by the snapshot.
		return snap
	}
	if t.loadDetails(ctx, snap) {
		snap = t.ds.Snapshot()
	}
	return snap
}

// loadDetails looks up details for the snapshot's pending keys and reports
// whether anything was requested.
func (t *Table[T]) loadDetails(ctx context.Context, snap dataset.Snapshot) bool {
	if t.def.DetailKeys == nil || t.def.Detail == nil || !snap.Settled || !snap.Loaded(t.ds.PrimaryName()) {
		return false
	}
	var keys []string
	for _, k := range t.def.DetailKeys(t.def.Enrich(snap)) {
		if !t.ds.Claimed(k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return false
	}
	res, err := t.ds.LoadDetails(ctx, snap.Epoch, keys, t.def.Detail)
	if err != nil {
		t.logger.Debug("view: details skipped", slog.String("error", err.Error()))
		return false
	}
	t.logger.Info("view: details loaded",
		slog.Uint64("epoch", snap.Epoch),
		slog.Int("found", res.Found), slog.Int("missed", res.Missed),
		slog.Int("failed", res.Failed), slog.Int("skipped", res.Skipped))
	return res.Requested > 0
}

// derive runs enrich, filter and sort over snap.
func (t *Table[T]) derive(snap dataset.Snapshot, q Query) (all, sorted []T, err error) {
	preds, err := t.def.Filters(q.Filters)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", apperr.ErrInvalidQuery, err)
	}
	all = t.def.Enrich(snap)
	filtered := pipeline.Filter(all, preds...)
	return all, pipeline.Sort(filtered, q.Sort, t.def.SortKeys, t.def.DefaultSort), nil
}

// List returns one page of the view.
func (t *Table[T]) List(ctx context.Context, q Query) (Page[T], error) {
	q = q.withDefaults(t.opts.DefaultPageSize)
	if err := q.Validate(t.opts.MaxPageSize, t.SortKeys()); err != nil {
		t.opts.Metrics.IncQuery(t.def.Name, "invalid")
		return Page[T]{}, err
	}
	// Reject malformed filters before any fetch is issued.
	if _, err := t.def.Filters(q.Filters); err != nil {
		t.opts.Metrics.IncQuery(t.def.Name, "invalid")
		return Page[T]{}, fmt.Errorf("%w: %w", apperr.ErrInvalidQuery, err)
	}

	snap := t.snapshot(ctx, q)
	p := Page[T]{
		View:     t.def.Name,
		Epoch:    snap.Epoch,
		Items:    []T{},
		Page:     q.Page,
		PageSize: q.PageSize,
		Sort:     q.Sort,
		Errors:   sourceErrors(snap),
	}

	primary := t.ds.PrimaryName()
	switch snap.States[primary] {
	case dataset.StateFailed:
		p.Status, p.TotalPages = StatusError, 1
		t.opts.Metrics.IncQuery(t.def.Name, string(p.Status))
		return p, nil
	case dataset.StateLoaded:
	default:
		p.Status, p.TotalPages = StatusLoading, 1
		t.opts.Metrics.IncQuery(t.def.Name, string(p.Status))
		return p, nil
	}

	all, sorted, err := t.derive(snap, q)
	if err != nil {
		return Page[T]{}, err
	}
	p.Total = len(all)
	p.Filtered = len(sorted)
	p.TotalPages = pipeline.TotalPages(len(sorted), q.PageSize)
	p.Items = pipeline.Paginate(sorted, q.Page, q.PageSize)
	switch {
	case p.Total == 0:
		p.Status = StatusEmpty
	case p.Filtered == 0:
		p.Status = StatusNoMatch
	default:
		p.Status = StatusOK
	}
	t.opts.Metrics.IncQuery(t.def.Name, string(p.Status))
	return p, nil
}

// Query implements View.
func (t *Table[T]) Query(ctx context.Context, q Query) (Result, error) {
	p, err := t.List(ctx, q)
	if err != nil {
		return Result{}, err
	}
	items := make([]any, len(p.Items))
	for i, it := range p.Items {
		items[i] = it
	}
	return Result{
		View: p.View, Epoch: p.Epoch, Status: p.Status, Items: items,
		Total: p.Total, Filtered: p.Filtered, Page: p.Page, PageSize: p.PageSize,
		TotalPages: p.TotalPages, Sort: p.Sort, Errors: p.Errors,
	}, nil
}

// ErrPrimaryFailed is returned by Sheet when the primary source could not
// be loaded.
var ErrPrimaryFailed = errors.New("view: primary source failed")

// Sheet renders every filtered and sorted record, ignoring pagination.
func (t *Table[T]) Sheet(ctx context.Context, q Query) (Sheet, error) {
	q = q.withDefaults(t.opts.DefaultPageSize)
	if err := q.Validate(t.opts.MaxPageSize, t.SortKeys()); err != nil {
		return Sheet{}, err
	}
	if _, err := t.def.Filters(q.Filters); err != nil {
		return Sheet{}, fmt.Errorf("%w: %w", apperr.ErrInvalidQuery, err)
	}
	snap := t.snapshot(ctx, q)
	primary := t.ds.PrimaryName()
	switch snap.States[primary] {
	case dataset.StateLoaded:
	case dataset.StateFailed:
		return Sheet{}, fmt.Errorf("%w: %w", ErrPrimaryFailed, snap.Errors[primary])
	default:
		return Sheet{}, apperr.ErrNotLoaded
	}
	_, sorted, err := t.derive(snap, q)
	if err != nil {
		return Sheet{}, err
	}

	sh := Sheet{Name: t.def.Name, Headers: make([]string, len(t.def.Columns)), Rows: make([][]any, 0, len(sorted))}
	for i, c := range t.def.Columns {
		sh.Headers[i] = record.HeaderLabel(c.Field)
	}
	for _, r := range sorted {
		row := make([]any, len(t.def.Columns))
		for i, c := range t.def.Columns {
			row[i] = c.Value(r)
		}
		sh.Rows = append(sh.Rows, row)
	}
	return sh, nil
}

func sourceErrors(snap dataset.Snapshot) []SourceError {
	names := make([]string, 0, len(snap.Errors))
	for name := range snap.Errors {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]SourceError, 0, len(names))
	for _, name := range names {
		err := snap.Errors[name]
		se := SourceError{Source: name, Message: err.Error()}
		var fe *source.FetchError
		if errors.As(err, &fe) {
			se.Status = fe.Status
		}
		out = append(out, se)
	}
	return out
}
