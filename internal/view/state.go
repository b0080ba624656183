package view

import (
	"maps"
	"strings"
	"sync"

	"github.com/starford/eduops/internal/pipeline"
	"github.com/starford/eduops/internal/source"
)

// State is the filter, sort and page position of one view in one session.
// Every change that alters membership or order of the records returns to
// page 1.
type State struct {
	Filters source.Params
	Sort    pipeline.SortState
	Page    pipeline.PageState
}

// NewState starts unfiltered on page 1.
func NewState(pageSize int) State {
	return State{Filters: source.Params{}, Page: pipeline.NewPageState(pageSize)}
}

// SetFilters merges filters into the state. A blank or "all" value clears
// the filter. The page resets when anything changed.
func (s State) SetFilters(filters map[string]string) State {
	next := maps.Clone(s.Filters)
	if next == nil {
		next = source.Params{}
	}
	for k, v := range filters {
		v = strings.TrimSpace(v)
		if v == "" || v == pipeline.All {
			delete(next, k)
			continue
		}
		next[k] = v
	}
	if !maps.Equal(next, s.Filters) {
		s.Page = s.Page.Reset()
	}
	s.Filters = next
	return s
}

// ToggleSort cycles the sort on key and resets the page.
func (s State) ToggleSort(key string) State {
	s.Sort = s.Sort.Toggle(key)
	s.Page = s.Page.Reset()
	return s
}

// WithPageSize changes the page size and resets the page.
func (s State) WithPageSize(size int) State {
	if size > 0 && size != s.Page.Size {
		s.Page = s.Page.WithSize(size)
	}
	return s
}

// Goto moves to page, clamped to the pages of total records.
func (s State) Goto(page, total int) State {
	s.Page = s.Page.Goto(page, total)
	return s
}

// Refreshed returns to page 1 after a new epoch.
func (s State) Refreshed() State {
	s.Page = s.Page.Reset()
	return s
}

// Query builds the list request for the state.
func (s State) Query() Query {
	return Query{Filters: maps.Clone(s.Filters), Sort: s.Sort, Page: s.Page.Page, PageSize: s.Page.Size}
}

// Session holds one State per view. It is safe for concurrent use.
type Session struct {
	mu       sync.Mutex
	pageSize int
	states   map[string]State
}

// NewSession creates a session whose views start with pageSize.
func NewSession(pageSize int) *Session {
	return &Session{pageSize: pageSize, states: map[string]State{}}
}

// Get returns the state of view.
func (s *Session) Get(view string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[view]
	if !ok {
		st = NewState(s.pageSize)
	}
	return st
}

// Update applies fn to the state of view and stores the result.
func (s *Session) Update(view string, fn func(State) State) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[view]
	if !ok {
		st = NewState(s.pageSize)
	}
	st = fn(st)
	s.states[view] = st
	return st
}
