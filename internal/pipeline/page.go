package pipeline

// TotalPages returns the number of pages needed for n records, never less
// than one. A non-positive size puts everything on a single page.
func TotalPages(n, size int) int {
	if size <= 0 || n <= 0 {
		return 1
	}
	return (n-1)/size + 1
}

// Paginate returns the 1-based page of records. Pages outside
// [1, TotalPages] yield an empty slice rather than an error.
func Paginate[T any](records []T, page, size int) []T {
	if size <= 0 {
		if page != 1 {
			return []T{}
		}
		return append([]T{}, records...)
	}
	if page < 1 || page > TotalPages(len(records), size) {
		return []T{}
	}
	start := (page - 1) * size
	if start >= len(records) {
		return []T{}
	}
	end := min(start+size, len(records))
	return append([]T{}, records[start:end]...)
}

// PageState is the current page position of one view.
type PageState struct {
	Page int `json:"page"`
	Size int `json:"page_size"`
}

// NewPageState starts at page 1 with the given size.
func NewPageState(size int) PageState {
	return PageState{Page: 1, Size: size}
}

// Reset returns to page 1. Any change to membership or order of the
// records (filters, search, sort, refresh) must reset the page.
func (p PageState) Reset() PageState {
	p.Page = 1
	return p
}

// WithSize changes the page size and resets to page 1.
func (p PageState) WithSize(size int) PageState {
	return PageState{Page: 1, Size: size}
}

// Goto moves to page, clamped to [1, totalPages].
func (p PageState) Goto(page, total int) PageState {
	last := TotalPages(total, p.Size)
	p.Page = max(1, min(page, last))
	return p
}

// HasNext reports whether a page follows the current one.
func (p PageState) HasNext(total int) bool {
	return p.Page < TotalPages(total, p.Size)
}

// HasPrev reports whether a page precedes the current one.
func (p PageState) HasPrev() bool {
	return p.Page > 1
}
