package view

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/eduops/internal/apperr"
	"github.com/starford/eduops/internal/pipeline"
	"github.com/starford/eduops/internal/source"
)

// Reserved query params. Every other param is a filter.
const (
	ParamSort        = "sort"
	ParamDir         = "dir"
	ParamPage        = "page"
	ParamPageSize    = "page_size"
	ParamAccessToken = "access_token"
)

// Query is one list request.
type Query struct {
	Filters  source.Params
	Sort     pipeline.SortState
	Page     int
	PageSize int
}

// ParseQuery reads a Query from URL values. Repeated filter params are
// joined with commas, the multi-select form.
func ParseQuery(values url.Values) (Query, error) {
	q := Query{Filters: source.Params{}}
	for key, vals := range values {
		switch key {
		case ParamAccessToken:
		case ParamSort:
			q.Sort.Key = strings.TrimSpace(values.Get(key))
		case ParamDir:
			q.Sort.Direction = pipeline.Direction(strings.ToLower(strings.TrimSpace(values.Get(key))))
		case ParamPage, ParamPageSize:
			raw := strings.TrimSpace(values.Get(key))
			if raw == "" {
				continue
			}
			n, err := strconv.Atoi(raw)
			if err != nil {
				return Query{}, fmt.Errorf("%w: %s must be an integer", apperr.ErrInvalidQuery, key)
			}
			if key == ParamPage {
				q.Page = n
			} else {
				q.PageSize = n
			}
		default:
			q.Filters[key] = strings.Join(vals, ",")
		}
	}
	return q, nil
}

func (q Query) withDefaults(pageSize int) Query {
	if q.Filters == nil {
		q.Filters = source.Params{}
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = pageSize
	}
	if q.Sort.Key != "" && q.Sort.Direction == "" {
		q.Sort.Direction = pipeline.Desc
	}
	if q.Sort.Key == "" {
		q.Sort = pipeline.SortState{}
	}
	return q
}

// Validate checks paging and sort fields against the view's limits.
func (q Query) Validate(maxPageSize int, sortKeys []string) error {
	keys := make([]any, len(sortKeys))
	for i, k := range sortKeys {
		keys[i] = k
	}
	err := validation.ValidateStruct(&q,
		validation.Field(&q.Page, validation.Min(1)),
		validation.Field(&q.PageSize, validation.Min(1), validation.Max(maxPageSize)),
	)
	if err == nil {
		err = validation.ValidateStruct(&q.Sort,
			validation.Field(&q.Sort.Key, validation.In(keys...)),
			validation.Field(&q.Sort.Direction, validation.In(pipeline.Asc, pipeline.Desc)),
		)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrInvalidQuery, err)
	}
	return nil
}
