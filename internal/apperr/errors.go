package apperr

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnknownView  = errors.New("unknown view")
	ErrInvalidQuery = errors.New("invalid query")
	ErrNotLoaded    = errors.New("data not loaded")
)
