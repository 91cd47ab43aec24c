package resticrepo

import "errors"

// Sentinel errors surfaced to the HTTP glue layer for status mapping.
var (
	ErrBadRequest = errors.New("resticrepo: bad request")
	ErrNotFound   = errors.New("resticrepo: not found")
)
