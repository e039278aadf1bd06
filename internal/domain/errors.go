package domain

import "errors"

// Error categories. Package-level sentinels wrap one of these so callers
// outside the domain can classify a failure with errors.Is.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrRejected     = errors.New("rejected")
)
