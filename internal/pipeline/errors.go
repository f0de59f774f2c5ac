package pipeline

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotAuthorized      = errors.New("not authorized")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("extraction not found")
	ErrNotRetryable       = errors.New("extraction is not retryable")
	ErrConflict           = errors.New("extraction is busy")
)
