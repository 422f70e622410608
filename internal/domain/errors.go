package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrConflict         = errors.New("operation already in progress")
	ErrAnalysisMismatch = errors.New("analysis returned wrong prompt count")
	ErrProviderFailure  = errors.New("provider failure")
)
