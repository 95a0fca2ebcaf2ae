package apperrors

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrNoCredentials   = errors.New("no credentials available for service")
	ErrInvalidLabel    = errors.New("invalid label")
	ErrMissingData     = errors.New("missing data")
	ErrInvalidData     = errors.New("invalid data")
	ErrProjectNotFound = errors.New("project not found")
)
