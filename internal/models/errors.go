package models

import "errors"

var (
	// lookup / state errors
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrInvalidInput = errors.New("invalid input")

	// access errors
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")

	// storage errors
	ErrStorageAuth   = errors.New("storage rejected credentials")
	ErrConfiguration = errors.New("storage is not configured")
	ErrTransientIO   = errors.New("transient storage failure")

	// codec errors
	ErrUnsupportedFormat = errors.New("unsupported image format")
)
