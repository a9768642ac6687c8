package domain

import "errors"

// Sentinel errors shared by services and repositories. Handlers map them to
// HTTP statuses through response.FromError.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
)
