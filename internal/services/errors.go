package services

import "errors"

// Sentinel errors used across services. Handlers map them to HTTP status
// codes with errors.Is; services wrap them with fmt.Errorf("...: %w", ...).
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrUpstream     = errors.New("upstream service failure")
)
