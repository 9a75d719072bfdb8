package service

import "errors"

// Sentinel errors shared by the services. Controllers map these onto HTTP
// status codes; services wrap them with context via fmt.Errorf("%w", ...).
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrUpstreamModel = errors.New("upstream model failure")
	ErrStorage       = errors.New("storage failure")
)
