package models

import "errors"

// Sentinel errors shared across packages. Wrap them with fmt.Errorf("...: %w")
// and test with errors.Is; handlers map each one to a status code.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrUpstream     = errors.New("upstream failure")
	ErrPersistence  = errors.New("persistence failure")
)
