package types

import "errors"

var (
	// ErrNotFound is returned when a referenced execution or service does not exist
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the caller neither owns the entity nor is an admin
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation is returned for malformed application descriptions or names
	ErrValidation = errors.New("validation error")

	// ErrBackendUnavailable is returned when the cluster backend cannot be reached.
	// It is always retryable.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrConflict is returned when an operation does not fit the execution's state
	ErrConflict = errors.New("conflict")

	// ErrMasterUnavailable is returned by command channel clients when the engine does not answer
	ErrMasterUnavailable = errors.New("master unavailable")

	// ErrInvalidTransition is returned for lifecycle transitions the state machine forbids
	ErrInvalidTransition = errors.New("invalid status transition")
)
