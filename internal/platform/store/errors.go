package store

import "errors"

var (
	// ErrNotFound is returned when no document exists for the requested id.
	ErrNotFound = errors.New("document not found")

	// ErrConflict is returned when a write carries a stale revision token.
	ErrConflict = errors.New("revision conflict")

	// ErrStorageUnavailable is returned when the backing storage engine
	// failed to open. Callers fall back to the memory backend or abort
	// startup.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrMalformedData is returned when a stored payload cannot be decoded.
	ErrMalformedData = errors.New("malformed data")
)
