package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when an exchange does not exist or has been deleted.
	ErrNotFound = errors.New("exchange not found")

	// ErrConflict is returned when an exchange with the given ID already exists.
	ErrConflict = errors.New("exchange already exists")
)
