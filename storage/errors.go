package storage

import (
	"errors"
)

var (
	// ErrNotFound is returned when a key is not present in the store. Modules
	// under storage/badger return ErrNotFound rather than the engine-specific
	// not-found error.
	ErrNotFound = errors.New("key not found")

	// ErrAlreadyExists is returned when inserting under a key that is already
	// populated.
	ErrAlreadyExists = errors.New("key already exists")

	// ErrDataMismatch is returned when a write would silently replace
	// conflicting data for the same key.
	ErrDataMismatch = errors.New("data for key is different")
)
