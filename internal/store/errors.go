package store

import (
	"errors"
)

var (
	// ErrNotFound indicates the referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates a task mutation carried a stale
	// version. The caller must re-fetch and retry; this core never
	// retries it automatically.
	ErrVersionConflict = errors.New("version conflict")
)
