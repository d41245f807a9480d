package vector

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrInvalidArgument is returned for out of range search parameters and
	// malformed vectors.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStorage is returned when the backing store fails.
	ErrStorage = errors.New("storage error")
)

// StorageError wraps err as an ErrStorage with the failed operation.
func StorageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// NotFound returns ErrNotFound annotated with the document id.
func NotFound(id int64) error {
	return fmt.Errorf("%w: %d", ErrNotFound, id)
}
