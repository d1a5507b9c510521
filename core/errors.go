package core

import (
	"errors"
	"fmt"
)

var (
	// ErrSchema is returned when the store has no schema applied or the
	// applied schema is incompatible with this version.
	ErrSchema = errors.New("schema error")
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStorageIO is returned when the underlying storage fails.
	ErrStorageIO = errors.New("storage error")
	// ErrConflict is returned when a transaction commits on top of a root
	// that changed after the transaction started.
	ErrConflict = errors.New("transaction conflict")
	// ErrTxDone is returned when a committed or discarded transaction is used.
	ErrTxDone = errors.New("transaction has already been committed or discarded")
)

func storageError(err error) error {
	if err == nil || errors.Is(err, ErrStorageIO) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageIO, err)
}

// corruptError marks a block that loaded but did not decode.
func corruptError(block string, err error) error {
	if err == nil || errors.Is(err, ErrStorageIO) {
		return err
	}
	return fmt.Errorf("%w: corrupt %s block: %w", ErrStorageIO, block, err)
}
