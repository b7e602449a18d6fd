package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrPersistence      = errors.New("persistence failure")
	ErrPermissionDenied = errors.New("permission denied")
)

// ValidationError describes a malformed record. Index is the record's
// position within a batch, or -1 for a single record.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	msg := e.Reason
	if e.Field != "" {
		msg = fmt.Sprintf("%s %s", e.Field, e.Reason)
	}
	if e.Index >= 0 {
		return fmt.Sprintf("record %d: %s", e.Index, msg)
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// PersistenceError wraps a read or write failure of the backing store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
