package domain

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError is returned when a requested record does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ValidationError rejects malformed input before any write happens.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func Validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ConflictError is an optimistic concurrency failure: the caller's
// ifUpdatedAt token no longer matches the stored updatedAt.
type ConflictError struct {
	Expected string // token the caller presented
	Actual   string // updatedAt currently stored
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: updatedAt mismatch (expected %s, actual %s)", e.Expected, e.Actual)
}

// StorageError wraps infrastructure failures (locked, corrupt, io).
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// WrapStorage classifies engine-level failures: lock contention and IO
// faults become a typed StorageError so callers treat them as transient;
// everything else passes through unchanged.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "disk i/o") {
		return &StorageError{Op: op, Err: err}
	}
	return err
}

func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
