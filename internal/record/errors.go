//
//
package record

import (
	"errors"
	"fmt"
)

// Normalized error codes shared by the store, ingest and API layers.
var (
	// ErrInvalidInput is surfaced to the ingest caller and never reaches
	// the subscription registry.
	ErrInvalidInput = errors.New("INVALID_INPUT")
	// ErrNotFound is returned for queries against an absent id.
	ErrNotFound = errors.New("NOT_FOUND")
	// ErrStorage covers an unreachable store and failed writes.
	ErrStorage = errors.New("STORAGE")
	// ErrDelivery marks a failed push to one subscriber. It is contained
	// inside the fan-out path.
	ErrDelivery = errors.New("DELIVERY")
)

// ValidationError reports the first offending field of an input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidInput, e.Field, e.Reason)
}

// Is lets errors.Is match ErrInvalidInput.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// StorageError wraps a backend failure with the operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError wraps err unless it is nil or already normalized.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorage, e.Op, e.Err)
}

// Is lets errors.Is match ErrStorage.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Code returns the normalized code for err, or "INTERNAL".
func Code(err error) string {
	switch {
	case err == nil:
		return "SUCCESS"
	case errors.Is(err, ErrInvalidInput):
		return ErrInvalidInput.Error()
	case errors.Is(err, ErrNotFound):
		return ErrNotFound.Error()
	case errors.Is(err, ErrStorage):
		return ErrStorage.Error()
	case errors.Is(err, ErrDelivery):
		return ErrDelivery.Error()
	default:
		return "INTERNAL"
	}
}
