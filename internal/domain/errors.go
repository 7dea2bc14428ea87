// Package domain defines the core business entities and errors.
package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity or input fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidStatus is returned when a task status is not one of the known values.
	ErrInvalidStatus = errors.New("invalid task status")

	// ErrUnauthorized is returned when the caller could not be identified.
	ErrUnauthorized = errors.New("unauthorized operation")

	// ErrForbidden is returned when the caller is identified but not allowed
	// to perform the operation (e.g. deleting someone else's upload).
	ErrForbidden = errors.New("forbidden")

	// ErrNotMember is returned when the caller does not belong to any family group.
	ErrNotMember = errors.New("not a member of a family group")

	// ErrLeaseConflict is the sentinel wrapped by every LeaseConflictError.
	ErrLeaseConflict = errors.New("lease conflict")

	// ErrCapacityExceeded is the sentinel wrapped by CapacityExceededError.
	ErrCapacityExceeded = errors.New("pool capacity exceeded")

	// ErrStorage is the sentinel wrapped by StorageError.
	ErrStorage = errors.New("blob storage failure")

	// ErrExtractionFailed is returned when the extraction capability could not
	// produce valid readings for an image.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrRateLimited is returned when the caller exhausted their extraction quota.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ValidationError describes a single invalid input field.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError creates a ValidationError. If err is nil, ErrValidation is used.
func NewValidationError(field, message string, err error) *ValidationError {
	if err == nil {
		err = ErrValidation
	}
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Field, e.Message, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ConflictReason distinguishes the ways a lease operation can lose.
type ConflictReason string

const (
	// ConflictHeld means another member holds a live lease on the task.
	ConflictHeld ConflictReason = "held"

	// ConflictFinished means the task already reached a terminal state.
	ConflictFinished ConflictReason = "finished"

	// ConflictNotHolder means the caller does not (or no longer) hold the lease.
	ConflictNotHolder ConflictReason = "not_holder"
)

// LeaseConflictError is returned when a claim or processing transition loses
// against the current state of the task.
type LeaseConflictError struct {
	Reason ConflictReason
	Status TaskStatus
}

// NewLeaseConflictError creates a LeaseConflictError for the observed task status.
func NewLeaseConflictError(reason ConflictReason, status TaskStatus) *LeaseConflictError {
	return &LeaseConflictError{Reason: reason, Status: status}
}

func (e *LeaseConflictError) Error() string {
	switch e.Reason {
	case ConflictFinished:
		return fmt.Sprintf("%v: task already finished (%s)", ErrLeaseConflict, e.Status)
	case ConflictNotHolder:
		return fmt.Sprintf("%v: task is not claimed by caller (%s)", ErrLeaseConflict, e.Status)
	default:
		return fmt.Sprintf("%v: task is claimed by another member (%s)", ErrLeaseConflict, e.Status)
	}
}

func (e *LeaseConflictError) Unwrap() error {
	return ErrLeaseConflict
}

// ConflictReasonOf extracts the reason of a LeaseConflictError anywhere in the chain.
func ConflictReasonOf(err error) (ConflictReason, bool) {
	var lce *LeaseConflictError
	if errors.As(err, &lce) {
		return lce.Reason, true
	}
	return "", false
}

// CapacityExceededError is returned by admission when a batch would push the
// group's outstanding task count over its ceiling.
type CapacityExceededError struct {
	Outstanding int
	Requested   int
	Limit       int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("%v: %d outstanding + %d requested exceeds limit of %d",
		ErrCapacityExceeded, e.Outstanding, e.Requested, e.Limit)
}

func (e *CapacityExceededError) Unwrap() error {
	return ErrCapacityExceeded
}

// StorageError wraps a blob storage failure with the operation that failed.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError creates a StorageError for the given operation.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrStorage, e.Op, e.Err)
}

// Is reports ErrStorage as part of the chain in addition to the wrapped cause.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
