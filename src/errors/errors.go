// Package errors defines custom error types for the category/calendar index.
// All errors are concrete types that can be type-asserted, enabling precise error handling.
// The index structures themselves never fail; these errors come from the layers
// around them (configuration, persistence, import and catalog mutations).
package errors

import (
	"fmt"
)

// Error is the base interface for all index errors.
type Error interface {
	error
	// Code returns the error code string (e.g., "ErrEventNotFound", "ErrSnapshotCorrupted").
	Code() string
	// Unwrap returns the underlying error, supporting error wrapping chain.
	Unwrap() error
}

// baseError is the base implementation of Error.
type baseError struct {
	code    string
	message string
	cause   error
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *baseError) Code() string {
	return e.code
}

func (e *baseError) Unwrap() error {
	return e.cause
}

// Is matches two coded errors by code, so wrapped sentinels work with errors.Is.
func (e *baseError) Is(target error) bool {
	t, ok := target.(Error)
	return ok && t.Code() == e.code
}

// NewError creates a new error with the given code and message.
func NewError(code, message string) Error {
	return &baseError{
		code:    code,
		message: message,
	}
}

// NewErrorWithCause creates a new error with an underlying cause.
func NewErrorWithCause(code, message string, cause error) Error {
	return &baseError{
		code:    code,
		message: message,
		cause:   cause,
	}
}

// ErrEventNotFound is returned when an event with the given ID is not known to the catalog.
var ErrEventNotFound = NewError("ErrEventNotFound", "event not found")

// ErrEventAlreadyExists is returned when attempting to add an event with a duplicate ID.
var ErrEventAlreadyExists = NewError("ErrEventAlreadyExists", "event already exists")

// ErrInvalidEvent is returned when an event fails validation (empty ID, missing dates).
var ErrInvalidEvent = NewError("ErrInvalidEvent", "event validation failed")

// ErrCategoryNotFound is returned when a category ID does not exist in the tree.
var ErrCategoryNotFound = NewError("ErrCategoryNotFound", "category not found")

// ErrCategoryAlreadyExists is returned when adding a category whose ID is taken.
var ErrCategoryAlreadyExists = NewError("ErrCategoryAlreadyExists", "category already exists")

// ErrCategoryCycle is returned when a category move would make it its own ancestor.
var ErrCategoryCycle = NewError("ErrCategoryCycle", "category move would create a cycle")

// ErrUnknownIndex is returned when a registry lookup names an index that is not configured.
var ErrUnknownIndex = NewError("ErrUnknownIndex", "unknown index")

// ErrSnapshotCorrupted is returned when a persisted snapshot cannot be restored.
var ErrSnapshotCorrupted = NewError("ErrSnapshotCorrupted", "index snapshot corrupted")

// ErrStorageNotInitialized is returned when store operations are attempted on a closed store.
var ErrStorageNotInitialized = NewError("ErrStorageNotInitialized", "storage not initialized")

// NewEventNotFound creates an error for a specific event ID not being found.
func NewEventNotFound(eventID string) Error {
	return NewError("ErrEventNotFound", fmt.Sprintf("event %s not found", eventID))
}

// NewCategoryNotFound creates an error for a specific category ID not being found.
func NewCategoryNotFound(categoryID string) Error {
	return NewError("ErrCategoryNotFound", fmt.Sprintf("category %s not found", categoryID))
}

// NewUnknownIndex creates an error naming the index that was requested.
func NewUnknownIndex(name string) Error {
	return NewError("ErrUnknownIndex", fmt.Sprintf("unknown index %q", name))
}

// NewIndexError creates a generic index error with the given message.
func NewIndexError(message string, cause error) Error {
	return NewErrorWithCause("ErrIndexError", message, cause)
}

// NewStoreError creates a generic persistence error with the given message.
func NewStoreError(message string, cause error) Error {
	return NewErrorWithCause("ErrStoreError", message, cause)
}

// NewImportError creates an error for a failed ICS or tree import.
func NewImportError(message string, cause error) Error {
	return NewErrorWithCause("ErrImportError", message, cause)
}

// NewConfigError creates a configuration error with the given message.
func NewConfigError(message string, cause error) Error {
	return NewErrorWithCause("ErrConfigError", message, cause)
}

// IsEventNotFound checks if the error is an ErrEventNotFound.
func IsEventNotFound(err error) bool {
	return hasCode(err, "ErrEventNotFound")
}

// IsCategoryNotFound checks if the error is an ErrCategoryNotFound.
func IsCategoryNotFound(err error) bool {
	return hasCode(err, "ErrCategoryNotFound")
}

// IsSnapshotCorrupted checks if the error is an ErrSnapshotCorrupted.
func IsSnapshotCorrupted(err error) bool {
	return hasCode(err, "ErrSnapshotCorrupted")
}

// IsUnknownIndex checks if the error is an ErrUnknownIndex.
func IsUnknownIndex(err error) bool {
	return hasCode(err, "ErrUnknownIndex")
}

func hasCode(err error, code string) bool {
	for err != nil {
		if e, ok := err.(Error); ok && e.Code() == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
