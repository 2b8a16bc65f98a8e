package scheduling

import (
	"errors"
	"fmt"
)

// Kind classifies scheduling failures. Values are stable and double as the
// error code of HTTP responses.
type Kind string

const (
	KindInvalidInterval      Kind = "invalid_interval"
	KindOwnerNotFound        Kind = "owner_not_found"
	KindPatientNotFound      Kind = "patient_not_found"
	KindConflictingWindow    Kind = "conflicting_window"
	KindDuplicateBooking     Kind = "duplicate_booking"
	KindHasDependentBookings Kind = "has_dependent_bookings"
	KindNotFound             Kind = "not_found"
	KindStorageFailure       Kind = "storage_failure"
)

// Error is the error type returned by the scheduling services. Every kind
// except KindStorageFailure is a caller-correctable precondition failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// holds regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidInterval      = &Error{Kind: KindInvalidInterval}
	ErrOwnerNotFound        = &Error{Kind: KindOwnerNotFound}
	ErrPatientNotFound      = &Error{Kind: KindPatientNotFound}
	ErrConflictingWindow    = &Error{Kind: KindConflictingWindow}
	ErrDuplicateBooking     = &Error{Kind: KindDuplicateBooking}
	ErrHasDependentBookings = &Error{Kind: KindHasDependentBookings}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrStorageFailure       = &Error{Kind: KindStorageFailure}
)

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err. Errors that are not *Error are storage
// failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorageFailure
}

// storageFailure passes domain errors through and wraps anything else.
func storageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return newError(KindStorageFailure, op, err)
}
