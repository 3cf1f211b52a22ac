package app

import "errors"

var (
	// ErrNotFound is returned when a referenced book, copy, request, loan,
	// or reader does not exist (or does not match the caller, for cancel).
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned for duplicate open requests on the same book
	// and for concurrent status changes that lost a compare-and-swap.
	ErrConflict = errors.New("conflict")

	// ErrLimitExceeded is returned when a reader is at the open-request cap.
	ErrLimitExceeded = errors.New("request limit exceeded")

	// ErrInvalidTransition is returned for state changes outside the
	// request/copy/loan state machines, e.g. cancelling a fulfilled request.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrConsistencyViolation signals an upstream bug: a loan was asked for
	// a book with no reserved copy. Fatal for the operation, not the process.
	ErrConsistencyViolation = errors.New("consistency violation")

	ErrEmailAlreadyExists = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("incorrect email or password")
)
