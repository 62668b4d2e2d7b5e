package domain

import (
	"errors"
	"fmt"
)

// ErrorClass partitions external-call failures into the two categories
// the orchestrator reacts to differently.
type ErrorClass string

const (
	// ClassTransient covers network timeouts and provider 5xx; logged,
	// never changes call status.
	ClassTransient ErrorClass = "transient"
	// ClassFatal covers the provider rejecting the call itself; drives
	// the session to Failed.
	ClassFatal ErrorClass = "fatal"
)

// ClassifiedError wraps an external failure with its class. Adapters
// translate raw SDK errors into this type before returning, so raw
// provider errors never cross a package boundary.
type ClassifiedError struct {
	Class ErrorClass
	Op    string
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Class, e.Op, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// TransientError wraps err as a transient external failure.
func TransientError(op string, err error) *ClassifiedError {
	return &ClassifiedError{Class: ClassTransient, Op: op, Err: err}
}

// FatalError wraps err as a fatal external failure.
func FatalError(op string, err error) *ClassifiedError {
	return &ClassifiedError{Class: ClassFatal, Op: op, Err: err}
}

// IsFatal reports whether err (anywhere in its chain) is classified fatal.
// Unclassified errors are treated as transient.
func IsFatal(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassFatal
	}
	return false
}

// ErrCustomerOptedOut is returned when an outbound call is requested for
// a customer flagged do-not-call. Checked before any session is created.
var ErrCustomerOptedOut = errors.New("customer has opted out of calls")

// ErrSessionNotFound is returned on lookups for unknown or evicted call IDs.
var ErrSessionNotFound = errors.New("call session not found")
