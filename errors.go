package flatdisk

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// DriverError is the error type returned by every layer of the file system.
// Each one descends from one of the sentinels below, so callers can test for
// the category with [errors.Is] regardless of how much context was added.
type DriverError interface {
	error
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
}

// Kind groups errors by what the caller can do about them.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindNotFound
	KindPermissionDenied
	KindConflict
	KindExhaustedStorage
	KindCorruptState
	KindIO
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindInvalidArgument:  "invalid-argument",
	KindNotFound:         "not-found",
	KindPermissionDenied: "permission-denied",
	KindConflict:         "conflict",
	KindExhaustedStorage: "exhausted-storage",
	KindCorruptState:     "corrupt-state",
	KindIO:               "io",
}

func (k Kind) String() string {
	name, ok := kindNames[k]
	if !ok {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return name
}

// sentinel is the root of every error chain.
type sentinel struct {
	message string
	kind    Kind
}

var (
	ErrArgumentOutOfRange    DriverError = sentinel{"Numerical argument out of domain", KindInvalidArgument}
	ErrBusy                  DriverError = sentinel{"Device or resource busy", KindConflict}
	ErrExists                DriverError = sentinel{"File exists", KindConflict}
	ErrFileSystemCorrupted   DriverError = sentinel{"Structure needs cleaning", KindCorruptState}
	ErrFileTooLarge          DriverError = sentinel{"File too large", KindExhaustedStorage}
	ErrInvalidArgument       DriverError = sentinel{"Invalid argument", KindInvalidArgument}
	ErrInvalidFileDescriptor DriverError = sentinel{"Bad file descriptor", KindCorruptState}
	ErrIOFailed              DriverError = sentinel{"Input/output error", KindIO}
	ErrNameTooLong           DriverError = sentinel{"File name too long", KindInvalidArgument}
	ErrNoSpaceOnDevice       DriverError = sentinel{"No space left on device", KindExhaustedStorage}
	ErrNotFound              DriverError = sentinel{"No such file or directory", KindNotFound}
	ErrNotSupported          DriverError = sentinel{"Operation not supported", KindInvalidArgument}
	ErrPermissionDenied      DriverError = sentinel{"Permission denied", KindPermissionDenied}
)

func (e sentinel) Error() string {
	return e.message
}

func (e sentinel) WithMessage(message string) DriverError {
	return detailedError{
		message: fmt.Sprintf("%s: %s", e.message, message),
		cause:   e,
	}
}

func (e sentinel) Wrap(err error) DriverError {
	return wrap(e, err)
}

// -----------------------------------------------------------------------------

// detailedError adds context to a sentinel or to another detailedError.
type detailedError struct {
	message string
	cause   error
}

func (e detailedError) Error() string {
	return e.message
}

func (e detailedError) WithMessage(message string) DriverError {
	return detailedError{
		message: fmt.Sprintf("%s: %s", e.message, message),
		cause:   e,
	}
}

func (e detailedError) Wrap(err error) DriverError {
	return wrap(e, err)
}

func (e detailedError) Unwrap() error {
	return e.cause
}

// wrap chains `parent` and `err` so that errors.Is matches either of them.
func wrap(parent DriverError, err error) DriverError {
	return detailedError{
		message: fmt.Sprintf("%s: %s", parent.Error(), err.Error()),
		cause:   multierror.Append(parent, err),
	}
}

// CastToDriverError returns `err` unchanged if it's already a [DriverError],
// otherwise wraps it in [ErrIOFailed]. nil stays nil.
func CastToDriverError(err error) DriverError {
	if err == nil {
		return nil
	}
	if driverErr, ok := err.(DriverError); ok {
		return driverErr
	}
	return ErrIOFailed.Wrap(err)
}

// KindOf returns the kind of the sentinel at the root of `err`, or
// [KindUnknown] if it didn't come from this package.
func KindOf(err error) Kind {
	var root sentinel
	if errors.As(err, &root) {
		return root.kind
	}
	return KindUnknown
}
