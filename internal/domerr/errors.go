// Package domerr defines the error taxonomy shared by every sqlidb package.
//
// Errors carry a Name from the IndexedDB exception table (ConstraintError,
// DataError, ...) so callers can branch on the kind with Is, regardless of
// how many times the error has been wrapped on its way out.
package domerr

import (
	"errors"
	"fmt"
)

// Name identifies an error kind.
type Name string

const (
	// Constraint indicates a unique index or primary key violation.
	Constraint Name = "ConstraintError"

	// Data indicates a key that cannot be derived, a malformed key or range.
	Data Name = "DataError"

	// DataClone indicates a value the serializer cannot clone.
	DataClone Name = "DataCloneError"

	// InvalidState indicates an operation against a deleted, closed or
	// finished store, index, cursor or transaction.
	InvalidState Name = "InvalidStateError"

	// InvalidAccess indicates an invalid combination of arguments.
	InvalidAccess Name = "InvalidAccessError"

	// TransactionInactive indicates an enqueue outside the allowed window.
	TransactionInactive Name = "TransactionInactiveError"

	// ReadOnly indicates a write attempted on a read-only transaction.
	ReadOnly Name = "ReadOnlyError"

	// NotFound indicates a store, index or database that does not exist.
	NotFound Name = "NotFoundError"

	// Version indicates an open with a version lower than the current one.
	Version Name = "VersionError"

	// Abort indicates a transaction aborted mid-flight.
	Abort Name = "AbortError"

	// Syntax indicates an invalid key path.
	Syntax Name = "SyntaxError"

	// Type indicates an argument of the wrong shape.
	Type Name = "TypeError"

	// QuotaExceeded is translated from a full backing store.
	QuotaExceeded Name = "QuotaExceededError"

	// Unknown is translated from any other backing store failure.
	Unknown Name = "UnknownError"
)

// Error is a named failure with an optional cause.
type Error struct {
	Name    Name
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Name, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Name and no
// message, which lets sentinels like ErrAbort match any abort.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Name == e.Name && t.Message == "" && t.Err == nil
}

// New creates an error of the given kind.
func New(name Name, format string, args ...any) *Error {
	return &Error{Name: name, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(name Name, err error, format string, args ...any) *Error {
	return &Error{Name: name, Message: fmt.Sprintf(format, args...), Err: err}
}

// Kind returns the Name of the outermost *Error in err's chain, or "" if
// there is none.
func Kind(err error) Name {
	var de *Error
	if errors.As(err, &de) {
		return de.Name
	}
	return ""
}

// Is reports whether err has the given kind.
// Uses errors.As to handle wrapped errors.
func Is(err error, name Name) bool {
	return err != nil && Kind(err) == name
}

// Sentinels for errors.Is comparisons.
var (
	ErrConstraint          = &Error{Name: Constraint}
	ErrData                = &Error{Name: Data}
	ErrDataClone           = &Error{Name: DataClone}
	ErrInvalidState        = &Error{Name: InvalidState}
	ErrTransactionInactive = &Error{Name: TransactionInactive}
	ErrReadOnly            = &Error{Name: ReadOnly}
	ErrNotFound            = &Error{Name: NotFound}
	ErrVersion             = &Error{Name: Version}
	ErrAbort               = &Error{Name: Abort}
)
