package engine

import (
	"github.com/roach88/sqlidb/internal/domerr"
)

// Helpers for the synchronous failures raised at the API boundary.

func errInactive(op string) error {
	return domerr.New(domerr.TransactionInactive, "%s: transaction is not active", op)
}

func errFinished(op string) error {
	return domerr.New(domerr.InvalidState, "%s: transaction has finished", op)
}

func errReadOnly(op string) error {
	return domerr.New(domerr.ReadOnly, "%s: transaction is read-only", op)
}

func errNotVersionChange(op string) error {
	return domerr.New(domerr.InvalidState, "%s: only allowed in a version-change transaction", op)
}

func errStoreDeleted(op, name string) error {
	return domerr.New(domerr.InvalidState, "%s: object store %q has been deleted", op, name)
}

func errIndexDeleted(op, name string) error {
	return domerr.New(domerr.InvalidState, "%s: index %q has been deleted", op, name)
}

// IsAbortError returns true if err is (or wraps) an AbortError.
// Uses errors.As to handle wrapped errors.
func IsAbortError(err error) bool {
	return domerr.Is(err, domerr.Abort)
}

// IsConstraintError returns true if err is a ConstraintError.
func IsConstraintError(err error) bool {
	return domerr.Is(err, domerr.Constraint)
}

// IsDataError returns true if err is a DataError.
func IsDataError(err error) bool {
	return domerr.Is(err, domerr.Data)
}

// IsNotFoundError returns true if err is a NotFoundError.
func IsNotFoundError(err error) bool {
	return domerr.Is(err, domerr.NotFound)
}

// Cause returns the error that made an aborted transaction abort, or err
// itself when it is not an abort wrapping another error.
func Cause(err error) error {
	de, ok := err.(*domerr.Error)
	if ok && de.Name == domerr.Abort && de.Err != nil {
		return de.Err
	}
	return err
}
