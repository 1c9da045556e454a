package store

import (
	"errors"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/sqlidb/internal/domerr"
)

// Translate maps a backing store failure onto the error taxonomy:
// SQLITE_FULL becomes QuotaExceededError, SQLITE_CONSTRAINT becomes
// ConstraintError and everything else UnknownError. Errors that already
// carry a kind pass through.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	if domerr.Kind(err) != "" {
		return err
	}
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code {
		case sqlite3.ErrFull:
			return domerr.Wrap(domerr.QuotaExceeded, err, "backing store is full")
		case sqlite3.ErrConstraint:
			return domerr.Wrap(domerr.Constraint, err, "backing store constraint failed")
		}
	}
	return domerr.Wrap(domerr.Unknown, err, "backing store failure")
}
