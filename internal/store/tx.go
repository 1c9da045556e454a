package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Tx is one open SQL transaction. It is closed exactly once, by Commit or
// Rollback; later calls report sql.ErrTxDone.
type Tx struct {
	tx    *sql.Tx
	ctx   context.Context
	store *Store
}

// Exec runs a statement and returns the number of affected rows.
func (t *Tx) Exec(query string, args ...any) (int64, error) {
	t.store.trace(query, args)
	res, err := t.tx.ExecContext(t.ctx, query, args...)
	if err != nil {
		return 0, Translate(fmt.Errorf("exec %q: %w", query, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Query runs a query and materializes every row.
func (t *Tx) Query(query string, args ...any) (Rows, error) {
	t.store.trace(query, args)
	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, Translate(fmt.Errorf("query %q: %w", query, err))
	}
	return collect(rows)
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return Translate(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Rollback rolls back the transaction. Rolling back an already finished
// transaction is not an error.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err == nil || errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return Translate(fmt.Errorf("rollback: %w", err))
}
