package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupTestFactory creates a factory over a fresh data directory.
func setupTestFactory(t *testing.T, opts ...Option) *Factory {
	t.Helper()
	opts = append([]Option{WithDataDir(t.TempDir())}, opts...)
	f, err := NewFactory(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

// openWith opens name at version, running upgrade, and requires success.
func openWith(t *testing.T, f *Factory, name string, version int64, upgrade UpgradeFunc) *Database {
	t.Helper()
	db, err := f.Open(context.Background(), name, version, upgrade)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// openPeople opens a database with an auto-increment "people" store keyed
// by "id" and a non-unique "byName" index.
func openPeople(t *testing.T, f *Factory) *Database {
	t.Helper()
	return openWith(t, f, "app", 1, func(db *Database, _ *Transaction, _ int64) error {
		people, err := db.CreateObjectStore("people", StoreOptions{KeyPath: "id", AutoIncrement: true})
		if err != nil {
			return err
		}
		_, err = people.CreateIndex("byName", "name", IndexOptions{})
		return err
	})
}

// openPlain opens a database with one out-of-line key store "s".
func openPlain(t *testing.T, f *Factory) *Database {
	t.Helper()
	return openWith(t, f, "plain", 1, func(db *Database, _ *Transaction, _ int64) error {
		_, err := db.CreateObjectStore("s", StoreOptions{})
		return err
	})
}

// begin creates a transaction and returns the handle of its first store.
func begin(t *testing.T, db *Database, mode Mode, name string) (*Transaction, *ObjectStore) {
	t.Helper()
	tx, err := db.Transaction([]string{name}, mode)
	require.NoError(t, err)
	s, err := tx.ObjectStore(name)
	require.NoError(t, err)
	return tx, s
}

// mustRequest returns a function that unwraps the (request, error) pair
// of an enqueue, failing the test on a synchronous error:
//
//	req := mustRequest(t)(s.Add(v, k))
func mustRequest(t *testing.T) func(*Request, error) *Request {
	return func(req *Request, err error) *Request {
		t.Helper()
		require.NoError(t, err)
		return req
	}
}

func mustRun(t *testing.T, tx *Transaction) {
	t.Helper()
	require.NoError(t, tx.Run(context.Background()))
}

// countAll counts the records of a store in a fresh read-only transaction.
func countAll(t *testing.T, db *Database, name string) int64 {
	t.Helper()
	tx, s := begin(t, db, ReadOnly, name)
	req := mustRequest(t)(s.Count(nil))
	mustRun(t, tx)
	return req.Result().(int64)
}
