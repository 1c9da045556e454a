package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/sqlidb/internal/domerr"
	"github.com/roach88/sqlidb/internal/key"
	"github.com/roach88/sqlidb/internal/querysql"
	"github.com/roach88/sqlidb/internal/store"
)

// StoreOptions configures CreateObjectStore.
type StoreOptions struct {
	// KeyPath is nil, a string or a []string.
	KeyPath       any
	AutoIncrement bool
}

// Database is an open connection to one named database.
type Database struct {
	name    string
	factory *Factory
	handle  *store.Store
	logger  *slog.Logger

	mu        sync.Mutex
	version   int64
	closed    bool
	live      int
	versionTx *Transaction
	schema    map[string]*storeSchema
}

func newDatabase(f *Factory, name string, version int64, handle *store.Store, metas []store.StoreMeta) *Database {
	db := &Database{
		name:    name,
		factory: f,
		handle:  handle,
		logger:  f.logger.With("db", name),
		version: version,
		schema:  make(map[string]*storeSchema, len(metas)),
	}
	for _, m := range metas {
		db.schema[m.Name] = schemaFromMeta(m)
	}
	return db
}

// Name returns the database name.
func (db *Database) Name() string { return db.name }

// Version returns the database version.
func (db *Database) Version() int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.version
}

// ObjectStoreNames returns the sorted store names.
func (db *Database) ObjectStoreNames() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	names := make([]string, 0, len(db.schema))
	for name := range db.schema {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Transaction creates an active transaction over storeNames.
//
// Fails with InvalidStateError when the database is closed or a
// version-change transaction is outstanding, InvalidAccessError when
// storeNames is empty, NotFoundError for an unknown store and TypeError
// for a mode other than ReadOnly or ReadWrite.
func (db *Database) Transaction(storeNames []string, mode Mode) (*Transaction, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, domerr.New(domerr.InvalidState, "database %q is closed", db.name)
	}
	if db.versionTx != nil {
		return nil, domerr.New(domerr.InvalidState, "a version change transaction is running")
	}
	if mode != ReadOnly && mode != ReadWrite {
		return nil, domerr.New(domerr.Type, "invalid transaction mode %s", mode)
	}
	if len(storeNames) == 0 {
		return nil, domerr.New(domerr.InvalidAccess, "transaction needs at least one object store")
	}
	scope := slices.Clone(storeNames)
	slices.Sort(scope)
	scope = slices.Compact(scope)
	for _, name := range scope {
		if _, ok := db.schema[name]; !ok {
			return nil, domerr.New(domerr.NotFound, "object store %q not found", name)
		}
	}

	db.live++
	return newTransaction(db, scope, mode), nil
}

// Update runs fn in a read-write transaction and commits it. When fn
// returns an error the transaction is aborted and that error returned.
func (db *Database) Update(ctx context.Context, storeNames []string, fn func(tx *Transaction) error) error {
	return db.run(ctx, storeNames, ReadWrite, fn)
}

// View runs fn in a read-only transaction.
func (db *Database) View(ctx context.Context, storeNames []string, fn func(tx *Transaction) error) error {
	return db.run(ctx, storeNames, ReadOnly, fn)
}

func (db *Database) run(ctx context.Context, storeNames []string, mode Mode, fn func(tx *Transaction) error) error {
	tx, err := db.Transaction(storeNames, mode)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if abortErr := tx.Abort(); abortErr != nil {
			db.logger.Warn("abort after callback error", "error", abortErr)
		}
		return err
	}
	return tx.Run(ctx)
}

// Close closes the connection once every outstanding transaction has
// finished. New transactions fail with InvalidStateError immediately.
func (db *Database) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	idle := db.live == 0
	db.mu.Unlock()

	db.factory.untrack(db)
	if idle {
		return db.handle.Close()
	}
	return nil
}

func (db *Database) isClosed() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.closed
}

func (db *Database) lookup(name string) (*storeSchema, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	s, ok := db.schema[name]
	return s, ok
}

// beginVersionChange creates the version-change transaction. Callers
// hold no lock.
func (db *Database) beginVersionChange(version int64) *Transaction {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.live++
	db.version = version
	tx := newTransaction(db, nil, VersionChange)
	db.versionTx = tx
	return tx
}

func (db *Database) endVersionChange(committed bool, oldVersion int64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.versionTx = nil
	if !committed {
		db.version = oldVersion
	}
}

// transactionDone closes a pending connection after its last transaction.
func (db *Database) transactionDone(*Transaction) {
	db.mu.Lock()
	db.live--
	closeNow := db.closed && db.live == 0
	db.mu.Unlock()
	if closeNow {
		if err := db.handle.Close(); err != nil {
			db.logger.Error("close database", "error", err)
		}
	}
}

// upgradeTx returns the running version-change transaction after checking
// that it may accept schema changes.
func (db *Database) upgradeTx(op string) (*Transaction, error) {
	db.mu.Lock()
	tx := db.versionTx
	db.mu.Unlock()
	if tx == nil {
		return nil, errNotVersionChange(op)
	}
	if err := tx.checkActive(op); err != nil {
		return nil, err
	}
	return tx, nil
}

// CreateObjectStore creates a store. Only valid inside the upgrade
// callback of Factory.Open or requests it enqueued.
func (db *Database) CreateObjectStore(name string, opts StoreOptions) (*ObjectStore, error) {
	tx, err := db.upgradeTx("createObjectStore")
	if err != nil {
		return nil, err
	}
	if _, exists := db.lookup(name); exists {
		return nil, domerr.New(domerr.Constraint, "object store %q already exists", name)
	}
	path, err := key.PathOf(opts.KeyPath)
	if err != nil {
		return nil, err
	}
	if !path.Valid() {
		return nil, domerr.New(domerr.Syntax, "invalid key path %s", path)
	}
	if opts.AutoIncrement && (path.IsArray() || (!path.IsNull() && path.String() == "")) {
		return nil, domerr.New(domerr.InvalidAccess, "autoIncrement requires an out-of-line key or a non-empty string key path")
	}

	schema := newStoreSchema(name, path, opts.AutoIncrement)
	db.mu.Lock()
	db.schema[name] = schema
	db.mu.Unlock()

	tx.enqueueInternal("createObjectStore", func(_ context.Context, sqlTx *store.Tx) (any, error) {
		create := fmt.Sprintf("CREATE TABLE %s (key BLOB PRIMARY KEY, value BLOB)", querysql.StoreTable(name))
		if _, err := sqlTx.Exec(create); err != nil {
			return nil, err
		}
		return nil, sqlTx.InsertMeta(store.StoreMeta{
			Name:          name,
			KeyPath:       path,
			AutoIncrement: opts.AutoIncrement,
			CurrNum:       1,
		})
	})
	return tx.ObjectStore(name)
}

// DeleteObjectStore drops a store and its data. Handles to it fail with
// InvalidStateError from then on.
func (db *Database) DeleteObjectStore(name string) error {
	tx, err := db.upgradeTx("deleteObjectStore")
	if err != nil {
		return err
	}
	db.mu.Lock()
	schema, ok := db.schema[name]
	if ok {
		delete(db.schema, name)
	}
	db.mu.Unlock()
	if !ok {
		return domerr.New(domerr.NotFound, "object store %q not found", name)
	}

	schema.deleted = true
	if s, ok := tx.stores[name]; ok {
		s.detach()
		delete(tx.stores, name)
	}
	tx.enqueueInternal("deleteObjectStore", func(_ context.Context, sqlTx *store.Tx) (any, error) {
		if _, err := sqlTx.Exec("DROP TABLE " + schema.table()); err != nil {
			return nil, err
		}
		return nil, sqlTx.DeleteMeta(schema.persisted)
	})
	return nil
}

// renameStore re-keys a store. Called by ObjectStore.Rename.
func (db *Database) renameStore(tx *Transaction, s *ObjectStore, newName string) error {
	db.mu.Lock()
	if _, exists := db.schema[newName]; exists {
		db.mu.Unlock()
		return domerr.New(domerr.Constraint, "object store %q already exists", newName)
	}
	schema := s.schema
	oldName := schema.name
	delete(db.schema, oldName)
	schema.name = newName
	db.schema[newName] = schema
	db.mu.Unlock()

	delete(tx.stores, oldName)
	tx.stores[newName] = s

	tx.enqueueInternal("renameObjectStore", func(_ context.Context, sqlTx *store.Tx) (any, error) {
		from := schema.persisted
		rename := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", querysql.StoreTable(from), querysql.StoreTable(newName))
		if _, err := sqlTx.Exec(rename); err != nil {
			return nil, err
		}
		if err := sqlTx.RenameMeta(from, newName); err != nil {
			return nil, err
		}
		schema.persisted = newName
		return nil, nil
	})
	return nil
}
