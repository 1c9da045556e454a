package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/roach88/sqlidb/internal/domerr"
	"github.com/roach88/sqlidb/internal/key"
	"github.com/roach88/sqlidb/internal/metrics"
	"github.com/roach88/sqlidb/internal/querysql"
	"github.com/roach88/sqlidb/internal/store"
)

const sysDBFile = "__sysdb__.sqlite"

// UpgradeFunc populates the schema inside a version-change transaction.
// oldVersion is 0 for a database that did not exist. Returning an error
// aborts the upgrade and the open fails with AbortError.
type UpgradeFunc func(db *Database, tx *Transaction, oldVersion int64) error

// Factory opens, deletes and enumerates databases in one data directory.
type Factory struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	seq     sequence
	sys     *store.SysDB

	// memID namespaces this factory's shared in-memory databases.
	memID string

	mu     sync.Mutex
	closed bool
	open   map[*Database]struct{}

	// anchors keep in-memory databases alive between connections.
	anchors map[string]*store.Store
}

// NewFactory creates a factory and opens its versions database.
func NewFactory(ctx context.Context, opts ...Option) (*Factory, error) {
	cfg := NewConfig(opts...)
	f := &Factory{
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: metrics.New(cfg.Registerer),
		open:    make(map[*Database]struct{}),
		anchors: make(map[string]*store.Store),
	}

	if cfg.InMemory {
		f.memID = uuid.NewString()
	} else if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	sys, err := store.OpenSysDB(ctx, f.location(sysDBFile), f.storeOptions())
	if err != nil {
		return nil, fmt.Errorf("open versions database: %w", err)
	}
	f.sys = sys
	return f, nil
}

// Config returns the factory's configuration.
func (f *Factory) Config() Config { return f.cfg }

// Metrics returns the factory's collectors.
func (f *Factory) Metrics() *metrics.Metrics { return f.metrics }

func (f *Factory) storeOptions() store.Options {
	return store.Options{Logger: f.logger, Debug: f.cfg.Debug, Metrics: f.metrics}
}

func (f *Factory) location(file string) string {
	if f.cfg.InMemory {
		return fmt.Sprintf("file:%s-%s?mode=memory&cache=shared", f.memID, url.PathEscape(file))
	}
	return filepath.Join(f.cfg.DataDir, file)
}

// Open opens the named database, upgrading it to version first when the
// stored version is lower. version 0 opens the current version, creating
// the database at version 1 if needed.
//
// The new version is persisted before upgrade runs and restored if the
// upgrade aborts.
func (f *Factory) Open(ctx context.Context, name string, version int64, upgrade UpgradeFunc) (*Database, error) {
	if version < 0 {
		return nil, domerr.New(domerr.Type, "version must be positive, got %d", version)
	}
	if f.isClosed() {
		return nil, domerr.New(domerr.InvalidState, "factory is closed")
	}

	current, _, err := f.sys.Version(ctx, name)
	if err != nil {
		return nil, store.Translate(err)
	}
	if version == 0 {
		version = max(current, 1)
	}
	if version < current {
		return nil, domerr.New(domerr.Version, "requested version %d is less than the current version %d", version, current)
	}

	db, err := f.connect(ctx, name, current)
	if err != nil {
		return nil, err
	}
	if version == current {
		return db, nil
	}

	if err := f.upgrade(ctx, db, current, version, upgrade); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			f.logger.Warn("close after failed upgrade", "db", name, "error", closeErr)
		}
		return nil, err
	}
	return db, nil
}

func (f *Factory) connect(ctx context.Context, name string, version int64) (*Database, error) {
	loc := f.location(querysql.DatabaseFile(name))

	if f.cfg.InMemory {
		f.mu.Lock()
		_, anchored := f.anchors[name]
		f.mu.Unlock()
		if !anchored {
			anchor, err := store.Open(loc, f.storeOptions())
			if err != nil {
				return nil, store.Translate(err)
			}
			f.mu.Lock()
			f.anchors[name] = anchor
			f.mu.Unlock()
		}
	}

	handle, err := store.Open(loc, f.storeOptions())
	if err != nil {
		return nil, store.Translate(err)
	}
	if err := handle.EnsureSysTable(ctx); err != nil {
		handle.Close()
		return nil, store.Translate(err)
	}
	metas, err := handle.LoadMeta(ctx)
	if err != nil {
		handle.Close()
		return nil, store.Translate(err)
	}

	db := newDatabase(f, name, version, handle, metas)
	f.mu.Lock()
	f.open[db] = struct{}{}
	f.mu.Unlock()
	return db, nil
}

func (f *Factory) upgrade(ctx context.Context, db *Database, oldVersion, newVersion int64, fn UpgradeFunc) error {
	if err := f.sys.SetVersion(ctx, db.name, newVersion); err != nil {
		return store.Translate(err)
	}

	tx := db.beginVersionChange(newVersion)
	tx.onFinish(func(committed bool) {
		db.endVersionChange(committed, oldVersion)
		if committed {
			return
		}
		if err := f.restoreVersion(context.WithoutCancel(ctx), db.name, oldVersion); err != nil {
			f.logger.Error("restore version after aborted upgrade", "db", db.name, "error", err)
		}
	})

	tx.enqueueInternal("upgrade", func(context.Context, *store.Tx) (any, error) {
		if fn != nil {
			if err := tx.dispatch(func() error { return fn(db, tx, oldVersion) }); err != nil {
				return nil, domerr.Wrap(domerr.Abort, err, "upgrade failed")
			}
		}
		if db.isClosed() {
			return nil, domerr.New(domerr.Abort, "database closed during upgrade")
		}
		return nil, nil
	})

	db.logger.Info("upgrading database", "from", oldVersion, "to", newVersion)
	return tx.Run(ctx)
}

func (f *Factory) restoreVersion(ctx context.Context, name string, version int64) error {
	if version == 0 {
		return f.sys.DeleteVersion(ctx, name)
	}
	return f.sys.SetVersion(ctx, name, version)
}

// DeleteDatabase closes every open connection to name and removes the
// database. Deleting a database that does not exist succeeds.
func (f *Factory) DeleteDatabase(ctx context.Context, name string) error {
	var errs error
	for _, db := range f.connections(name) {
		errs = multierr.Append(errs, db.Close())
	}

	if _, ok, err := f.sys.Version(ctx, name); err != nil {
		return store.Translate(err)
	} else if !ok {
		return errs
	}

	if f.cfg.InMemory {
		f.mu.Lock()
		anchor := f.anchors[name]
		delete(f.anchors, name)
		f.mu.Unlock()
		if anchor != nil {
			errs = multierr.Append(errs, anchor.Close())
		}
	} else {
		base := f.location(querysql.DatabaseFile(name))
		for _, file := range []string{base, base + "-wal", base + "-shm"} {
			if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = multierr.Append(errs, err)
			}
		}
	}

	errs = multierr.Append(errs, f.sys.DeleteVersion(ctx, name))
	f.logger.Info("deleted database", "db", name)
	return errs
}

// DatabaseNames lists every database in the data directory.
func (f *Factory) DatabaseNames(ctx context.Context) ([]string, error) {
	return f.sys.Names(ctx)
}

// DatabaseInfo is a database name and its current version.
type DatabaseInfo struct {
	Name    string `json:"name"`
	Version int64  `json:"version"`
}

// Databases lists every database with its version, sorted by name.
func (f *Factory) Databases(ctx context.Context) ([]DatabaseInfo, error) {
	names, err := f.sys.Names(ctx)
	if err != nil {
		return nil, store.Translate(err)
	}
	out := make([]DatabaseInfo, 0, len(names))
	for _, name := range names {
		version, ok, err := f.sys.Version(ctx, name)
		if err != nil {
			return nil, store.Translate(err)
		}
		if ok {
			out = append(out, DatabaseInfo{Name: name, Version: version})
		}
	}
	return out, nil
}

// Cmp compares two keys: -1, 0 or 1.
func (f *Factory) Cmp(a, b any) (int, error) {
	return key.Cmp(a, b)
}

// Close closes every open database and the versions database.
func (f *Factory) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	dbs := make([]*Database, 0, len(f.open))
	for db := range f.open {
		dbs = append(dbs, db)
	}
	anchors := f.anchors
	f.anchors = make(map[string]*store.Store)
	f.mu.Unlock()

	var errs error
	for _, db := range dbs {
		errs = multierr.Append(errs, db.Close())
	}
	for _, a := range anchors {
		errs = multierr.Append(errs, a.Close())
	}
	return multierr.Append(errs, f.sys.Close())
}

func (f *Factory) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Factory) connections(name string) []*Database {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Database
	for db := range f.open {
		if db.name == name {
			out = append(out, db)
		}
	}
	return out
}

func (f *Factory) untrack(db *Database) {
	f.mu.Lock()
	delete(f.open, db)
	f.mu.Unlock()
}
