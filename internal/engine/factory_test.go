package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlidb/internal/domerr"
)

func TestFactory_OpenVersions(t *testing.T) {
	f := setupTestFactory(t)
	ctx := context.Background()

	var seen []int64
	upgrade := func(db *Database, tx *Transaction, oldVersion int64) error {
		seen = append(seen, oldVersion)
		assert.Equal(t, VersionChange, tx.Mode())
		return nil
	}

	db, err := f.Open(ctx, "v", 0, upgrade)
	require.NoError(t, err)
	assert.Equal(t, int64(1), db.Version())
	require.NoError(t, db.Close())

	db, err = f.Open(ctx, "v", 3, upgrade)
	require.NoError(t, err)
	assert.Equal(t, int64(3), db.Version())
	require.NoError(t, db.Close())

	db, err = f.Open(ctx, "v", 0, upgrade)
	require.NoError(t, err)
	assert.Equal(t, int64(3), db.Version(), "version 0 opens the current version")
	require.NoError(t, db.Close())

	assert.Equal(t, []int64{0, 1}, seen)

	_, err = f.Open(ctx, "v", 2, upgrade)
	assert.True(t, domerr.Is(err, domerr.Version), "got %v", err)

	_, err = f.Open(ctx, "v", -1, upgrade)
	assert.True(t, domerr.Is(err, domerr.Type))
}

func TestFactory_UpgradeAbortRestoresVersion(t *testing.T) {
	f := setupTestFactory(t)
	ctx := context.Background()
	failed := errors.New("migration failed")

	_, err := f.Open(ctx, "fresh", 1, func(db *Database, _ *Transaction, _ int64) error {
		if _, err := db.CreateObjectStore("s", StoreOptions{}); err != nil {
			return err
		}
		return failed
	})
	assert.True(t, IsAbortError(err))
	assert.ErrorIs(t, err, failed)

	names, err := f.DatabaseNames(ctx)
	require.NoError(t, err)
	assert.NotContains(t, names, "fresh")

	db := openPlain(t, f)
	require.NoError(t, db.Close())
	_, err = f.Open(ctx, "plain", 2, func(db *Database, _ *Transaction, _ int64) error {
		_, err := db.CreateObjectStore("extra", StoreOptions{})
		if err != nil {
			return err
		}
		return failed
	})
	assert.True(t, IsAbortError(err))

	db, err = f.Open(ctx, "plain", 0, nil)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, int64(1), db.Version())
	assert.Equal(t, []string{"s"}, db.ObjectStoreNames())
}

func TestFactory_UpgradeRequestFailureAborts(t *testing.T) {
	f := setupTestFactory(t)

	_, err := f.Open(context.Background(), "bad", 1, func(db *Database, _ *Transaction, _ int64) error {
		s, err := db.CreateObjectStore("s", StoreOptions{})
		if err != nil {
			return err
		}
		if _, err := s.Add("a", 1); err != nil {
			return err
		}
		_, err = s.Add("b", 1)
		return err
	})
	assert.True(t, IsAbortError(err))
	assert.True(t, IsConstraintError(Cause(err)), "got %v", err)
}

func TestFactory_SchemaOpsNeedVersionChange(t *testing.T) {
	f := setupTestFactory(t)

	var during error
	db := openWith(t, f, "schema", 1, func(db *Database, _ *Transaction, _ int64) error {
		_, during = db.Transaction([]string{"s"}, ReadOnly)
		_, err := db.CreateObjectStore("s", StoreOptions{})
		return err
	})
	assert.True(t, domerr.Is(during, domerr.InvalidState))

	_, err := db.CreateObjectStore("t", StoreOptions{})
	assert.True(t, domerr.Is(err, domerr.InvalidState))
	assert.True(t, domerr.Is(db.DeleteObjectStore("s"), domerr.InvalidState))

	tx, s := begin(t, db, ReadWrite, "s")
	_, err = s.CreateIndex("i", "x", IndexOptions{})
	assert.True(t, domerr.Is(err, domerr.InvalidState))
	assert.True(t, domerr.Is(s.Rename("u"), domerr.InvalidState))
	mustRun(t, tx)
}

func TestFactory_CreateValidation(t *testing.T) {
	f := setupTestFactory(t)

	openWith(t, f, "validate", 1, func(db *Database, _ *Transaction, _ int64) error {
		s, err := db.CreateObjectStore("s", StoreOptions{KeyPath: "id"})
		require.NoError(t, err)

		_, err = db.CreateObjectStore("s", StoreOptions{})
		assert.True(t, IsConstraintError(err))
		_, err = db.CreateObjectStore("bad", StoreOptions{KeyPath: "not valid"})
		assert.True(t, domerr.Is(err, domerr.Syntax), "got %v", err)
		_, err = db.CreateObjectStore("arr", StoreOptions{KeyPath: []string{"a", "b"}, AutoIncrement: true})
		assert.True(t, domerr.Is(err, domerr.InvalidAccess))
		_, err = db.CreateObjectStore("empty", StoreOptions{KeyPath: "", AutoIncrement: true})
		assert.True(t, domerr.Is(err, domerr.InvalidAccess))

		_, err = s.CreateIndex("i", "name", IndexOptions{})
		require.NoError(t, err)
		_, err = s.CreateIndex("i", "other", IndexOptions{})
		assert.True(t, IsConstraintError(err))
		_, err = s.CreateIndex("nopath", nil, IndexOptions{})
		assert.True(t, domerr.Is(err, domerr.Syntax))
		_, err = s.CreateIndex("multi", []string{"a", "b"}, IndexOptions{MultiEntry: true})
		assert.True(t, domerr.Is(err, domerr.InvalidAccess))

		assert.True(t, IsNotFoundError(db.DeleteObjectStore("missing")))
		assert.True(t, IsNotFoundError(s.DeleteIndex("missing")))
		return nil
	})
}

func TestFactory_DeleteStoreInvalidatesHandles(t *testing.T) {
	f := setupTestFactory(t)

	db := openWith(t, f, "drop", 1, func(db *Database, _ *Transaction, _ int64) error {
		s, err := db.CreateObjectStore("s", StoreOptions{})
		if err != nil {
			return err
		}
		if _, err := s.Add("v", 1); err != nil {
			return err
		}
		if err := db.DeleteObjectStore("s"); err != nil {
			return err
		}
		_, err = s.Get(1)
		assert.True(t, domerr.Is(err, domerr.InvalidState))
		_, err = db.CreateObjectStore("s", StoreOptions{})
		return err
	})
	assert.Equal(t, []string{"s"}, db.ObjectStoreNames())
	assert.Equal(t, int64(0), countAll(t, db, "s"), "re-created store starts empty")
}

func TestFactory_RenameStoreAndIndex(t *testing.T) {
	f := setupTestFactory(t)
	ctx := context.Background()

	db := openPeople(t, f)
	tx, people := begin(t, db, ReadWrite, "people")
	mustRequest(t)(people.Add(map[string]any{"name": "Ann"}, nil))
	mustRequest(t)(people.Add(map[string]any{"name": "Bob"}, nil))
	mustRun(t, tx)
	require.NoError(t, db.Close())

	db, err := f.Open(ctx, "app", 2, func(db *Database, tx *Transaction, _ int64) error {
		people, err := tx.ObjectStore("people")
		if err != nil {
			return err
		}
		if err := people.Rename("persons"); err != nil {
			return err
		}
		byName, err := people.Index("byName")
		if err != nil {
			return err
		}
		if err := byName.Rename("byFirstName"); err != nil {
			return err
		}
		// Requests queued after the renames see the new names.
		count, err := byName.Count("Ann")
		if err != nil {
			return err
		}
		count.OnSuccess = func(r *Request) error {
			assert.Equal(t, int64(1), r.Result())
			return nil
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db = openWith(t, f, "app", 0, nil)
	assert.Equal(t, []string{"persons"}, db.ObjectStoreNames())

	tx, persons := begin(t, db, ReadWrite, "persons")
	assert.Equal(t, []string{"byFirstName"}, persons.IndexNames())
	idx, err := persons.Index("byFirstName")
	require.NoError(t, err)
	bob := mustRequest(t)(idx.GetKey("Bob"))
	next := mustRequest(t)(persons.Add(map[string]any{"name": "Cy"}, nil))
	mustRun(t, tx)
	assert.Equal(t, 2.0, bob.Result())
	assert.Equal(t, 3.0, next.Result(), "the key generator moves with the store")
}

func TestFactory_RenameCollision(t *testing.T) {
	f := setupTestFactory(t)

	openWith(t, f, "collide", 1, func(db *Database, _ *Transaction, _ int64) error {
		a, err := db.CreateObjectStore("a", StoreOptions{})
		require.NoError(t, err)
		_, err = db.CreateObjectStore("b", StoreOptions{})
		require.NoError(t, err)
		assert.True(t, IsConstraintError(a.Rename("b")))
		assert.NoError(t, a.Rename("a"))

		i, err := a.CreateIndex("i", "x", IndexOptions{})
		require.NoError(t, err)
		_, err = a.CreateIndex("j", "y", IndexOptions{})
		require.NoError(t, err)
		assert.True(t, IsConstraintError(i.Rename("j")))
		return nil
	})
}

func TestFactory_RecreateDeletedIndex(t *testing.T) {
	f := setupTestFactory(t)
	ctx := context.Background()

	db := openPeople(t, f)
	tx, people := begin(t, db, ReadWrite, "people")
	mustRequest(t)(people.Add(map[string]any{"name": "Ann", "nick": "A"}, nil))
	mustRequest(t)(people.Add(map[string]any{"name": "Bob", "nick": "B"}, nil))
	mustRequest(t)(people.Add(map[string]any{"name": "Cy"}, nil))
	mustRun(t, tx)
	require.NoError(t, db.Close())

	db, err := f.Open(ctx, "app", 2, func(_ *Database, tx *Transaction, _ int64) error {
		people, err := tx.ObjectStore("people")
		if err != nil {
			return err
		}
		return people.DeleteIndex("byName")
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = f.Open(ctx, "app", 3, func(_ *Database, tx *Transaction, _ int64) error {
		people, err := tx.ObjectStore("people")
		if err != nil {
			return err
		}
		_, err = people.CreateIndex("byName", "nick", IndexOptions{})
		return err
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tx, people = begin(t, db, ReadOnly, "people")
	byName, err := people.Index("byName")
	require.NoError(t, err)
	all := mustRequest(t)(byName.Count(nil))
	stale := mustRequest(t)(byName.Count("Ann"))
	fresh := mustRequest(t)(byName.GetKey("B"))
	mustRun(t, tx)

	assert.Equal(t, int64(2), all.Result(), "the reused column is rebuilt from the new path")
	assert.Equal(t, int64(0), stale.Result())
	assert.Equal(t, 2.0, fresh.Result())
}

func TestFactory_UniqueBackfillConflict(t *testing.T) {
	f := setupTestFactory(t)
	ctx := context.Background()

	db := openPeople(t, f)
	tx, people := begin(t, db, ReadWrite, "people")
	mustRequest(t)(people.Add(map[string]any{"name": "Ann"}, nil))
	mustRequest(t)(people.Add(map[string]any{"name": "Ann"}, nil))
	mustRun(t, tx)
	require.NoError(t, db.Close())

	_, err := f.Open(ctx, "app", 2, func(_ *Database, tx *Transaction, _ int64) error {
		people, err := tx.ObjectStore("people")
		if err != nil {
			return err
		}
		_, err = people.CreateIndex("uniqueName", "name", IndexOptions{Unique: true})
		return err
	})
	assert.True(t, IsConstraintError(Cause(err)), "got %v", err)

	db = openWith(t, f, "app", 0, nil)
	assert.Equal(t, int64(1), db.Version())
	tx, people = begin(t, db, ReadOnly, "people")
	assert.Equal(t, []string{"byName"}, people.IndexNames())
	mustRun(t, tx)
}

func TestFactory_WritesBeforeBackfill(t *testing.T) {
	f := setupTestFactory(t)
	ctx := context.Background()

	db := openPeople(t, f)
	tx, people := begin(t, db, ReadWrite, "people")
	mustRequest(t)(people.Add(map[string]any{"name": "Ann", "email": "ann@example.com"}, nil))
	mustRun(t, tx)
	require.NoError(t, db.Close())

	// The add is queued while byEmail is pending: it skips the index and
	// the backfill that follows picks the record up.
	db, err := f.Open(ctx, "app", 2, func(_ *Database, tx *Transaction, _ int64) error {
		people, err := tx.ObjectStore("people")
		if err != nil {
			return err
		}
		if _, err := people.Add(map[string]any{"name": "Bo", "email": "bo@example.com"}, nil); err != nil {
			return err
		}
		_, err = people.CreateIndex("byEmail", "email", IndexOptions{Unique: true})
		return err
	})
	require.NoError(t, err)

	tx, people = begin(t, db, ReadOnly, "people")
	byEmail, err := people.Index("byEmail")
	require.NoError(t, err)
	bo := mustRequest(t)(byEmail.GetKey("bo@example.com"))
	all := mustRequest(t)(byEmail.Count(nil))
	mustRun(t, tx)
	assert.Equal(t, 2.0, bo.Result())
	assert.Equal(t, int64(2), all.Result())
	require.NoError(t, db.Close())

	// Duplicates written ahead of the backfill are not rejected by the
	// insert; the backfill finds them and aborts the upgrade.
	var dupAdd *Request
	_, err = f.Open(ctx, "app", 3, func(_ *Database, tx *Transaction, _ int64) error {
		people, err := tx.ObjectStore("people")
		if err != nil {
			return err
		}
		if dupAdd, err = people.Add(map[string]any{"name": "Cy", "phone": "555"}, nil); err != nil {
			return err
		}
		if _, err := people.Add(map[string]any{"name": "Di", "phone": "555"}, nil); err != nil {
			return err
		}
		_, err = people.CreateIndex("byPhone", "phone", IndexOptions{Unique: true})
		return err
	})
	assert.True(t, IsConstraintError(Cause(err)), "got %v", err)
	require.NotNil(t, dupAdd)
	assert.Equal(t, 3.0, dupAdd.Result(), "the insert itself succeeded")
}

func TestFactory_DeleteDatabase(t *testing.T) {
	f := setupTestFactory(t)
	ctx := context.Background()

	db := openPlain(t, f)
	tx, s := begin(t, db, ReadWrite, "s")
	mustRequest(t)(s.Add("v", 1))
	mustRun(t, tx)

	names, err := f.DatabaseNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"plain"}, names)

	require.NoError(t, f.DeleteDatabase(ctx, "plain"))
	_, err = db.Transaction([]string{"s"}, ReadOnly)
	assert.True(t, domerr.Is(err, domerr.InvalidState), "open connections are closed")

	names, err = f.DatabaseNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, f.DeleteDatabase(ctx, "never-existed"))

	db, err = f.Open(ctx, "plain", 0, nil)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, int64(1), db.Version())
	assert.Empty(t, db.ObjectStoreNames())
}

func TestFactory_PersistsAcrossFactories(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := setupTestFactory(t, WithDataDir(dir))
	db := openPlain(t, first)
	tx, s := begin(t, db, ReadWrite, "s")
	mustRequest(t)(s.Add(map[string]any{"n": 1}, "k"))
	mustRun(t, tx)
	require.NoError(t, first.Close())

	second := setupTestFactory(t, WithDataDir(dir))
	db, err := second.Open(ctx, "plain", 0, nil)
	require.NoError(t, err)
	defer db.Close()
	tx, s = begin(t, db, ReadOnly, "s")
	get := mustRequest(t)(s.Get("k"))
	mustRun(t, tx)
	assert.Equal(t, map[string]any{"n": 1.0}, get.Result())
}

func TestFactory_InMemory(t *testing.T) {
	ctx := context.Background()
	f := setupTestFactory(t, WithInMemory())

	db := openPlain(t, f)
	tx, s := begin(t, db, ReadWrite, "s")
	mustRequest(t)(s.Add("v", 1))
	mustRun(t, tx)
	require.NoError(t, db.Close())

	db, err := f.Open(ctx, "plain", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), countAll(t, db, "s"), "data outlives the connection")
	require.NoError(t, db.Close())

	other := setupTestFactory(t, WithInMemory())
	names, err := other.DatabaseNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names, "in-memory factories do not share databases")

	require.NoError(t, f.DeleteDatabase(ctx, "plain"))
	db, err = f.Open(ctx, "plain", 0, nil)
	require.NoError(t, err)
	defer db.Close()
	assert.Empty(t, db.ObjectStoreNames())
}

func TestFactory_Closed(t *testing.T) {
	f := setupTestFactory(t)
	db := openPlain(t, f)
	require.NoError(t, f.Close())

	_, err := f.Open(context.Background(), "plain", 0, nil)
	assert.True(t, domerr.Is(err, domerr.InvalidState))
	_, err = db.Transaction([]string{"s"}, ReadOnly)
	assert.True(t, domerr.Is(err, domerr.InvalidState))
}

func TestFactory_Cmp(t *testing.T) {
	f := setupTestFactory(t)

	c, err := f.Cmp(1, "a")
	require.NoError(t, err)
	assert.Equal(t, -1, c)
	c, err = f.Cmp([]any{"a"}, "z")
	require.NoError(t, err)
	assert.Equal(t, 1, c)
	c, err = f.Cmp(2, 2.0)
	require.NoError(t, err)
	assert.Equal(t, 0, c)

	_, err = f.Cmp(map[string]any{}, 1)
	assert.True(t, IsDataError(err))
}

func TestFactory_RegistersMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := setupTestFactory(t, WithRegisterer(reg))
	openPlain(t, f)

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "sqlidb_transactions_total")
	assert.Contains(t, names, "sqlidb_sql_statements_total")
}

func TestFactory_Databases(t *testing.T) {
	f := setupTestFactory(t)
	ctx := context.Background()

	openWith(t, f, "b", 3, nil)
	openWith(t, f, "a", 1, nil)

	infos, err := f.Databases(ctx)
	require.NoError(t, err)
	assert.Equal(t, []DatabaseInfo{{Name: "a", Version: 1}, {Name: "b", Version: 3}}, infos)
}
