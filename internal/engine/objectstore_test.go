package engine

import (
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlidb/internal/domerr"
	"github.com/roach88/sqlidb/internal/keyrange"
	"github.com/roach88/sqlidb/internal/store"
)

func TestObjectStore_KeyGenerator(t *testing.T) {
	f := setupTestFactory(t)
	db := openPeople(t, f)
	tx, people := begin(t, db, ReadWrite, "people")

	explicit := mustRequest(t)(people.Add(map[string]any{"id": 5, "name": "Eve"}, nil))
	below := mustRequest(t)(people.Add(map[string]any{"id": 3, "name": "Cy"}, nil))
	generated := mustRequest(t)(people.Add(map[string]any{"name": "Gen"}, nil))
	stored := mustRequest(t)(people.Get(6))
	mustRun(t, tx)

	assert.Equal(t, 5.0, explicit.Result())
	assert.Equal(t, 3.0, below.Result())
	assert.Equal(t, 6.0, generated.Result(), "an explicit key below the counter does not move it")
	assert.Equal(t, map[string]any{"id": 6.0, "name": "Gen"}, stored.Result(), "the generated key is injected")
}

func TestObjectStore_KeyGeneratorSurvivesAbort(t *testing.T) {
	f := setupTestFactory(t)
	db := openPeople(t, f)

	tx, people := begin(t, db, ReadWrite, "people")
	mustRequest(t)(people.Add(map[string]any{"name": "a"}, nil))
	require.NoError(t, tx.Abort())

	tx, people = begin(t, db, ReadWrite, "people")
	req := mustRequest(t)(people.Add(map[string]any{"name": "b"}, nil))
	mustRun(t, tx)
	assert.Equal(t, 1.0, req.Result(), "the counter rolls back with the transaction")
}

func TestObjectStore_FractionalExplicitKey(t *testing.T) {
	f := setupTestFactory(t)
	db := openPeople(t, f)
	tx, people := begin(t, db, ReadWrite, "people")

	mustRequest(t)(people.Add(map[string]any{"id": 2.5}, nil))
	next := mustRequest(t)(people.Add(map[string]any{}, nil))
	mustRun(t, tx)
	assert.Equal(t, 3.0, next.Result())
}

func TestObjectStore_AddPut(t *testing.T) {
	f := setupTestFactory(t)
	db := openPlain(t, f)

	tx, s := begin(t, db, ReadWrite, "s")
	mustRequest(t)(s.Add("first", "k"))
	dup := mustRequest(t)(s.Add("second", "k"))
	dup.OnError = func(e *ErrorEvent) error {
		e.PreventDefault()
		return nil
	}
	put := mustRequest(t)(s.Put("replaced", "k"))
	get := mustRequest(t)(s.Get("k"))
	getKey := mustRequest(t)(s.GetKey(keyrange.Range{}))
	missing := mustRequest(t)(s.Get("nope"))
	mustRun(t, tx)

	assert.True(t, IsConstraintError(dup.Err()))
	assert.Equal(t, "k", put.Result())
	assert.Equal(t, "replaced", get.Result())
	assert.Equal(t, "k", getKey.Result())
	assert.Nil(t, missing.Result())
	assert.NoError(t, missing.Err())
}

func TestObjectStore_ValueIsCloned(t *testing.T) {
	f := setupTestFactory(t)
	db := openPlain(t, f)

	tx, s := begin(t, db, ReadWrite, "s")
	value := map[string]any{"n": 1}
	mustRequest(t)(s.Put(value, 1))
	value["n"] = 2
	get := mustRequest(t)(s.Get(1))
	mustRun(t, tx)

	assert.Equal(t, map[string]any{"n": 1.0}, get.Result())
}

func TestObjectStore_CyclicValue(t *testing.T) {
	f := setupTestFactory(t)
	db := openPeople(t, f)

	ann := map[string]any{"name": "Ann"}
	ann["self"] = ann
	err := db.Update(t.Context(), []string{"people"}, func(tx *Transaction) error {
		people, err := tx.ObjectStore("people")
		if err != nil {
			return err
		}
		_, err = people.Add(ann, nil)
		return err
	})
	require.NoError(t, err)

	tx, people := begin(t, db, ReadOnly, "people")
	byName, err := people.Index("byName")
	require.NoError(t, err)
	get := mustRequest(t)(byName.Get("Ann"))
	mustRun(t, tx)

	got := get.Result().(map[string]any)
	assert.Equal(t, 1.0, got["id"])
	self := got["self"].(map[string]any)
	self["name"] = "renamed"
	assert.Equal(t, "renamed", got["name"], "the cycle points back at the same record value")
}

func TestInsertError(t *testing.T) {
	constraint := store.Translate(sqlite3.Error{Code: sqlite3.ErrConstraint})
	err := insertError("people", constraint)
	assert.True(t, IsConstraintError(err))
	assert.Contains(t, err.Error(), `"people"`)

	for _, code := range []sqlite3.ErrNo{sqlite3.ErrIoErr, sqlite3.ErrBusy, sqlite3.ErrFull} {
		translated := store.Translate(sqlite3.Error{Code: code})
		err := insertError("people", translated)
		assert.Equal(t, translated, err, "code %v", code)
		assert.False(t, IsConstraintError(err), "code %v", code)
	}
}

func TestObjectStore_SynchronousValidation(t *testing.T) {
	f := setupTestFactory(t)
	db := openWith(t, f, "v", 1, func(db *Database, _ *Transaction, _ int64) error {
		if _, err := db.CreateObjectStore("inline", StoreOptions{KeyPath: "id"}); err != nil {
			return err
		}
		if _, err := db.CreateObjectStore("outline", StoreOptions{}); err != nil {
			return err
		}
		_, err := db.CreateObjectStore("gen", StoreOptions{KeyPath: "a.b", AutoIncrement: true})
		return err
	})

	tx, err := db.Transaction([]string{"inline", "outline", "gen"}, ReadWrite)
	require.NoError(t, err)
	inline, err := tx.ObjectStore("inline")
	require.NoError(t, err)
	outline, err := tx.ObjectStore("outline")
	require.NoError(t, err)
	gen, err := tx.ObjectStore("gen")
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() (*Request, error)
		kind domerr.Name
	}{
		{"in-line store with key argument", func() (*Request, error) { return inline.Add(map[string]any{"id": 1}, 1) }, domerr.Data},
		{"in-line key missing", func() (*Request, error) { return inline.Add(map[string]any{"x": 1}, nil) }, domerr.Data},
		{"in-line key invalid", func() (*Request, error) { return inline.Add(map[string]any{"id": true}, nil) }, domerr.Data},
		{"out-of-line key missing", func() (*Request, error) { return outline.Add("v", nil) }, domerr.Data},
		{"out-of-line key invalid", func() (*Request, error) { return outline.Add("v", map[string]any{}) }, domerr.Data},
		{"key not valid UTF-8", func() (*Request, error) { return outline.Add("v", "\xff") }, domerr.Data},
		{"in-line key not valid UTF-8", func() (*Request, error) { return inline.Put(map[string]any{"id": "a\xfe"}, nil) }, domerr.Data},
		{"generated key cannot be injected", func() (*Request, error) { return gen.Add(map[string]any{"a": 1}, nil) }, domerr.Data},
		{"get without query", func() (*Request, error) { return outline.Get(nil) }, domerr.Data},
		{"delete without query", func() (*Request, error) { return outline.Delete(nil) }, domerr.Data},
		{"uncloneable value", func() (*Request, error) { return outline.Add(func() {}, 1) }, domerr.DataClone},
		{"cursor direction", func() (*Request, error) { return outline.OpenCursor(nil, "sideways") }, domerr.Type},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := tt.call()
			assert.Nil(t, req)
			assert.Equal(t, tt.kind, domerr.Kind(err), "got %v", err)
		})
	}

	generated := mustRequest(t)(gen.Add(map[string]any{"a": map[string]any{}}, nil))
	stored := mustRequest(t)(gen.Get(1))
	mustRun(t, tx)
	assert.Equal(t, 1.0, generated.Result())
	assert.Equal(t, map[string]any{"a": map[string]any{"b": 1.0}}, stored.Result())
}

func TestObjectStore_DeleteClearCount(t *testing.T) {
	f := setupTestFactory(t)
	db := openPlain(t, f)

	tx, s := begin(t, db, ReadWrite, "s")
	for i := 1; i <= 10; i++ {
		mustRequest(t)(s.Add(i*10, i))
	}
	all := mustRequest(t)(s.Count(nil))
	single := mustRequest(t)(s.Count(4))

	rng, err := keyrange.Bound(3, 6, false, true)
	require.NoError(t, err)
	mustRequest(t)(s.Delete(rng))
	afterRange := mustRequest(t)(s.Count(nil))
	mustRequest(t)(s.Delete(10))
	afterKey := mustRequest(t)(s.Count(nil))

	upper, err := keyrange.UpperBound(5, false)
	require.NoError(t, err)
	below := mustRequest(t)(s.Count(upper))
	mustRun(t, tx)

	assert.Equal(t, int64(10), all.Result())
	assert.Equal(t, int64(1), single.Result())
	assert.Equal(t, int64(7), afterRange.Result())
	assert.Equal(t, int64(6), afterKey.Result())
	assert.Equal(t, int64(2), below.Result())

	tx, s = begin(t, db, ReadWrite, "s")
	mustRequest(t)(s.Clear())
	mustRun(t, tx)
	assert.Equal(t, int64(0), countAll(t, db, "s"))
}

func TestObjectStore_KeyOrdering(t *testing.T) {
	f := setupTestFactory(t)
	db := openPlain(t, f)

	tx, s := begin(t, db, ReadWrite, "s")
	mustRequest(t)(s.Add("str", "a"))
	mustRequest(t)(s.Add("arr", []any{1}))
	mustRequest(t)(s.Add("neg", -1))
	mustRequest(t)(s.Add("big", 100))
	mustRequest(t)(s.Add("bin", []byte{1}))
	first := mustRequest(t)(s.GetKey(keyrange.Range{}))

	lower, err := keyrange.LowerBound(0, true)
	require.NoError(t, err)
	numbersAbove := mustRequest(t)(s.GetKey(lower))
	mustRun(t, tx)

	assert.Equal(t, -1.0, first.Result())
	assert.Equal(t, 100.0, numbersAbove.Result())
}

func TestObjectStore_UniqueIndex(t *testing.T) {
	f := setupTestFactory(t)
	db := openWith(t, f, "u", 1, func(db *Database, _ *Transaction, _ int64) error {
		users, err := db.CreateObjectStore("users", StoreOptions{KeyPath: "id"})
		if err != nil {
			return err
		}
		_, err = users.CreateIndex("byEmail", "email", IndexOptions{Unique: true})
		return err
	})

	tx, users := begin(t, db, ReadWrite, "users")
	mustRequest(t)(users.Add(map[string]any{"id": 1, "email": "a@x"}, nil))
	mustRequest(t)(users.Add(map[string]any{"id": 2}, nil))
	// Re-putting a record with its own index key is not a conflict.
	mustRequest(t)(users.Put(map[string]any{"id": 1, "email": "a@x", "v": 2}, nil))
	mustRun(t, tx)

	tx, users = begin(t, db, ReadWrite, "users")
	mustRequest(t)(users.Add(map[string]any{"id": 3, "email": "a@x"}, nil))
	err := tx.Run(t.Context())
	assert.True(t, IsConstraintError(Cause(err)), "got %v", err)

	tx, users = begin(t, db, ReadWrite, "users")
	conflict := mustRequest(t)(users.Put(map[string]any{"id": 2, "email": "a@x"}, nil))
	conflict.OnError = func(e *ErrorEvent) error {
		e.PreventDefault()
		return nil
	}
	keep := mustRequest(t)(users.Get(2))
	mustRun(t, tx)
	assert.True(t, IsConstraintError(conflict.Err()))
	assert.Equal(t, map[string]any{"id": 2.0}, keep.Result(), "a rejected put keeps the old record")
}

func TestObjectStore_PeopleByName(t *testing.T) {
	f := setupTestFactory(t)
	db := openPeople(t, f)

	tx, people := begin(t, db, ReadWrite, "people")
	for _, name := range []string{"Ann", "Bob", "Ann"} {
		mustRequest(t)(people.Add(map[string]any{"name": name}, nil))
	}
	byName, err := people.Index("byName")
	require.NoError(t, err)
	before := mustRequest(t)(byName.Count("Ann"))
	firstAnn := mustRequest(t)(byName.GetKey("Ann"))
	bob := mustRequest(t)(byName.Get("Bob"))
	mustRequest(t)(people.Delete(1))
	after := mustRequest(t)(byName.Count("Ann"))
	nextAnn := mustRequest(t)(byName.GetKey("Ann"))
	mustRun(t, tx)

	assert.Equal(t, int64(2), before.Result())
	assert.Equal(t, 1.0, firstAnn.Result())
	assert.Equal(t, map[string]any{"id": 2.0, "name": "Bob"}, bob.Result())
	assert.Equal(t, int64(1), after.Result())
	assert.Equal(t, 3.0, nextAnn.Result())
}

func TestObjectStore_IndexSkipsUnresolvedPaths(t *testing.T) {
	f := setupTestFactory(t)
	db := openPeople(t, f)

	tx, people := begin(t, db, ReadWrite, "people")
	mustRequest(t)(people.Add(map[string]any{"name": "Ann"}, nil))
	mustRequest(t)(people.Add(map[string]any{"nick": "x"}, nil))
	mustRequest(t)(people.Add(map[string]any{"name": true}, nil))
	byName, err := people.Index("byName")
	require.NoError(t, err)
	indexed := mustRequest(t)(byName.Count(nil))
	stored := mustRequest(t)(people.Count(nil))
	mustRun(t, tx)

	assert.Equal(t, int64(1), indexed.Result())
	assert.Equal(t, int64(3), stored.Result())
}

func TestObjectStore_HandleAccessors(t *testing.T) {
	f := setupTestFactory(t)
	db := openPeople(t, f)
	tx, people := begin(t, db, ReadOnly, "people")

	assert.Equal(t, "people", people.Name())
	assert.Equal(t, "id", people.KeyPath().String())
	assert.True(t, people.AutoIncrement())
	assert.Equal(t, []string{"byName"}, people.IndexNames())
	assert.Same(t, tx, people.Transaction())

	again, err := tx.ObjectStore("people")
	require.NoError(t, err)
	assert.Same(t, people, again)

	_, err = people.Index("missing")
	assert.True(t, IsNotFoundError(err))
	mustRun(t, tx)
}
