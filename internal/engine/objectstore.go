package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/sqlidb/internal/domerr"
	"github.com/roach88/sqlidb/internal/key"
	"github.com/roach88/sqlidb/internal/keyrange"
	"github.com/roach88/sqlidb/internal/querysql"
	"github.com/roach88/sqlidb/internal/store"
)

// IndexOptions configures CreateIndex.
type IndexOptions struct {
	Unique     bool
	MultiEntry bool
}

// ObjectStore is a transaction's handle to one store.
type ObjectStore struct {
	tx      *Transaction
	schema  *storeSchema
	indexes map[string]*Index

	// cursors are the open cursors whose buffers a write invalidates.
	cursors []*Cursor
}

func newObjectStore(tx *Transaction, schema *storeSchema) *ObjectStore {
	return &ObjectStore{
		tx:      tx,
		schema:  schema,
		indexes: make(map[string]*Index),
	}
}

// Name returns the store name.
func (s *ObjectStore) Name() string { return s.schema.name }

// KeyPath returns the store's key path.
func (s *ObjectStore) KeyPath() key.Path { return s.schema.keyPath }

// AutoIncrement reports whether the store generates keys.
func (s *ObjectStore) AutoIncrement() bool { return s.schema.autoIncrement }

// IndexNames returns the sorted names of the store's indexes.
func (s *ObjectStore) IndexNames() []string { return s.schema.indexNames() }

// Transaction returns the owning transaction.
func (s *ObjectStore) Transaction() *Transaction { return s.tx }

func (s *ObjectStore) checkReadable(op string) error {
	if s.schema.deleted {
		return errStoreDeleted(op, s.schema.name)
	}
	return s.tx.checkActive(op)
}

func (s *ObjectStore) checkWritable(op string) error {
	if err := s.checkReadable(op); err != nil {
		return err
	}
	if s.tx.mode == ReadOnly {
		return errReadOnly(op)
	}
	return nil
}

// Add inserts value. k is the out-of-line key, or nil. The request's
// result is the record's primary key; an existing record with the same
// key fails the request with ConstraintError.
func (s *ObjectStore) Add(value, k any) (*Request, error) {
	return s.write("add", value, k, false)
}

// Put inserts or replaces value.
func (s *ObjectStore) Put(value, k any) (*Request, error) {
	return s.write("put", value, k, true)
}

func (s *ObjectStore) write(op string, value, k any, overwrite bool) (*Request, error) {
	if err := s.checkWritable(op); err != nil {
		return nil, err
	}
	clone, explicit, err := s.prepare(value, k)
	if err != nil {
		return nil, err
	}
	return s.tx.enqueue(s, op, func(_ context.Context, tx *store.Tx) (any, error) {
		pk, err := s.storeRecord(tx, clone, explicit, overwrite)
		if err != nil {
			return nil, err
		}
		return key.ToValue(pk), nil
	}), nil
}

// Get resolves to the value of the first record in query, or nil.
func (s *ObjectStore) Get(query any) (*Request, error) {
	return s.lookup("get", query, false)
}

// GetKey resolves to the primary key of the first record in query, or nil.
func (s *ObjectStore) GetKey(query any) (*Request, error) {
	return s.lookup("getKey", query, true)
}

func (s *ObjectStore) lookup(op string, query any, keyOnly bool) (*Request, error) {
	if err := s.checkReadable(op); err != nil {
		return nil, err
	}
	rng, err := requiredRange(op, query)
	if err != nil {
		return nil, err
	}
	return s.tx.enqueue(s, op, func(_ context.Context, tx *store.Tx) (any, error) {
		pred, args := rng.Predicate("key")
		rows, err := s.query(tx, querysql.Select{
			Columns: []string{"key", "value"},
			From:    s.schema.table(),
			Where:   []querysql.Predicate{querysql.P(pred, args...)},
			OrderBy: []querysql.Order{{Column: "key"}},
			Limit:   1,
		})
		if err != nil || len(rows) == 0 {
			return nil, err
		}
		if keyOnly {
			return decodeKey(rows[0].String("key"))
		}
		return s.tx.serializer().Decode(rows[0].Bytes("value"))
	}), nil
}

// Delete removes every record in query.
func (s *ObjectStore) Delete(query any) (*Request, error) {
	if err := s.checkWritable("delete"); err != nil {
		return nil, err
	}
	rng, err := requiredRange("delete", query)
	if err != nil {
		return nil, err
	}
	return s.tx.enqueue(s, "delete", func(_ context.Context, tx *store.Tx) (any, error) {
		pred, args := rng.Predicate("key")
		q := "DELETE FROM " + s.schema.table()
		if pred != "" {
			q += " WHERE " + pred
		}
		if _, err := tx.Exec(q, args...); err != nil {
			return nil, err
		}
		s.invalidateCursors()
		return nil, nil
	}), nil
}

// Clear removes every record.
func (s *ObjectStore) Clear() (*Request, error) {
	if err := s.checkWritable("clear"); err != nil {
		return nil, err
	}
	return s.tx.enqueue(s, "clear", func(_ context.Context, tx *store.Tx) (any, error) {
		if _, err := tx.Exec("DELETE FROM " + s.schema.table()); err != nil {
			return nil, err
		}
		s.invalidateCursors()
		return nil, nil
	}), nil
}

// Count resolves to the number of records in query (nil counts all) as
// an int64.
func (s *ObjectStore) Count(query any) (*Request, error) {
	if err := s.checkReadable("count"); err != nil {
		return nil, err
	}
	rng, err := keyrange.From(query)
	if err != nil {
		return nil, err
	}
	return s.tx.enqueue(s, "count", func(_ context.Context, tx *store.Tx) (any, error) {
		return s.count(tx, nil, rng)
	}), nil
}

// OpenCursor opens a cursor over the records in query. The request
// resolves to the *Cursor on every step and to nil once it is exhausted.
func (s *ObjectStore) OpenCursor(query any, dir Direction) (*Request, error) {
	if err := s.checkReadable("openCursor"); err != nil {
		return nil, err
	}
	return s.openCursor("openCursor", nil, query, dir, false)
}

// OpenKeyCursor is OpenCursor without values.
func (s *ObjectStore) OpenKeyCursor(query any, dir Direction) (*Request, error) {
	if err := s.checkReadable("openKeyCursor"); err != nil {
		return nil, err
	}
	return s.openCursor("openKeyCursor", nil, query, dir, true)
}

// Index returns the handle for a live index.
func (s *ObjectStore) Index(name string) (*Index, error) {
	if s.tx.finished {
		return nil, errFinished("index")
	}
	if s.schema.deleted {
		return nil, errStoreDeleted("index", s.schema.name)
	}
	schema, ok := s.schema.index(name)
	if !ok {
		return nil, domerr.New(domerr.NotFound, "index %q not found on store %q", name, s.schema.name)
	}
	if idx, ok := s.indexes[name]; ok && idx.schema == schema {
		return idx, nil
	}
	idx := &Index{store: s, schema: schema}
	s.indexes[name] = idx
	return idx, nil
}

// CreateIndex adds an index and backfills it from the existing records.
// Only valid in a version-change transaction.
func (s *ObjectStore) CreateIndex(name string, keyPath any, opts IndexOptions) (*Index, error) {
	if err := s.checkSchemaChange("createIndex"); err != nil {
		return nil, err
	}
	if _, exists := s.schema.index(name); exists {
		return nil, domerr.New(domerr.Constraint, "index %q already exists on store %q", name, s.schema.name)
	}
	path, err := key.PathOf(keyPath)
	if err != nil {
		return nil, err
	}
	if path.IsNull() || !path.Valid() {
		return nil, domerr.New(domerr.Syntax, "invalid key path %s", path)
	}
	if opts.MultiEntry && path.IsArray() {
		return nil, domerr.New(domerr.InvalidAccess, "multiEntry index %q cannot use an array key path", name)
	}

	previous, reuse := s.schema.indexes[name]
	reuse = reuse && previous.deleted
	idx := &indexSchema{
		name:       name,
		column:     querysql.IndexColumnName(name),
		keyPath:    path,
		unique:     opts.Unique,
		multiEntry: opts.MultiEntry,
		pending:    true,
	}
	s.schema.putIndex(idx)

	column := idx.column
	s.tx.enqueueInternal("createIndex", func(_ context.Context, tx *store.Tx) (any, error) {
		return nil, s.buildIndex(tx, idx, column, reuse)
	})
	return s.Index(name)
}

// DeleteIndex removes an index. Its column is kept so a later index with
// the same name can reuse it.
func (s *ObjectStore) DeleteIndex(name string) error {
	if err := s.checkSchemaChange("deleteIndex"); err != nil {
		return err
	}
	idx, ok := s.schema.index(name)
	if !ok {
		return domerr.New(domerr.NotFound, "index %q not found on store %q", name, s.schema.name)
	}
	idx.deleted = true
	delete(s.indexes, name)
	s.tx.enqueueInternal("deleteIndex", func(_ context.Context, tx *store.Tx) (any, error) {
		return nil, tx.UpdateIndexList(s.schema.persisted, s.schema.indexList())
	})
	return nil
}

// Rename renames the store. Only valid in a version-change transaction.
func (s *ObjectStore) Rename(newName string) error {
	if err := s.checkSchemaChange("rename"); err != nil {
		return err
	}
	if newName == s.schema.name {
		return nil
	}
	return s.tx.db.renameStore(s.tx, s, newName)
}

func (s *ObjectStore) checkSchemaChange(op string) error {
	if s.tx.mode != VersionChange {
		return errNotVersionChange(op)
	}
	if s.schema.deleted {
		return errStoreDeleted(op, s.schema.name)
	}
	return s.tx.checkActive(op)
}

func (s *ObjectStore) query(tx *store.Tx, q querysql.Select) (store.Rows, error) {
	sql, args, err := querysql.NewSQLCompiler().Compile(q)
	if err != nil {
		return nil, err
	}
	return tx.Query(sql, args...)
}

// count implements count mode: no ordering, no prefetch, just the number
// of index entries (or records) in rng.
func (s *ObjectStore) count(tx *store.Tx, idx *indexSchema, rng *keyrange.Range) (int64, error) {
	if idx != nil && idx.multiEntry {
		rows, err := s.multiEntryCandidates(tx, idx, rng, false)
		if err != nil {
			return 0, err
		}
		var n int64
		for _, r := range rows {
			rowKey, err := key.Decode(r.String("ikey"))
			if err != nil {
				continue
			}
			n += int64(len(keyrange.MultiEntryMatches(rowKey, rng)))
		}
		return n, nil
	}

	col := "key"
	if idx != nil {
		col = querysql.Quote(idx.column)
	}
	pred, args := rng.Predicate(col)
	rows, err := s.query(tx, querysql.Select{
		From:  s.schema.table(),
		Where: []querysql.Predicate{querysql.P(col + " IS NOT NULL"), querysql.P(pred, args...)},
		Count: true,
	})
	if err != nil {
		return 0, err
	}
	return rows[0].Int("count"), nil
}

// multiEntryCandidates returns every row whose index column may hold a key
// in rng. For a single-key range a LIKE prefilter narrows the scan; the
// caller matches precisely.
func (s *ObjectStore) multiEntryCandidates(tx *store.Tx, idx *indexSchema, rng *keyrange.Range, withValue bool) (store.Rows, error) {
	col := querysql.Quote(idx.column)
	where := []querysql.Predicate{querysql.P(col + " IS NOT NULL")}
	if rng.IsSingle() {
		where = append(where, likeAny(col, []key.Key{rng.Lower}))
	}
	cols := []string{"key", col + " AS ikey"}
	if withValue {
		cols = append(cols, "value")
	}
	return s.query(tx, querysql.Select{
		Columns: cols,
		From:    s.schema.table(),
		Where:   where,
		OrderBy: []querysql.Order{{Column: "key"}},
	})
}

// likeAny matches a serialized array column containing any of keys.
func likeAny(col string, keys []key.Key) querysql.Predicate {
	var sql string
	args := make([]any, len(keys))
	for i, k := range keys {
		if i > 0 {
			sql += " OR "
		}
		sql += col + ` LIKE ? ESCAPE '^'`
		args[i] = "%" + querysql.EscapeLike(key.Encode(k)) + "%"
	}
	return querysql.P(sql, args...)
}

func (s *ObjectStore) openCursor(op string, idx *Index, query any, dir Direction, keyOnly bool) (*Request, error) {
	d, err := ParseDirection(string(dir))
	if err != nil {
		return nil, err
	}
	rng, err := keyrange.From(query)
	if err != nil {
		return nil, err
	}
	c := newCursor(s, idx, rng, d, keyOnly)
	s.cursors = append(s.cursors, c)
	c.req = s.tx.enqueue(c.source, op, c.iterate(nil, 1))
	return c.req, nil
}

// invalidateCursors drops every open cursor's prefetch buffer so the next
// step re-reads from SQL.
func (s *ObjectStore) invalidateCursors() {
	for _, c := range s.cursors {
		c.invalidate()
	}
}

// detach releases the handle's cursors when the transaction ends or the
// store is deleted.
func (s *ObjectStore) detach() {
	for _, c := range s.cursors {
		c.invalidate()
	}
	s.cursors = nil
}

func (s *ObjectStore) forgetCursor(c *Cursor) {
	s.cursors = slices.DeleteFunc(s.cursors, func(o *Cursor) bool { return o == c })
}

func requiredRange(op string, query any) (*keyrange.Range, error) {
	if query == nil {
		return nil, domerr.New(domerr.Data, "%s: a key or key range is required", op)
	}
	return keyrange.From(query)
}

func decodeKey(enc string) (any, error) {
	k, err := key.Decode(enc)
	if err != nil {
		return nil, fmt.Errorf("stored key: %w", err)
	}
	return key.ToValue(k), nil
}
