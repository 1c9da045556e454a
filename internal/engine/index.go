package engine

import (
	"context"
	"fmt"

	"github.com/roach88/sqlidb/internal/domerr"
	"github.com/roach88/sqlidb/internal/key"
	"github.com/roach88/sqlidb/internal/keyrange"
	"github.com/roach88/sqlidb/internal/querysql"
	"github.com/roach88/sqlidb/internal/store"
)

// Index is a transaction's handle to one index of a store.
type Index struct {
	store  *ObjectStore
	schema *indexSchema
}

// Name returns the index name.
func (i *Index) Name() string { return i.schema.name }

// KeyPath returns the index's key path.
func (i *Index) KeyPath() key.Path { return i.schema.keyPath }

// Unique reports whether the index rejects duplicate keys.
func (i *Index) Unique() bool { return i.schema.unique }

// MultiEntry reports whether array keys produce one entry per element.
func (i *Index) MultiEntry() bool { return i.schema.multiEntry }

// ObjectStore returns the store the index belongs to.
func (i *Index) ObjectStore() *ObjectStore { return i.store }

func (i *Index) checkReadable(op string) error {
	if i.schema.deleted {
		return errIndexDeleted(op, i.schema.name)
	}
	return i.store.checkReadable(op)
}

// Get resolves to the value of the first record whose index key is in
// query, or nil.
func (i *Index) Get(query any) (*Request, error) {
	return i.lookup("get", query, false)
}

// GetKey resolves to the primary key of the first record whose index key
// is in query, or nil.
func (i *Index) GetKey(query any) (*Request, error) {
	return i.lookup("getKey", query, true)
}

func (i *Index) lookup(op string, query any, keyOnly bool) (*Request, error) {
	if err := i.checkReadable(op); err != nil {
		return nil, err
	}
	rng, err := requiredRange(op, query)
	if err != nil {
		return nil, err
	}
	return i.store.tx.enqueue(i, op, func(_ context.Context, tx *store.Tx) (any, error) {
		row, ok, err := i.first(tx, rng)
		if err != nil || !ok {
			return nil, err
		}
		if keyOnly {
			return decodeKey(row.pkEnc)
		}
		return i.store.tx.serializer().Decode(row.value)
	}), nil
}

// first returns the lowest (index key, primary key) entry in rng.
func (i *Index) first(tx *store.Tx, rng *keyrange.Range) (cursorRow, bool, error) {
	s := i.store
	if i.schema.multiEntry {
		rows, err := s.multiEntryCandidates(tx, i.schema, rng, true)
		if err != nil {
			return cursorRow{}, false, err
		}
		var best cursorRow
		found := false
		for _, r := range rows {
			rowKey, err := key.Decode(r.String("ikey"))
			if err != nil {
				continue
			}
			for _, m := range keyrange.MultiEntryMatches(rowKey, rng) {
				e := cursorRow{keyEnc: key.Encode(m), pkEnc: r.String("key"), value: r.Bytes("value")}
				if !found || e.keyEnc < best.keyEnc || (e.keyEnc == best.keyEnc && e.pkEnc < best.pkEnc) {
					best, found = e, true
				}
			}
		}
		return best, found, nil
	}

	col := querysql.Quote(i.schema.column)
	pred, args := rng.Predicate(col)
	rows, err := s.query(tx, querysql.Select{
		Columns: []string{col + " AS ikey", "key", "value"},
		From:    s.schema.table(),
		Where:   []querysql.Predicate{querysql.P(col + " IS NOT NULL"), querysql.P(pred, args...)},
		OrderBy: []querysql.Order{{Column: col}, {Column: "key"}},
		Limit:   1,
	})
	if err != nil || len(rows) == 0 {
		return cursorRow{}, false, err
	}
	r := rows[0]
	return cursorRow{keyEnc: r.String("ikey"), pkEnc: r.String("key"), value: r.Bytes("value")}, true, nil
}

// Count resolves to the number of index entries in query as an int64.
// A multi-entry record counts once per matching element.
func (i *Index) Count(query any) (*Request, error) {
	if err := i.checkReadable("count"); err != nil {
		return nil, err
	}
	rng, err := keyrange.From(query)
	if err != nil {
		return nil, err
	}
	return i.store.tx.enqueue(i, "count", func(_ context.Context, tx *store.Tx) (any, error) {
		return i.store.count(tx, i.schema, rng)
	}), nil
}

// OpenCursor opens a cursor over the index entries in query.
func (i *Index) OpenCursor(query any, dir Direction) (*Request, error) {
	if err := i.checkReadable("openCursor"); err != nil {
		return nil, err
	}
	return i.store.openCursor("openCursor", i, query, dir, false)
}

// OpenKeyCursor is OpenCursor without values.
func (i *Index) OpenKeyCursor(query any, dir Direction) (*Request, error) {
	if err := i.checkReadable("openKeyCursor"); err != nil {
		return nil, err
	}
	return i.store.openCursor("openKeyCursor", i, query, dir, true)
}

// Rename renames the index. Only valid in a version-change transaction.
func (i *Index) Rename(newName string) error {
	s := i.store
	if err := s.checkSchemaChange("rename"); err != nil {
		return err
	}
	if i.schema.deleted {
		return errIndexDeleted("rename", i.schema.name)
	}
	if newName == i.schema.name {
		return nil
	}
	if _, exists := s.schema.index(newName); exists {
		return domerr.New(domerr.Constraint, "index %q already exists on store %q", newName, s.schema.name)
	}

	// A deleted index of the same name still owns its column.
	stale, dropStale := s.schema.indexes[newName]
	dropStale = dropStale && stale.deleted

	oldName := i.schema.name
	from := querysql.IndexColumnName(oldName)
	to := querysql.IndexColumnName(newName)
	s.schema.renameIndex(i.schema, newName)
	delete(s.indexes, oldName)
	s.indexes[newName] = i

	idx := i.schema
	s.tx.enqueueInternal("renameIndex", func(_ context.Context, tx *store.Tx) (any, error) {
		table := s.schema.table()
		var stmts []string
		if dropStale {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, querysql.Quote(to)))
		}
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", table, querysql.Quote(from), querysql.Quote(to)))
		for _, stmt := range stmts {
			if _, err := tx.Exec(stmt); err != nil {
				return nil, fmt.Errorf("rename index %q: %w", newName, err)
			}
		}
		idx.column = to
		return nil, tx.UpdateIndexList(s.schema.persisted, s.schema.indexList())
	})
	return nil
}
