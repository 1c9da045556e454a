package engine

import (
	"fmt"
	"math"
	"strings"

	"github.com/roach88/sqlidb/internal/domerr"
	"github.com/roach88/sqlidb/internal/key"
	"github.com/roach88/sqlidb/internal/querysql"
	"github.com/roach88/sqlidb/internal/sca"
	"github.com/roach88/sqlidb/internal/store"
)

// maxGeneratedKey is the largest key the generator hands out (2^53).
const maxGeneratedKey = 1 << 53

// prepare clones value and validates its key before anything is queued.
// It returns the clone and the explicit key, if any.
func (s *ObjectStore) prepare(value, k any) (any, key.Key, error) {
	clone, err := sca.Clone(s.tx.serializer(), value)
	if err != nil {
		return nil, nil, err
	}

	path := s.schema.keyPath
	if !path.IsNull() {
		if k != nil {
			return nil, nil, domerr.New(domerr.Data, "store %q uses in-line keys; a key argument is not allowed", s.schema.name)
		}
		_, err := key.Extract(clone, path, false)
		switch {
		case err == nil:
			return clone, nil, nil
		case err == key.ErrNoValue && s.schema.autoIncrement:
			if !key.CanInject(clone, path.String()) {
				return nil, nil, domerr.New(domerr.Data, "cannot store a generated key at %s", path)
			}
			return clone, nil, nil
		case err == key.ErrNoValue:
			return nil, nil, domerr.New(domerr.Data, "key path %s yielded no value", path)
		default:
			return nil, nil, domerr.Wrap(domerr.Data, err, "key path %s", path)
		}
	}

	if k == nil {
		if !s.schema.autoIncrement {
			return nil, nil, domerr.New(domerr.Data, "store %q has no key generator; a key is required", s.schema.name)
		}
		return clone, nil, nil
	}
	pk, err := key.FromValue(k)
	if err != nil {
		return nil, nil, err
	}
	return clone, pk, nil
}

// deriveKey computes the record's primary key. next is the value the key
// generator must move to once the record is written, or 0 when it stays.
//
// A missing key on an auto-increment store takes the current counter (and
// is written into value at the key path). An explicit number >= 1 at or
// above the counter moves it to floor(key)+1. The counter never moves
// backwards.
func (s *ObjectStore) deriveKey(tx *store.Tx, value any, explicit key.Key) (pk key.Key, next int64, err error) {
	pk = explicit
	if path := s.schema.keyPath; !path.IsNull() {
		k, err := key.Extract(value, path, false)
		if err != nil && err != key.ErrNoValue {
			return nil, 0, err
		}
		pk = k
	}

	if !s.schema.autoIncrement {
		if pk == nil {
			return nil, 0, domerr.New(domerr.Data, "no key for record in store %q", s.schema.name)
		}
		return pk, 0, nil
	}

	if pk == nil {
		current, err := tx.CurrNum(s.schema.persisted)
		if err != nil {
			return nil, 0, err
		}
		if current > maxGeneratedKey {
			return nil, 0, domerr.New(domerr.Constraint, "key generator for store %q is exhausted", s.schema.name)
		}
		pk = key.Number(current)
		if path := s.schema.keyPath; !path.IsNull() {
			if err := key.Inject(value, path.String(), pk); err != nil {
				return nil, 0, err
			}
		}
		return pk, current + 1, nil
	}

	n, ok := pk.(key.Number)
	if !ok || n < 1 || math.IsInf(float64(n), 0) {
		return pk, 0, nil
	}
	current, err := tx.CurrNum(s.schema.persisted)
	if err != nil {
		return nil, 0, err
	}
	if float64(n) < float64(current) {
		return pk, 0, nil
	}
	return pk, int64(math.Min(math.Floor(float64(n))+1, maxGeneratedKey+1)), nil
}

// storeRecord is the write path shared by add, put and cursor update:
// derive the key, check unique indexes, replace or insert the row, then
// move the key generator.
func (s *ObjectStore) storeRecord(tx *store.Tx, value any, explicit key.Key, overwrite bool) (key.Key, error) {
	pk, next, err := s.deriveKey(tx, value, explicit)
	if err != nil {
		return nil, err
	}
	pkEnc := key.Encode(pk)

	cols := []string{"key"}
	args := []any{pkEnc}
	for _, idx := range s.schema.live() {
		// A pending index is populated by its backfill.
		if idx.pending {
			continue
		}
		ik, ok := indexKey(value, idx)
		if !ok {
			continue
		}
		if idx.unique {
			taken, err := s.indexTaken(tx, idx, ik, pkEnc, overwrite)
			if err != nil {
				return nil, err
			}
			if taken {
				return nil, domerr.New(domerr.Constraint, "index %q already contains key %v", idx.name, key.ToValue(ik))
			}
		}
		cols = append(cols, querysql.Quote(idx.column))
		args = append(args, key.Encode(ik))
	}

	data, err := s.tx.serializer().Encode(value)
	if err != nil {
		return nil, err
	}
	cols = append(cols, "value")
	args = append(args, data)

	if overwrite {
		if _, err := tx.Exec("DELETE FROM "+s.schema.table()+" WHERE key = ?", pkEnc); err != nil {
			return nil, err
		}
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.schema.table(), strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	if _, err := tx.Exec(insert, args...); err != nil {
		return nil, insertError(s.schema.name, err)
	}

	if next > 0 {
		if err := tx.SetCurrNum(s.schema.persisted, next); err != nil {
			return nil, err
		}
	}
	s.invalidateCursors()
	return pk, nil
}

// insertError names the store in a failed insert's ConstraintError. Other
// kinds (QuotaExceededError, UnknownError) pass through unchanged.
func insertError(storeName string, err error) error {
	if domerr.Is(err, domerr.Constraint) {
		return domerr.Wrap(domerr.Constraint, err, "insert into store %q", storeName)
	}
	return err
}

// indexKey evaluates an index's key path on value. Values the path does
// not resolve on, and empty multi-entry arrays, have no index entry.
func indexKey(value any, idx *indexSchema) (key.Key, bool) {
	k, err := key.Extract(value, idx.keyPath, idx.multiEntry)
	if err != nil {
		return nil, false
	}
	if arr, ok := k.(key.Array); ok && idx.multiEntry && len(arr) == 0 {
		return nil, false
	}
	return k, true
}

// indexTaken reports whether another record already holds ik in a unique
// index. For multi-entry indexes any shared element counts.
func (s *ObjectStore) indexTaken(tx *store.Tx, idx *indexSchema, ik key.Key, pkEnc string, replacing bool) (bool, error) {
	col := querysql.Quote(idx.column)
	var where []querysql.Predicate
	if replacing {
		where = append(where, querysql.P("key <> ?", pkEnc))
	}

	if !idx.multiEntry {
		where = append(where, querysql.P(col+" = ?", key.Encode(ik)))
		rows, err := s.query(tx, querysql.Select{
			Columns: []string{"key"},
			From:    s.schema.table(),
			Where:   where,
			Limit:   1,
		})
		return len(rows) > 0, err
	}

	needles := elements(ik)
	where = append(where, querysql.P(col+" IS NOT NULL"), likeAny(col, needles))
	rows, err := s.query(tx, querysql.Select{
		Columns: []string{"key", col + " AS ikey"},
		From:    s.schema.table(),
		Where:   where,
	})
	if err != nil {
		return false, err
	}
	for _, r := range rows {
		rowKey, err := key.Decode(r.String("ikey"))
		if err != nil {
			continue
		}
		for _, n := range needles {
			if key.IsMultiEntryMatch(n, rowKey) {
				return true, nil
			}
		}
	}
	return false, nil
}

func elements(k key.Key) []key.Key {
	if arr, ok := k.(key.Array); ok {
		return arr
	}
	return []key.Key{k}
}

// buildIndex adds (or clears a reused) column and backfills it from every
// existing record. Records the key path does not resolve on, or that
// fail to decode, stay null. A unique index over duplicate keys fails
// with ConstraintError, which aborts the upgrade.
func (s *ObjectStore) buildIndex(tx *store.Tx, idx *indexSchema, column string, reuse bool) error {
	table := s.schema.table()
	col := querysql.Quote(column)

	if reuse {
		if _, err := tx.Exec(fmt.Sprintf("UPDATE %s SET %s = NULL", table, col)); err != nil {
			return err
		}
	} else if _, err := tx.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s BLOB", table, col)); err != nil {
		return err
	}
	if err := tx.UpdateIndexList(s.schema.persisted, s.schema.indexList()); err != nil {
		return err
	}

	rows, err := s.query(tx, querysql.Select{Columns: []string{"key", "value"}, From: table})
	if err != nil {
		return err
	}
	seen := make(map[string]bool)
	update := fmt.Sprintf("UPDATE %s SET %s = ? WHERE key = ?", table, col)
	for _, r := range rows {
		value, err := s.tx.serializer().Decode(r.Bytes("value"))
		if err != nil {
			s.tx.logger.Warn("skipping undecodable record during index build", "index", idx.name, "error", err)
			continue
		}
		ik, ok := indexKey(value, idx)
		if !ok {
			continue
		}
		if idx.unique {
			for _, e := range uniqueEntries(ik, idx.multiEntry) {
				if seen[e] {
					return domerr.New(domerr.Constraint, "cannot build unique index %q: duplicate key", idx.name)
				}
				seen[e] = true
			}
		}
		if _, err := tx.Exec(update, key.Encode(ik), r.String("key")); err != nil {
			return err
		}
	}

	idx.pending = false
	return nil
}

func uniqueEntries(ik key.Key, multiEntry bool) []string {
	if !multiEntry {
		return []string{key.Encode(ik)}
	}
	els := elements(ik)
	out := make([]string, len(els))
	for i, e := range els {
		out[i] = key.Encode(e)
	}
	return out
}
