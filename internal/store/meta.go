package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/sqlidb/internal/key"
)

// IndexMeta is one entry of a store's persisted index list.
// Deleted entries are kept so their column can be reused.
type IndexMeta struct {
	Name       string   `json:"name"`
	KeyPath    key.Path `json:"keyPath"`
	Unique     bool     `json:"unique"`
	MultiEntry bool     `json:"multiEntry"`
	Deleted    bool     `json:"deleted,omitempty"`
}

// StoreMeta is one row of a database's __sys__ table.
type StoreMeta struct {
	Name          string
	KeyPath       key.Path
	AutoIncrement bool
	Indexes       []IndexMeta
	CurrNum       int64
}

const sysTableSQL = `CREATE TABLE IF NOT EXISTS __sys__ (
	name BLOB PRIMARY KEY,
	keyPath BLOB,
	autoInc BOOLEAN,
	indexList BLOB,
	currNum INTEGER
)`

// EnsureSysTable creates the per-database schema table.
func (s *Store) EnsureSysTable(ctx context.Context) error {
	if err := s.Exec(ctx, sysTableSQL); err != nil {
		return fmt.Errorf("create __sys__: %w", err)
	}
	return nil
}

// LoadMeta reads every store's schema in creation order.
func (s *Store) LoadMeta(ctx context.Context) ([]StoreMeta, error) {
	rows, err := s.Query(ctx, `SELECT name, keyPath, autoInc, indexList, currNum FROM __sys__ ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	metas := make([]StoreMeta, 0, len(rows))
	for _, r := range rows {
		m, err := scanMeta(r)
		if err != nil {
			return nil, err
		}
		metas = append(metas, m)
	}
	return metas, nil
}

func scanMeta(r Row) (StoreMeta, error) {
	m := StoreMeta{
		Name:          r.String("name"),
		AutoIncrement: r.Int("autoInc") != 0,
		CurrNum:       r.Int("currNum"),
	}
	if err := json.Unmarshal([]byte(r.String("keyPath")), &m.KeyPath); err != nil {
		return StoreMeta{}, fmt.Errorf("store %q: keyPath: %w", m.Name, err)
	}
	indexes, err := unmarshalIndexList(r.String("indexList"))
	if err != nil {
		return StoreMeta{}, fmt.Errorf("store %q: %w", m.Name, err)
	}
	m.Indexes = indexes
	return m, nil
}

// InsertMeta records a new store.
func (t *Tx) InsertMeta(m StoreMeta) error {
	keyPath, err := marshalJSON(m.KeyPath)
	if err != nil {
		return fmt.Errorf("insert schema: %w", err)
	}
	indexList, err := marshalIndexList(m.Indexes)
	if err != nil {
		return fmt.Errorf("insert schema: %w", err)
	}
	_, err = t.Exec(`INSERT INTO __sys__ (name, keyPath, autoInc, indexList, currNum) VALUES (?, ?, ?, ?, ?)`,
		m.Name, keyPath, m.AutoIncrement, indexList, m.CurrNum)
	return err
}

// UpdateIndexList replaces a store's persisted index list.
func (t *Tx) UpdateIndexList(store string, indexes []IndexMeta) error {
	indexList, err := marshalIndexList(indexes)
	if err != nil {
		return fmt.Errorf("update index list: %w", err)
	}
	_, err = t.Exec(`UPDATE __sys__ SET indexList = ? WHERE name = ?`, indexList, store)
	return err
}

// CurrNum reads a store's auto-increment counter.
func (t *Tx) CurrNum(store string) (int64, error) {
	rows, err := t.Query(`SELECT currNum FROM __sys__ WHERE name = ?`, store)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("store %q has no schema row", store)
	}
	return rows[0].Int("currNum"), nil
}

// SetCurrNum writes a store's auto-increment counter.
func (t *Tx) SetCurrNum(store string, n int64) error {
	_, err := t.Exec(`UPDATE __sys__ SET currNum = ? WHERE name = ?`, n, store)
	return err
}

// DeleteMeta removes a store's schema row.
func (t *Tx) DeleteMeta(store string) error {
	_, err := t.Exec(`DELETE FROM __sys__ WHERE name = ?`, store)
	return err
}

// RenameMeta renames a store's schema row.
func (t *Tx) RenameMeta(oldName, newName string) error {
	_, err := t.Exec(`UPDATE __sys__ SET name = ? WHERE name = ?`, newName, oldName)
	return err
}

// marshalIndexList converts the index list to JSON TEXT for storage.
func marshalIndexList(indexes []IndexMeta) (string, error) {
	if indexes == nil {
		indexes = []IndexMeta{}
	}
	return marshalJSON(indexes)
}

func unmarshalIndexList(data string) ([]IndexMeta, error) {
	if data == "" {
		return []IndexMeta{}, nil
	}
	var indexes []IndexMeta
	if err := json.Unmarshal([]byte(data), &indexes); err != nil {
		return nil, fmt.Errorf("unmarshal index list: %w", err)
	}
	return indexes, nil
}

// marshalJSON uses json.Encoder with HTML escaping disabled so names are
// stored as written.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}
