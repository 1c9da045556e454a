package engine

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/sqlidb/internal/domerr"
	"github.com/roach88/sqlidb/internal/key"
	"github.com/roach88/sqlidb/internal/keyrange"
	"github.com/roach88/sqlidb/internal/querysql"
	"github.com/roach88/sqlidb/internal/store"
)

// Direction is a cursor's iteration order.
type Direction string

const (
	Next       Direction = "next"
	NextUnique Direction = "nextunique"
	Prev       Direction = "prev"
	PrevUnique Direction = "prevunique"
)

// ParseDirection validates a direction. "" means Next.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case "":
		return Next, nil
	case Next, NextUnique, Prev, PrevUnique:
		return d, nil
	default:
		return "", domerr.New(domerr.Type, "invalid cursor direction %q", s)
	}
}

// cursorRow is one fetched, not yet consumed index entry or record.
type cursorRow struct {
	keyEnc string
	pkEnc  string
	value  []byte
}

// Cursor iterates the records of a store, or the entries of an index, in
// a key range.
//
// Rows are fetched a page at a time and buffered. Every write through the
// owning store handle drops the buffer, so the next step re-reads from
// SQL starting after the last consumed row.
type Cursor struct {
	store     *ObjectStore
	index     *Index
	source    Source
	direction Direction
	rng       *keyrange.Range
	keyOnly   bool
	req       *Request

	unique  bool
	reverse bool

	key        key.Key
	primaryKey key.Key
	value      any
	raw        []byte
	gotValue   bool
	done       bool

	// Scan position: the last consumed row, encoded.
	positioned bool
	posKey     string
	posPK      string

	buffer    []cursorRow
	exhausted bool

	// seen holds every element key a unique multi-entry cursor yielded.
	seen map[string]bool
}

func newCursor(s *ObjectStore, idx *Index, rng *keyrange.Range, dir Direction, keyOnly bool) *Cursor {
	c := &Cursor{
		store:     s,
		index:     idx,
		source:    s,
		direction: dir,
		rng:       rng,
		keyOnly:   keyOnly,
		unique:    dir == NextUnique || dir == PrevUnique,
		reverse:   strings.HasPrefix(string(dir), "prev"),
	}
	if idx != nil {
		c.source = idx
	}
	if c.unique && c.multiEntry() {
		c.seen = make(map[string]bool)
	}
	return c
}

// Source returns the store or index the cursor iterates.
func (c *Cursor) Source() Source { return c.source }

// Direction returns the iteration order.
func (c *Cursor) Direction() Direction { return c.direction }

// Request returns the request that every step of the cursor resolves.
func (c *Cursor) Request() *Request { return c.req }

// Key returns the current key: the index key for index cursors.
func (c *Cursor) Key() any {
	if c.key == nil {
		return nil
	}
	return key.ToValue(c.key)
}

// PrimaryKey returns the current record's primary key.
func (c *Cursor) PrimaryKey() any {
	if c.primaryKey == nil {
		return nil
	}
	return key.ToValue(c.primaryKey)
}

// Value returns the current record's value. Key cursors have none.
func (c *Cursor) Value() any { return c.value }

func (c *Cursor) multiEntry() bool {
	return c.index != nil && c.index.schema.multiEntry
}

// column is the SQL expression of the key the cursor orders by.
func (c *Cursor) column() string {
	if c.index == nil {
		return "key"
	}
	return querysql.Quote(c.index.schema.column)
}

func (c *Cursor) checkStep(op string) error {
	if c.index != nil {
		if err := c.index.checkReadable(op); err != nil {
			return err
		}
	} else if err := c.store.checkReadable(op); err != nil {
		return err
	}
	if c.done || !c.gotValue {
		return domerr.New(domerr.InvalidState, "%s: cursor is iterating or has reached its end", op)
	}
	return nil
}

// Continue moves to the next record, or to the first record at or past k
// in the iteration direction when k is not nil.
func (c *Cursor) Continue(k any) error {
	if err := c.checkStep("continue"); err != nil {
		return err
	}
	var target key.Key
	if k != nil {
		t, err := key.FromValue(k)
		if err != nil {
			return err
		}
		cmp := key.Compare(t, c.key)
		if (!c.reverse && cmp <= 0) || (c.reverse && cmp >= 0) {
			return domerr.New(domerr.Data, "continue: key %v is not past the cursor position", k)
		}
		target = t
	}
	c.gotValue = false
	c.store.tx.requeue(c.req, "continue", c.iterate(target, 1))
	return nil
}

// Advance skips count-1 records and resolves with the count-th.
func (c *Cursor) Advance(count int) error {
	if count < 1 {
		return domerr.New(domerr.Type, "advance: count must be positive, got %d", count)
	}
	if err := c.checkStep("advance"); err != nil {
		return err
	}
	c.gotValue = false
	c.store.tx.requeue(c.req, "advance", c.iterate(nil, count))
	return nil
}

// Update replaces the current record's value. For in-line key stores the
// value's key must equal the current primary key.
func (c *Cursor) Update(value any) (*Request, error) {
	if err := c.checkWrite("update"); err != nil {
		return nil, err
	}
	s := c.store
	pk := c.primaryKey
	var explicit key.Key
	var clone any
	if s.schema.keyPath.IsNull() {
		var err error
		clone, explicit, err = s.prepare(value, key.ToValue(pk))
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		clone, _, err = s.prepare(value, nil)
		if err != nil {
			return nil, err
		}
		k, err := key.Extract(clone, s.schema.keyPath, false)
		if err != nil || !key.Equal(k, pk) {
			return nil, domerr.New(domerr.Data, "update: the value's key does not match the cursor's primary key")
		}
	}
	return s.tx.enqueue(c, "cursor.update", func(_ context.Context, tx *store.Tx) (any, error) {
		stored, err := s.storeRecord(tx, clone, explicit, true)
		if err != nil {
			return nil, err
		}
		return key.ToValue(stored), nil
	}), nil
}

// Delete removes the current record.
func (c *Cursor) Delete() (*Request, error) {
	if err := c.checkWrite("delete"); err != nil {
		return nil, err
	}
	s := c.store
	pkEnc := key.Encode(c.primaryKey)
	return s.tx.enqueue(c, "cursor.delete", func(_ context.Context, tx *store.Tx) (any, error) {
		if _, err := tx.Exec("DELETE FROM "+s.schema.table()+" WHERE key = ?", pkEnc); err != nil {
			return nil, err
		}
		s.invalidateCursors()
		return nil, nil
	}), nil
}

func (c *Cursor) checkWrite(op string) error {
	if err := c.checkStep(op); err != nil {
		return err
	}
	if c.store.tx.mode == ReadOnly {
		return errReadOnly(op)
	}
	if c.keyOnly {
		return domerr.New(domerr.InvalidState, "%s: key cursors have no value", op)
	}
	return nil
}

// iterate returns the queued step for a continue or advance: take count
// steps, then resolve with the cursor, or with nil at the end.
func (c *Cursor) iterate(target key.Key, count int) opFunc {
	return func(_ context.Context, tx *store.Tx) (any, error) {
		if target != nil {
			// A jump makes buffered rows before the target useless.
			c.invalidate()
		}
		for i := 0; i < count; i++ {
			found, err := c.step(tx, target, count-i)
			if err != nil {
				return nil, err
			}
			if !found {
				c.finish()
				return nil, nil
			}
			target = nil
		}
		c.gotValue = true
		return c, nil
	}
}

// step consumes rows until one survives the skip rules.
func (c *Cursor) step(tx *store.Tx, target key.Key, want int) (bool, error) {
	var targetEnc string
	if target != nil {
		targetEnc = key.Encode(target)
	}
	for {
		row, ok, err := c.pull(tx, targetEnc, want)
		if err != nil || !ok {
			return false, err
		}
		c.positioned, c.posKey, c.posPK = true, row.keyEnc, row.pkEnc
		if c.skip(row) {
			continue
		}
		return true, c.load(row)
	}
}

// skip applies the unique-direction rules. They run on every candidate,
// buffered or freshly fetched, so results never depend on the page size.
func (c *Cursor) skip(row cursorRow) bool {
	if !c.unique {
		return false
	}
	if c.multiEntry() {
		if c.seen[row.keyEnc] {
			return true
		}
		c.seen[row.keyEnc] = true
		return false
	}
	if c.key != nil && row.keyEnc == key.Encode(c.key) {
		return true
	}
	// Unique also means unique value: a record structurally equal to the
	// current one is passed over.
	return c.raw != nil && bytes.Equal(row.value, c.raw)
}

func (c *Cursor) load(row cursorRow) error {
	k, err := key.Decode(row.keyEnc)
	if err != nil {
		return fmt.Errorf("cursor key: %w", err)
	}
	pk, err := key.Decode(row.pkEnc)
	if err != nil {
		return fmt.Errorf("cursor primary key: %w", err)
	}
	c.key, c.primaryKey = k, pk
	c.value, c.raw = nil, nil
	if c.keyOnly {
		return nil
	}
	v, err := c.store.tx.serializer().Decode(row.value)
	if err != nil {
		return err
	}
	c.value, c.raw = v, row.value
	return nil
}

func (c *Cursor) finish() {
	c.done = true
	c.gotValue = false
	c.key, c.primaryKey, c.value, c.raw = nil, nil, nil, nil
	c.buffer = nil
	c.store.forgetCursor(c)
}

// invalidate drops the prefetch buffer.
func (c *Cursor) invalidate() {
	clear(c.buffer)
	c.buffer = nil
	c.exhausted = false
}

// pull returns the next candidate row, from the buffer when possible.
func (c *Cursor) pull(tx *store.Tx, targetEnc string, want int) (cursorRow, bool, error) {
	metrics := c.store.tx.db.factory.metrics
	if len(c.buffer) > 0 {
		metrics.CursorFetch("prefetch")
	} else if !c.exhausted {
		metrics.CursorFetch("sql")
		var err error
		if c.multiEntry() {
			err = c.fetchMultiEntry(tx, targetEnc)
		} else {
			err = c.fetch(tx, targetEnc, want)
		}
		if err != nil {
			return cursorRow{}, false, err
		}
	}
	if len(c.buffer) == 0 {
		return cursorRow{}, false, nil
	}
	row := c.buffer[0]
	c.buffer[0] = cursorRow{}
	c.buffer = c.buffer[1:]
	return row, true, nil
}

// fetch reads the next page of a single-valued key scan.
func (c *Cursor) fetch(tx *store.Tx, targetEnc string, want int) error {
	col := c.column()
	limit := max(c.store.tx.db.factory.cfg.PrefetchSize, want)

	pred, args := c.rng.Predicate(col)
	where := []querysql.Predicate{
		querysql.P(col + " IS NOT NULL"),
		querysql.P(pred, args...),
	}
	if c.positioned {
		where = append(where, c.after(col))
	}
	if targetEnc != "" {
		op := ">="
		if c.reverse {
			op = "<="
		}
		where = append(where, querysql.P(col+" "+op+" ?", targetEnc))
	}

	cols := []string{col + " AS ikey", "key"}
	if !c.keyOnly {
		cols = append(cols, "value")
	}
	rows, err := c.store.query(tx, querysql.Select{
		Columns: cols,
		From:    c.store.schema.table(),
		Where:   where,
		OrderBy: c.order(col),
		Limit:   limit,
	})
	if err != nil {
		return err
	}

	c.buffer = make([]cursorRow, 0, len(rows))
	for _, r := range rows {
		c.buffer = append(c.buffer, cursorRow{keyEnc: r.String("ikey"), pkEnc: r.String("key"), value: r.Bytes("value")})
	}
	c.exhausted = len(rows) < limit
	return nil
}

// after is the predicate selecting rows strictly past the scan position.
// Index cursors break ties on the primary key, ascending for unique
// directions so each key's first record is the lowest primary key.
func (c *Cursor) after(col string) querysql.Predicate {
	cmp := ">"
	if c.reverse {
		cmp = "<"
	}
	if c.index == nil {
		return querysql.P(col+" "+cmp+" ?", c.posKey)
	}
	pkCmp := cmp
	if c.unique {
		pkCmp = ">"
	}
	return querysql.P(fmt.Sprintf("%s %s ? OR (%s = ? AND key %s ?)", col, cmp, col, pkCmp),
		c.posKey, c.posKey, c.posPK)
}

func (c *Cursor) order(col string) []querysql.Order {
	orders := []querysql.Order{{Column: col, Desc: c.reverse}}
	if c.index != nil {
		orders = append(orders, querysql.Order{Column: "key", Desc: c.reverse && !c.unique})
	}
	return orders
}

// fetchMultiEntry expands every candidate row into one entry per matching
// array element, sorts the entries and buffers those past the scan
// position. The whole remaining scan is buffered at once.
func (c *Cursor) fetchMultiEntry(tx *store.Tx, targetEnc string) error {
	rows, err := c.store.multiEntryCandidates(tx, c.index.schema, c.rng, !c.keyOnly)
	if err != nil {
		return err
	}

	var entries []cursorRow
	for _, r := range rows {
		rowKey, err := key.Decode(r.String("ikey"))
		if err != nil {
			continue
		}
		for _, m := range keyrange.MultiEntryMatches(rowKey, c.rng) {
			entries = append(entries, cursorRow{keyEnc: key.Encode(m), pkEnc: r.String("key"), value: r.Bytes("value")})
		}
	}
	sortEntries(entries, c.reverse, c.unique)

	c.buffer = entries[:0]
	for _, e := range entries {
		if c.positioned && c.entryCompare(e) <= 0 {
			continue
		}
		if targetEnc != "" {
			if cmp := strings.Compare(e.keyEnc, targetEnc); (!c.reverse && cmp < 0) || (c.reverse && cmp > 0) {
				continue
			}
		}
		c.buffer = append(c.buffer, e)
	}
	c.exhausted = true
	return nil
}

// entryCompare orders e against the scan position in scan direction:
// > 0 means e comes later.
func (c *Cursor) entryCompare(e cursorRow) int {
	cmp := strings.Compare(e.keyEnc, c.posKey)
	if c.reverse {
		cmp = -cmp
	}
	if cmp != 0 {
		return cmp
	}
	pk := strings.Compare(e.pkEnc, c.posPK)
	if c.reverse && !c.unique {
		pk = -pk
	}
	return pk
}

// sortEntries orders multi-entry matches by (element key, primary key).
func sortEntries(entries []cursorRow, reverse, unique bool) {
	slices.SortStableFunc(entries, func(a, b cursorRow) int {
		cmp := strings.Compare(a.keyEnc, b.keyEnc)
		if reverse {
			cmp = -cmp
		}
		if cmp != 0 {
			return cmp
		}
		pk := strings.Compare(a.pkEnc, b.pkEnc)
		if reverse && !unique {
			pk = -pk
		}
		return pk
	})
}
