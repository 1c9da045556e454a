package engine

import (
	"slices"

	"github.com/roach88/sqlidb/internal/key"
	"github.com/roach88/sqlidb/internal/querysql"
	"github.com/roach88/sqlidb/internal/store"
)

// storeSchema is the in-memory schema of one object store.
//
// Schema changes update name fields synchronously, at the call site.
// persisted and column change only when the queued SQL that renames the
// table or column runs, so queued operations always address the physical
// names that exist at the moment they execute.
type storeSchema struct {
	name          string
	persisted     string
	keyPath       key.Path
	autoIncrement bool
	deleted       bool

	// indexes holds live and deleted indexes by name; order is the
	// persisted index list order.
	indexes map[string]*indexSchema
	order   []string
}

type indexSchema struct {
	name       string
	column     string
	keyPath    key.Path
	unique     bool
	multiEntry bool
	deleted    bool
	pending    bool
}

func newStoreSchema(name string, keyPath key.Path, autoIncrement bool) *storeSchema {
	return &storeSchema{
		name:          name,
		persisted:     name,
		keyPath:       keyPath,
		autoIncrement: autoIncrement,
		indexes:       make(map[string]*indexSchema),
	}
}

func schemaFromMeta(m store.StoreMeta) *storeSchema {
	s := newStoreSchema(m.Name, m.KeyPath, m.AutoIncrement)
	for _, im := range m.Indexes {
		s.indexes[im.Name] = &indexSchema{
			name:       im.Name,
			column:     querysql.IndexColumnName(im.Name),
			keyPath:    im.KeyPath,
			unique:     im.Unique,
			multiEntry: im.MultiEntry,
			deleted:    im.Deleted,
		}
		s.order = append(s.order, im.Name)
	}
	return s
}

// table returns the quoted name of the store's table as it currently
// exists in SQL.
func (s *storeSchema) table() string {
	return querysql.StoreTable(s.persisted)
}

// index returns a live index by name.
func (s *storeSchema) index(name string) (*indexSchema, bool) {
	idx, ok := s.indexes[name]
	if !ok || idx.deleted {
		return nil, false
	}
	return idx, true
}

// live returns the live indexes in persisted order.
func (s *storeSchema) live() []*indexSchema {
	out := make([]*indexSchema, 0, len(s.order))
	for _, name := range s.order {
		if idx := s.indexes[name]; !idx.deleted {
			out = append(out, idx)
		}
	}
	return out
}

func (s *storeSchema) indexNames() []string {
	var names []string
	for _, idx := range s.live() {
		names = append(names, idx.name)
	}
	slices.Sort(names)
	return names
}

// putIndex adds or replaces an index entry, keeping its list position.
func (s *storeSchema) putIndex(idx *indexSchema) {
	if _, ok := s.indexes[idx.name]; !ok {
		s.order = append(s.order, idx.name)
	}
	s.indexes[idx.name] = idx
}

// renameIndex moves an entry to a new name, replacing any deleted entry
// already using it.
func (s *storeSchema) renameIndex(idx *indexSchema, newName string) {
	if _, ok := s.indexes[newName]; ok {
		s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == newName })
	}
	for i, n := range s.order {
		if n == idx.name {
			s.order[i] = newName
		}
	}
	delete(s.indexes, idx.name)
	idx.name = newName
	s.indexes[newName] = idx
}

func (s *storeSchema) indexList() []store.IndexMeta {
	out := make([]store.IndexMeta, 0, len(s.order))
	for _, name := range s.order {
		idx := s.indexes[name]
		out = append(out, store.IndexMeta{
			Name:       idx.name,
			KeyPath:    idx.keyPath,
			Unique:     idx.unique,
			MultiEntry: idx.multiEntry,
			Deleted:    idx.deleted,
		})
	}
	return out
}
