package compiler

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/sqlidb/internal/engine"
	"github.com/roach88/sqlidb/internal/key"
)

// Change is one schema operation performed by an upgrade.
type Change struct {
	Op    string `json:"op"` // createStore, deleteStore, createIndex, deleteIndex
	Store string `json:"store"`
	Index string `json:"index,omitempty"`
}

func (c Change) String() string {
	if c.Index != "" {
		return fmt.Sprintf("%s %s.%s", c.Op, c.Store, c.Index)
	}
	return fmt.Sprintf("%s %s", c.Op, c.Store)
}

// ApplyResult reports what Apply did.
type ApplyResult struct {
	Database   string   `json:"database"`
	OldVersion int64    `json:"oldVersion"`
	Version    int64    `json:"version"`
	Changes    []Change `json:"changes"`
}

// Apply validates s and upgrades the named database to it. Stores and
// indexes missing from the database are created; indexes whose definition
// changed are re-created. With prune, stores and indexes the schema does
// not declare are deleted.
func Apply(ctx context.Context, f *engine.Factory, name string, s *Schema, prune bool) (*ApplyResult, error) {
	if verrs := Validate(s); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, e := range verrs {
			errs[i] = e
		}
		return nil, fmt.Errorf("invalid schema: %w", errors.Join(errs...))
	}

	infos, err := f.Databases(ctx)
	if err != nil {
		return nil, err
	}
	var current int64
	for _, info := range infos {
		if info.Name == name {
			current = info.Version
		}
	}
	target := s.Version
	if target == 0 {
		target = current + 1
	}
	if target <= current {
		return nil, fmt.Errorf("schema version %d is not above the current version %d of %q", target, current, name)
	}

	result := &ApplyResult{Database: name, OldVersion: current, Version: target}
	db, err := f.Open(ctx, name, target, s.Upgrade(prune, func(c Change) {
		result.Changes = append(result.Changes, c)
	}))
	if err != nil {
		return nil, err
	}
	return result, db.Close()
}

// Upgrade returns an upgrade callback that brings a database in line with
// s. report, if not nil, receives every change as it is queued.
func (s *Schema) Upgrade(prune bool, report func(Change)) engine.UpgradeFunc {
	if report == nil {
		report = func(Change) {}
	}
	return func(db *engine.Database, tx *engine.Transaction, _ int64) error {
		declared := make(map[string]bool, len(s.Stores))
		for _, def := range s.Stores {
			declared[def.Name] = true
			if err := applyStore(db, tx, def, prune, report); err != nil {
				return fmt.Errorf("store %q: %w", def.Name, err)
			}
		}
		if !prune {
			return nil
		}
		for _, name := range db.ObjectStoreNames() {
			if declared[name] {
				continue
			}
			if err := db.DeleteObjectStore(name); err != nil {
				return err
			}
			report(Change{Op: "deleteStore", Store: name})
		}
		return nil
	}
}

func applyStore(db *engine.Database, tx *engine.Transaction, def StoreDef, prune bool, report func(Change)) error {
	path, err := key.PathOf(def.KeyPath)
	if err != nil {
		return err
	}

	var store *engine.ObjectStore
	if slices.Contains(db.ObjectStoreNames(), def.Name) {
		if store, err = tx.ObjectStore(def.Name); err != nil {
			return err
		}
		if !samePath(store.KeyPath(), path) || store.AutoIncrement() != def.AutoIncrement {
			return fmt.Errorf("existing store has key path %s and autoIncrement %t; delete it to change either",
				store.KeyPath(), store.AutoIncrement())
		}
	} else {
		store, err = db.CreateObjectStore(def.Name, engine.StoreOptions{KeyPath: def.KeyPath, AutoIncrement: def.AutoIncrement})
		if err != nil {
			return err
		}
		report(Change{Op: "createStore", Store: def.Name})
	}

	declared := make(map[string]bool, len(def.Indexes))
	for _, idef := range def.Indexes {
		declared[idef.Name] = true
		ipath, err := key.PathOf(idef.KeyPath)
		if err != nil {
			return err
		}
		if idx, err := store.Index(idef.Name); err == nil {
			if samePath(idx.KeyPath(), ipath) && idx.Unique() == idef.Unique && idx.MultiEntry() == idef.MultiEntry {
				continue
			}
			if err := store.DeleteIndex(idef.Name); err != nil {
				return err
			}
			report(Change{Op: "deleteIndex", Store: def.Name, Index: idef.Name})
		}
		opts := engine.IndexOptions{Unique: idef.Unique, MultiEntry: idef.MultiEntry}
		if _, err := store.CreateIndex(idef.Name, idef.KeyPath, opts); err != nil {
			return fmt.Errorf("index %q: %w", idef.Name, err)
		}
		report(Change{Op: "createIndex", Store: def.Name, Index: idef.Name})
	}

	if !prune {
		return nil
	}
	for _, name := range store.IndexNames() {
		if declared[name] {
			continue
		}
		if err := store.DeleteIndex(name); err != nil {
			return err
		}
		report(Change{Op: "deleteIndex", Store: def.Name, Index: name})
	}
	return nil
}

func samePath(a, b key.Path) bool {
	return a.IsNull() == b.IsNull() && a.IsArray() == b.IsArray() && slices.Equal(a.Strings(), b.Strings())
}
