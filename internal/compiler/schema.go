// Package compiler turns CUE schema files into store and index definitions
// and applies them to a database inside a version-change transaction.
//
// A schema file declares the target version and one struct per store:
//
//	version: 2
//	store: people: {
//		keyPath:       "id"
//		autoIncrement: true
//		index: byName: keyPath: "name"
//		index: byTag: {keyPath: "tags", multiEntry: true}
//	}
package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Schema is the desired shape of one database.
type Schema struct {
	// Version is the version to upgrade to; 0 means one above the
	// current version.
	Version int64      `json:"version,omitempty" yaml:"version,omitempty"`
	Stores  []StoreDef `json:"stores" yaml:"stores"`
}

// StoreDef declares an object store.
type StoreDef struct {
	Name string `json:"name" yaml:"name"`

	// KeyPath is nil, a string or a list of strings.
	KeyPath       any        `json:"keyPath,omitempty" yaml:"keyPath,omitempty"`
	AutoIncrement bool       `json:"autoIncrement,omitempty" yaml:"autoIncrement,omitempty"`
	Indexes       []IndexDef `json:"indexes,omitempty" yaml:"indexes,omitempty"`
}

// IndexDef declares an index on a store.
type IndexDef struct {
	Name       string `json:"name" yaml:"name"`
	KeyPath    any    `json:"keyPath" yaml:"keyPath"`
	Unique     bool   `json:"unique,omitempty" yaml:"unique,omitempty"`
	MultiEntry bool   `json:"multiEntry,omitempty" yaml:"multiEntry,omitempty"`
}

// CompileError is a schema error with its CUE source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadFile reads and compiles a single CUE schema file.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	v := cuecontext.New().CompileBytes(data, cue.Filename(path))
	return Compile(v)
}

// Compile parses a CUE value into a Schema. Stores and indexes keep their
// declaration order.
func Compile(v cue.Value) (*Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	schema := &Schema{}
	if ver := v.LookupPath(cue.ParsePath("version")); ver.Exists() {
		n, err := ver.Int64()
		if err != nil {
			return nil, &CompileError{Field: "version", Message: "must be an integer", Pos: ver.Pos()}
		}
		if n < 0 {
			return nil, &CompileError{Field: "version", Message: "must not be negative", Pos: ver.Pos()}
		}
		schema.Version = n
	}

	stores := v.LookupPath(cue.ParsePath("store"))
	if !stores.Exists() {
		return schema, nil
	}
	iter, err := stores.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		def, err := compileStore(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		schema.Stores = append(schema.Stores, *def)
	}
	return schema, nil
}

func compileStore(name string, v cue.Value) (*StoreDef, error) {
	def := &StoreDef{Name: name}
	field := "store." + name

	var err error
	if kp := v.LookupPath(cue.ParsePath("keyPath")); kp.Exists() {
		def.KeyPath, err = compileKeyPath(field+".keyPath", kp)
		if err != nil {
			return nil, err
		}
	}
	if ai := v.LookupPath(cue.ParsePath("autoIncrement")); ai.Exists() {
		def.AutoIncrement, err = ai.Bool()
		if err != nil {
			return nil, &CompileError{Field: field + ".autoIncrement", Message: "must be a boolean", Pos: ai.Pos()}
		}
	}

	indexes := v.LookupPath(cue.ParsePath("index"))
	if !indexes.Exists() {
		return def, nil
	}
	iter, err := indexes.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		idx, err := compileIndex(field+".index."+iter.Label(), iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		def.Indexes = append(def.Indexes, *idx)
	}
	return def, nil
}

func compileIndex(field, name string, v cue.Value) (*IndexDef, error) {
	idx := &IndexDef{Name: name}

	kp := v.LookupPath(cue.ParsePath("keyPath"))
	if !kp.Exists() {
		return nil, &CompileError{Field: field + ".keyPath", Message: "keyPath is required", Pos: v.Pos()}
	}
	var err error
	idx.KeyPath, err = compileKeyPath(field+".keyPath", kp)
	if err != nil {
		return nil, err
	}

	for _, flag := range []struct {
		name string
		dst  *bool
	}{{"unique", &idx.Unique}, {"multiEntry", &idx.MultiEntry}} {
		fv := v.LookupPath(cue.ParsePath(flag.name))
		if !fv.Exists() {
			continue
		}
		if *flag.dst, err = fv.Bool(); err != nil {
			return nil, &CompileError{Field: field + "." + flag.name, Message: "must be a boolean", Pos: fv.Pos()}
		}
	}
	return idx, nil
}

// compileKeyPath accepts null, a string or a list of strings.
func compileKeyPath(field string, v cue.Value) (any, error) {
	switch v.IncompleteKind() {
	case cue.NullKind:
		return nil, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return s, nil
	case cue.ListKind:
		list, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		var parts []string
		for list.Next() {
			s, err := list.Value().String()
			if err != nil {
				return nil, &CompileError{Field: field, Message: "key path list elements must be strings", Pos: list.Value().Pos()}
			}
			parts = append(parts, s)
		}
		return parts, nil
	default:
		return nil, &CompileError{Field: field, Message: "must be null, a string or a list of strings", Pos: v.Pos()}
	}
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
