package compiler

import (
	"fmt"

	"github.com/roach88/sqlidb/internal/key"
)

// Validation error codes.
const (
	ErrDuplicateStore    = "E101" // two stores with the same name
	ErrInvalidKeyPath    = "E102" // key path is not a valid identifier path
	ErrAutoIncrementPath = "E103" // autoIncrement with an array or empty key path
	ErrMissingIndexPath  = "E104" // index without a key path
	ErrMultiEntryArray   = "E105" // multiEntry index over an array key path
	ErrDuplicateIndex    = "E106" // two indexes with the same name on a store
	ErrEmptyName         = "E107" // store or index without a name
)

// ValidationError is one problem found in a schema.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a schema against the rules CreateObjectStore and
// CreateIndex enforce, so a bad schema fails before any upgrade starts.
// Returns all errors found.
func Validate(s *Schema) []ValidationError {
	var errs []ValidationError
	add := func(code, field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code})
	}

	stores := make(map[string]bool)
	for i, st := range s.Stores {
		field := fmt.Sprintf("stores[%d]", i)
		if st.Name == "" {
			add(ErrEmptyName, field, "store name is required")
		} else {
			field = "store." + st.Name
		}
		if stores[st.Name] {
			add(ErrDuplicateStore, field, "store %q is declared twice", st.Name)
		}
		stores[st.Name] = true

		path, err := key.PathOf(st.KeyPath)
		switch {
		case err != nil:
			add(ErrInvalidKeyPath, field+".keyPath", "%v", err)
		case !path.Valid():
			add(ErrInvalidKeyPath, field+".keyPath", "invalid key path %s", path)
		case st.AutoIncrement && (path.IsArray() || (!path.IsNull() && path.String() == "")):
			add(ErrAutoIncrementPath, field+".keyPath", "autoIncrement needs an out-of-line key or a non-empty string key path")
		}

		indexes := make(map[string]bool)
		for j, idx := range st.Indexes {
			ifield := fmt.Sprintf("%s.indexes[%d]", field, j)
			if idx.Name == "" {
				add(ErrEmptyName, ifield, "index name is required")
			} else {
				ifield = field + ".index." + idx.Name
			}
			if indexes[idx.Name] {
				add(ErrDuplicateIndex, ifield, "index %q is declared twice", idx.Name)
			}
			indexes[idx.Name] = true

			ipath, err := key.PathOf(idx.KeyPath)
			switch {
			case err != nil:
				add(ErrInvalidKeyPath, ifield+".keyPath", "%v", err)
			case ipath.IsNull():
				add(ErrMissingIndexPath, ifield+".keyPath", "keyPath is required")
			case !ipath.Valid():
				add(ErrInvalidKeyPath, ifield+".keyPath", "invalid key path %s", ipath)
			case idx.MultiEntry && ipath.IsArray():
				add(ErrMultiEntryArray, ifield, "multiEntry indexes cannot use an array key path")
			}
		}
	}
	return errs
}
