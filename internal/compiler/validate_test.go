package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		schema Schema
		codes  []string
	}{
		{
			name: "valid",
			schema: Schema{Stores: []StoreDef{
				{Name: "s", KeyPath: "id", AutoIncrement: true, Indexes: []IndexDef{{Name: "i", KeyPath: []any{"a", "b"}}}},
				{Name: "t"},
			}},
		},
		{
			name:   "duplicate store",
			schema: Schema{Stores: []StoreDef{{Name: "s"}, {Name: "s"}}},
			codes:  []string{ErrDuplicateStore},
		},
		{
			name:   "invalid key path",
			schema: Schema{Stores: []StoreDef{{Name: "s", KeyPath: "a b"}}},
			codes:  []string{ErrInvalidKeyPath},
		},
		{
			name:   "autoIncrement with array path",
			schema: Schema{Stores: []StoreDef{{Name: "s", KeyPath: []string{"a"}, AutoIncrement: true}}},
			codes:  []string{ErrAutoIncrementPath},
		},
		{
			name:   "autoIncrement with empty path",
			schema: Schema{Stores: []StoreDef{{Name: "s", KeyPath: "", AutoIncrement: true}}},
			codes:  []string{ErrAutoIncrementPath},
		},
		{
			name: "index problems are all reported",
			schema: Schema{Stores: []StoreDef{{Name: "s", Indexes: []IndexDef{
				{Name: "a"},
				{Name: "b", KeyPath: []string{"x", "y"}, MultiEntry: true},
				{Name: "b", KeyPath: "z"},
				{KeyPath: "w"},
			}}}},
			codes: []string{ErrMissingIndexPath, ErrMultiEntryArray, ErrDuplicateIndex, ErrEmptyName},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(&tt.schema)
			var codes []string
			for _, e := range errs {
				codes = append(codes, e.Code)
			}
			assert.Equal(t, tt.codes, codes)
		})
	}
}

func TestValidationErrorString(t *testing.T) {
	err := ValidationError{Field: "store.s.keyPath", Message: "invalid key path a b", Code: ErrInvalidKeyPath}
	assert.Equal(t, "[E102] store.s.keyPath: invalid key path a b", err.Error())
}
