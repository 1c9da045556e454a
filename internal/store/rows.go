package store

import (
	"database/sql"
	"fmt"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Rows is an indexable, length-bearing result set.
type Rows []Row

// String returns a TEXT column. BLOB values are converted; NULL is "".
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Bytes returns a BLOB column. NULL is nil.
func (r Row) Bytes(col string) []byte {
	switch v := r[col].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}

// Int returns an INTEGER column. NULL and non-numeric values are 0.
func (r Row) Int(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// IsNull reports whether the column is NULL or absent.
func (r Row) IsNull(col string) bool {
	return r[col] == nil
}

// collect reads and closes rows.
func collect(rows *sql.Rows) (Rows, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, Translate(fmt.Errorf("columns: %w", err))
	}

	out := Rows{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, Translate(fmt.Errorf("scan: %w", err))
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, Translate(fmt.Errorf("iterate rows: %w", err))
	}
	return out, nil
}
