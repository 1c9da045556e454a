package querysql

import (
	"strings"
)

// escapeNULAndCasing makes names safe for SQLite identifiers and file names.
// SQLite treats table and column names case-insensitively, so uppercase
// letters get a marker to keep "Foo" and "foo" distinct.
func escapeNULAndCasing(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r == '^':
			sb.WriteString("^^")
		case r == 0:
			sb.WriteString("^0")
		case r >= 'A' && r <= 'Z':
			sb.WriteByte('^')
			sb.WriteRune(r)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Quote wraps an identifier in double quotes, doubling embedded quotes.
func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// StoreTable returns the quoted table name for an object store.
func StoreTable(store string) string {
	return Quote("s_" + escapeNULAndCasing(store))
}

// IndexColumnName returns the unquoted column name for an index.
func IndexColumnName(index string) string {
	return "_" + escapeNULAndCasing(index)
}

// IndexColumn returns the quoted column name for an index.
func IndexColumn(index string) string {
	return Quote(IndexColumnName(index))
}

// DatabaseFile returns the file name holding a database.
// Path separators and drive colons are escaped so the name stays inside
// the data directory.
func DatabaseFile(name string) string {
	escaped := escapeNULAndCasing(name)
	escaped = strings.NewReplacer("/", "^s", `\`, "^b", ":", "^c").Replace(escaped)
	return "D_" + escaped + ".sqlite"
}

// EscapeLike escapes a LIKE pattern fragment for use with ESCAPE '^'.
func EscapeLike(s string) string {
	return strings.NewReplacer("^", "^^", "%", "^%", "_", "^_").Replace(s)
}
