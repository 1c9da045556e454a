package querysql

import (
	"fmt"
	"strings"
)

// Predicate is a parameterized WHERE fragment.
type Predicate struct {
	SQL  string
	Args []any
}

// P builds a Predicate.
func P(sql string, args ...any) Predicate {
	return Predicate{SQL: sql, Args: args}
}

// Order is one ORDER BY term.
type Order struct {
	Column string
	Desc   bool
}

// Select describes a SELECT over one store table.
type Select struct {
	Columns []string
	From    string
	Where   []Predicate
	OrderBy []Order
	Limit   int
	Count   bool
}

// SQLCompiler compiles Select descriptions to parameterized SQL for SQLite.
//
// CRITICAL: Every non-count query has an ORDER BY with a deterministic
// tiebreaker. Values are always parameterized, never interpolated.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile converts a Select to parameterized SQL.
// Returns (sql, params, error) tuple.
func (c *SQLCompiler) Compile(q Select) (string, []any, error) {
	if q.From == "" {
		return "", nil, fmt.Errorf("select without table")
	}

	selectClause := c.compileColumns(q)

	whereClause, params := c.compileWhere(q.Where)

	var orderByClause string
	if !q.Count {
		orderByClause = " ORDER BY " + c.stableOrderKey(q.OrderBy)
	}

	var limitClause string
	if q.Limit > 0 && !q.Count {
		limitClause = fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	sql := fmt.Sprintf("SELECT %s FROM %s%s%s%s",
		selectClause,
		q.From,
		whereClause,
		orderByClause,
		limitClause)

	return sql, params, nil
}

func (c *SQLCompiler) compileColumns(q Select) string {
	if q.Count {
		return "COUNT(*) AS count"
	}
	if len(q.Columns) == 0 {
		return "*"
	}
	return strings.Join(q.Columns, ", ")
}

// compileWhere joins non-empty fragments with AND.
func (c *SQLCompiler) compileWhere(preds []Predicate) (string, []any) {
	var parts []string
	var params []any
	for _, p := range preds {
		if p.SQL == "" {
			continue
		}
		parts = append(parts, "("+p.SQL+")")
		params = append(params, p.Args...)
	}
	if len(parts) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(parts, " AND "), params
}

// stableOrderKey returns the ORDER BY terms, falling back to the primary
// key. COLLATE BINARY keeps encoded keys in codec order.
func (c *SQLCompiler) stableOrderKey(orders []Order) string {
	if len(orders) == 0 {
		return "key COLLATE BINARY ASC"
	}
	terms := make([]string, len(orders))
	for i, o := range orders {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		terms[i] = fmt.Sprintf("%s COLLATE BINARY %s", o.Column, dir)
	}
	return strings.Join(terms, ", ")
}
