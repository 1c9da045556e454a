// Package keyrange implements intervals over keys and their compilation
// into SQL predicates over encoded key columns.
package keyrange

import (
	"fmt"
	"strings"

	"github.com/roach88/sqlidb/internal/domerr"
	"github.com/roach88/sqlidb/internal/key"
)

// Range is an interval over keys. A nil bound is unbounded on that side.
// The zero value is the unbounded range.
type Range struct {
	Lower     key.Key
	Upper     key.Key
	LowerOpen bool
	UpperOpen bool

	lowerEnc string
	upperEnc string
}

// Only returns the closed range containing exactly k.
func Only(v any) (*Range, error) {
	k, err := key.FromValue(v)
	if err != nil {
		return nil, err
	}
	return newRange(k, k, false, false), nil
}

// LowerBound returns the range of keys above v.
func LowerBound(v any, open bool) (*Range, error) {
	k, err := key.FromValue(v)
	if err != nil {
		return nil, err
	}
	return newRange(k, nil, open, false), nil
}

// UpperBound returns the range of keys below v.
func UpperBound(v any, open bool) (*Range, error) {
	k, err := key.FromValue(v)
	if err != nil {
		return nil, err
	}
	return newRange(nil, k, false, open), nil
}

// Bound returns the range between lower and upper.
// Returns a DataError when lower > upper, or when they are equal and
// either side is open.
func Bound(lower, upper any, lowerOpen, upperOpen bool) (*Range, error) {
	lk, err := key.FromValue(lower)
	if err != nil {
		return nil, err
	}
	uk, err := key.FromValue(upper)
	if err != nil {
		return nil, err
	}
	switch c := key.Compare(lk, uk); {
	case c > 0:
		return nil, domerr.New(domerr.Data, "lower bound is greater than upper bound")
	case c == 0 && (lowerOpen || upperOpen):
		return nil, domerr.New(domerr.Data, "equal bounds with an open side")
	}
	return newRange(lk, uk, lowerOpen, upperOpen), nil
}

func newRange(lower, upper key.Key, lowerOpen, upperOpen bool) *Range {
	r := &Range{Lower: lower, Upper: upper, LowerOpen: lowerOpen, UpperOpen: upperOpen}
	r.cache()
	return r
}

func (r *Range) cache() {
	if r.Lower != nil && r.lowerEnc == "" {
		r.lowerEnc = key.Encode(r.Lower)
	}
	if r.Upper != nil && r.upperEnc == "" {
		r.upperEnc = key.Encode(r.Upper)
	}
}

// From normalizes nil, a Range, a *Range or a raw key value into a range.
// A raw key becomes the closed range over itself.
func From(v any) (*Range, error) {
	switch val := v.(type) {
	case nil:
		return &Range{}, nil
	case *Range:
		if val == nil {
			return &Range{}, nil
		}
		val.cache()
		return val, nil
	case Range:
		val.cache()
		return &val, nil
	default:
		return Only(v)
	}
}

// IsSingle reports whether the range contains exactly one key.
func (r *Range) IsSingle() bool {
	return r.Lower != nil && r.Upper != nil && !r.LowerOpen && !r.UpperOpen &&
		r.LowerEncoded() == r.UpperEncoded()
}

// LowerEncoded returns the encoded lower bound, or "" when unbounded.
func (r *Range) LowerEncoded() string {
	r.cache()
	return r.lowerEnc
}

// UpperEncoded returns the encoded upper bound, or "" when unbounded.
func (r *Range) UpperEncoded() string {
	r.cache()
	return r.upperEnc
}

// Includes reports whether k lies within the range.
func (r *Range) Includes(k key.Key) bool {
	return r.IncludesEncoded(key.Encode(k))
}

// IncludesEncoded is Includes over an already encoded key.
func (r *Range) IncludesEncoded(enc string) bool {
	if r.Lower != nil {
		c := strings.Compare(enc, r.LowerEncoded())
		if c < 0 || (c == 0 && r.LowerOpen) {
			return false
		}
	}
	if r.Upper != nil {
		c := strings.Compare(enc, r.UpperEncoded())
		if c > 0 || (c == 0 && r.UpperOpen) {
			return false
		}
	}
	return true
}

// Predicate compiles the range into a SQL fragment over column with
// positional parameters. An unbounded range yields "" and no args.
func (r *Range) Predicate(column string) (string, []any) {
	var clauses []string
	var args []any
	if r.Lower != nil {
		op := ">="
		if r.LowerOpen {
			op = ">"
		}
		clauses = append(clauses, fmt.Sprintf("%s %s ?", column, op))
		args = append(args, r.LowerEncoded())
	}
	if r.Upper != nil {
		op := "<="
		if r.UpperOpen {
			op = "<"
		}
		clauses = append(clauses, fmt.Sprintf("%s %s ?", column, op))
		args = append(args, r.UpperEncoded())
	}
	return strings.Join(clauses, " AND "), args
}

// String renders the range in interval notation.
func (r *Range) String() string {
	var sb strings.Builder
	if r.Lower == nil || r.LowerOpen {
		sb.WriteByte('(')
	} else {
		sb.WriteByte('[')
	}
	if r.Lower != nil {
		fmt.Fprintf(&sb, "%v", key.ToValue(r.Lower))
	} else {
		sb.WriteString("-inf")
	}
	sb.WriteString(", ")
	if r.Upper != nil {
		fmt.Fprintf(&sb, "%v", key.ToValue(r.Upper))
	} else {
		sb.WriteString("+inf")
	}
	if r.Upper == nil || r.UpperOpen {
		sb.WriteByte(')')
	} else {
		sb.WriteByte(']')
	}
	return sb.String()
}

// MultiEntryMatches returns the distinct elements of rowKey that fall in r.
// A non-array rowKey is treated as a one-element array.
func MultiEntryMatches(rowKey key.Key, r *Range) []key.Key {
	elems, ok := rowKey.(key.Array)
	if !ok {
		elems = key.Array{rowKey}
	}
	var out []key.Key
	seen := make(map[string]bool, len(elems))
	for _, elem := range elems {
		enc := key.Encode(elem)
		if seen[enc] || !r.IncludesEncoded(enc) {
			continue
		}
		seen[enc] = true
		out = append(out, elem)
	}
	return out
}
