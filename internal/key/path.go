package key

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/roach88/sqlidb/internal/domerr"
)

// Path is a key path: absent, a single dotted string, or an array of
// dotted strings.
type Path struct {
	set   bool
	array bool
	parts []string
}

// NoPath returns the absent key path (out-of-line keys).
func NoPath() Path {
	return Path{}
}

// StringPath returns a single-string key path.
func StringPath(s string) Path {
	return Path{set: true, parts: []string{s}}
}

// ArrayPath returns an array key path.
func ArrayPath(paths ...string) Path {
	return Path{set: true, array: true, parts: append([]string{}, paths...)}
}

// PathOf converts nil, a string or a string slice into a Path.
func PathOf(v any) (Path, error) {
	switch val := v.(type) {
	case nil:
		return NoPath(), nil
	case Path:
		return val, nil
	case string:
		return StringPath(val), nil
	case []string:
		return ArrayPath(val...), nil
	case []any:
		parts := make([]string, len(val))
		for i, p := range val {
			s, ok := p.(string)
			if !ok {
				return Path{}, domerr.New(domerr.Syntax, "key path element %d is %T, not a string", i, p)
			}
			parts[i] = s
		}
		return ArrayPath(parts...), nil
	default:
		return Path{}, domerr.New(domerr.Syntax, "unsupported key path type %T", v)
	}
}

// IsNull reports whether the path is absent.
func (p Path) IsNull() bool { return !p.set }

// IsArray reports whether the path is an array of paths.
func (p Path) IsArray() bool { return p.array }

// Strings returns the component paths.
func (p Path) Strings() []string { return p.parts }

// String renders the path for messages and display.
func (p Path) String() string {
	switch {
	case !p.set:
		return "null"
	case p.array:
		return "[" + strings.Join(p.parts, ",") + "]"
	default:
		return p.parts[0]
	}
}

// MarshalJSON encodes the path as null, a string or an array of strings.
func (p Path) MarshalJSON() ([]byte, error) {
	switch {
	case !p.set:
		return []byte("null"), nil
	case p.array:
		return json.Marshal(p.parts)
	default:
		return json.Marshal(p.parts[0])
	}
}

// UnmarshalJSON decodes null, a string or an array of strings.
func (p *Path) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := PathOf(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Valid reports whether every component is "" or dot-separated identifiers.
// An array path must not be empty.
func (p Path) Valid() bool {
	if !p.set {
		return true
	}
	if p.array && len(p.parts) == 0 {
		return false
	}
	for _, s := range p.parts {
		if !validPathString(s) {
			return false
		}
	}
	return true
}

func validPathString(s string) bool {
	if s == "" {
		return true
	}
	for _, ident := range strings.Split(s, ".") {
		if !validIdentifier(ident) {
			return false
		}
	}
	return true
}

func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '$' || r == '_':
		case unicode.IsLetter(r) || unicode.Is(unicode.Nl, r):
		case i > 0 && (unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r) || unicode.Is(unicode.Pc, r)):
		case i > 0 && (r == '\u200c' || r == '\u200d'):
		default:
			return false
		}
	}
	return true
}

// Evaluate resolves path against a normalized value (maps, slices and
// scalars as produced by the serializer). The bool is false when any
// component is missing. Array paths yield []any.
func Evaluate(value any, p Path) (any, bool) {
	if !p.set {
		return nil, false
	}
	if p.array {
		out := make([]any, len(p.parts))
		for i, s := range p.parts {
			v, ok := evaluateString(value, s)
			if !ok {
				return nil, false
			}
			out[i] = v
		}
		return out, true
	}
	return evaluateString(value, p.parts[0])
}

func evaluateString(value any, path string) (any, bool) {
	if path == "" {
		return value, true
	}
	cur := value
	for _, ident := range strings.Split(path, ".") {
		switch val := cur.(type) {
		case map[string]any:
			next, ok := val[ident]
			if !ok {
				return nil, false
			}
			cur = next
		case string:
			if ident != "length" {
				return nil, false
			}
			cur = float64(len(utf16.Encode([]rune(val))))
		case []any:
			if ident != "length" {
				return nil, false
			}
			cur = float64(len(val))
		case []byte:
			if ident != "length" {
				return nil, false
			}
			cur = float64(len(val))
		default:
			return nil, false
		}
	}
	return cur, true
}

// ErrNoValue is returned by Extract when the path does not resolve.
var ErrNoValue = domerr.New(domerr.Data, "key path did not yield a value")

// Extract evaluates p on value and converts the result to a Key.
//
// With multiEntry set and an array result, invalid elements and duplicates
// are dropped instead of failing the whole key.
func Extract(value any, p Path, multiEntry bool) (Key, error) {
	v, ok := Evaluate(value, p)
	if !ok {
		return nil, ErrNoValue
	}
	if multiEntry {
		if arr, isArr := v.([]any); isArr {
			return distinctKeys(arr), nil
		}
	}
	k, err := FromValue(v)
	if err != nil {
		return nil, fmt.Errorf("key path %s: %w", p, err)
	}
	return k, nil
}

func distinctKeys(values []any) Array {
	out := Array{}
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		k, err := FromValue(v)
		if err != nil {
			continue
		}
		enc := Encode(k)
		if seen[enc] {
			continue
		}
		seen[enc] = true
		out = append(out, k)
	}
	return out
}

// CanInject reports whether Inject would succeed for a single-string path.
func CanInject(value any, path string) bool {
	if path == "" {
		return false
	}
	cur := value
	for _, ident := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return false
		}
		next, ok := m[ident]
		if !ok {
			return true
		}
		cur = next
	}
	return true
}

// Inject writes k at path inside value, creating intermediate objects.
// value must be a map; the maps are modified in place.
func Inject(value any, path string, k Key) error {
	if !CanInject(value, path) {
		return domerr.New(domerr.Data, "cannot inject key at path %q", path)
	}
	idents := strings.Split(path, ".")
	cur := value.(map[string]any)
	for _, ident := range idents[:len(idents)-1] {
		next, ok := cur[ident].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[ident] = next
		}
		cur = next
	}
	cur[idents[len(idents)-1]] = ToValue(k)
	return nil
}

// IsMultiEntryMatch reports whether needle equals rowKey or, when rowKey
// is an array, one of its elements.
func IsMultiEntryMatch(needle, rowKey Key) bool {
	enc := Encode(needle)
	if arr, ok := rowKey.(Array); ok {
		for _, elem := range arr {
			if Encode(elem) == enc {
				return true
			}
		}
		return false
	}
	return Encode(rowKey) == enc
}
