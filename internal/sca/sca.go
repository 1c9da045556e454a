// Package sca serializes stored values.
//
// Values are first normalized into a small data model (nil, bool, float64,
// string, time.Time, []byte, []any, map[string]any) and then written with
// msgpack using sorted map keys, so two structurally equal values always
// produce the same bytes.
package sca

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"

	"github.com/roach88/sqlidb/internal/domerr"
	"github.com/roach88/sqlidb/internal/key"
)

// Serializer converts values to bytes and back.
type Serializer interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// Msgpack is the default Serializer.
//
// Maps and lists reachable more than once are written once; later
// occurrences are back-references (msgpack extension refExtID) to the
// container's position in write order. Decode rebuilds the shared and
// cyclic structure.
type Msgpack struct{}

var _ Serializer = Msgpack{}

const refExtID int8 = 1

// backRef is the extension payload: the index of an already written
// container.
type backRef uint32

func (r *backRef) MarshalMsgpack() ([]byte, error) {
	return binary.BigEndian.AppendUint32(nil, uint32(*r)), nil
}

func (r *backRef) UnmarshalMsgpack(b []byte) error {
	if len(b) != 4 {
		return fmt.Errorf("back-reference: want 4 bytes, got %d", len(b))
	}
	*r = backRef(binary.BigEndian.Uint32(b))
	return nil
}

func init() {
	msgpack.RegisterExt(refExtID, (*backRef)(nil))
}

// Encode normalizes v and writes it as msgpack.
// Returns a DataCloneError for values that cannot be cloned.
func (Msgpack) Encode(v any) ([]byte, error) {
	norm, err := Normalize(v)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	w := &writer{enc: enc, ids: map[identity]uint32{}}
	err = w.write(norm)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, domerr.Wrap(domerr.DataClone, err, "encode %T", v)
	}
	return buf.Bytes(), nil
}

// Decode reads msgpack bytes back into the normalized data model.
func (Msgpack) Decode(data []byte) (any, error) {
	dec := msgpack.GetDecoder()
	dec.Reset(bytes.NewReader(data))
	r := &reader{dec: dec}
	v, err := r.read()
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}

// identity names a container of the normalized model. Lists are
// identified by their backing array and length.
type identity struct {
	typ reflect.Type
	ptr uintptr
	n   int
}

func containerID(v any) (identity, bool) {
	switch c := v.(type) {
	case map[string]any:
		return identity{typ: reflect.TypeOf(c), ptr: reflect.ValueOf(c).Pointer()}, true
	case []any:
		if len(c) == 0 {
			return identity{}, false
		}
		return identity{typ: reflect.TypeOf(c), ptr: reflect.ValueOf(c).Pointer(), n: len(c)}, true
	}
	return identity{}, false
}

type writer struct {
	enc *msgpack.Encoder
	ids map[identity]uint32
}

func (w *writer) write(v any) error {
	id, ok := containerID(v)
	if !ok {
		return w.enc.Encode(v)
	}
	if ref, seen := w.ids[id]; seen {
		r := backRef(ref)
		return w.enc.Encode(&r)
	}
	w.ids[id] = uint32(len(w.ids))

	switch c := v.(type) {
	case map[string]any:
		if err := w.enc.EncodeMapLen(len(c)); err != nil {
			return err
		}
		keys := make([]string, 0, len(c))
		for k := range c {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			if err := w.enc.EncodeString(k); err != nil {
				return err
			}
			if err := w.write(c[k]); err != nil {
				return err
			}
		}
	case []any:
		if err := w.enc.EncodeArrayLen(len(c)); err != nil {
			return err
		}
		for _, elem := range c {
			if err := w.write(elem); err != nil {
				return err
			}
		}
	}
	return nil
}

// reader mirrors writer: containers are numbered in the order they start,
// before their elements are read.
type reader struct {
	dec  *msgpack.Decoder
	seen []any
}

func (r *reader) read() (any, error) {
	c, err := r.dec.PeekCode()
	if err != nil {
		return nil, err
	}
	switch {
	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		n, err := r.dec.DecodeMapLen()
		if err != nil {
			return nil, err
		}
		m := make(map[string]any, n)
		r.seen = append(r.seen, m)
		for range n {
			k, err := r.dec.DecodeString()
			if err != nil {
				return nil, err
			}
			if m[k], err = r.read(); err != nil {
				return nil, err
			}
		}
		return m, nil

	case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
		n, err := r.dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return []any{}, nil
		}
		list := make([]any, n)
		r.seen = append(r.seen, list)
		for i := range list {
			if list[i], err = r.read(); err != nil {
				return nil, err
			}
		}
		return list, nil
	}

	v, err := r.dec.DecodeInterface()
	if err != nil {
		return nil, err
	}
	if ref, ok := v.(*backRef); ok {
		if int(*ref) >= len(r.seen) {
			return nil, fmt.Errorf("back-reference %d out of range", *ref)
		}
		return r.seen[*ref], nil
	}
	return fixup(v), nil
}

// Clone returns a deep copy of v as produced by a round trip through s.
func Clone(s Serializer, v any) (any, error) {
	data, err := s.Encode(v)
	if err != nil {
		return nil, err
	}
	return s.Decode(data)
}

// fixup maps decoded scalars onto the normalized data model.
func fixup(v any) any {
	switch val := v.(type) {
	case int8:
		return float64(val)
	case int16:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case uint8:
		return float64(val)
	case uint16:
		return float64(val)
	case uint32:
		return float64(val)
	case uint64:
		return float64(val)
	case float32:
		return float64(val)
	case time.Time:
		return val.UTC()
	default:
		return v
	}
}

// Normalize converts v into the serializer's data model.
//
// Integers and floats become float64, times become UTC, structs become maps
// keyed by their json tag or field name, pointers are dereferenced and keys
// become their plain values. A map, slice or struct pointer reached more
// than once becomes one shared container, so cyclic values keep their
// cycles. Functions, channels, complex numbers, unsafe pointers, errors and
// maps with non-string keys are rejected with a DataCloneError.
func Normalize(v any) (any, error) {
	n := &normalizer{done: map[identity]any{}, active: map[uintptr]bool{}}
	return n.normalize(reflect.ValueOf(v))
}

var (
	timeType  = reflect.TypeOf(time.Time{})
	errorType = reflect.TypeOf((*error)(nil)).Elem()
	keyType   = reflect.TypeOf((*key.Key)(nil)).Elem()
)

type normalizer struct {
	// done maps source containers to their normalized counterparts. An
	// entry is added before the container's elements are visited.
	done map[identity]any
	// active holds the pointers to non-container values being followed;
	// meeting one again is a cycle with nothing to share.
	active map[uintptr]bool
}

func (n *normalizer) normalize(rv reflect.Value) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}
	if rv.Type() == timeType {
		return rv.Interface().(time.Time).UTC(), nil
	}
	if rv.Type().Implements(keyType) && rv.Kind() != reflect.Interface {
		return key.ToValue(rv.Interface().(key.Key)), nil
	}
	if rv.Type().Implements(errorType) {
		return nil, notClonable(rv)
	}

	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil

	case reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return n.normalize(rv.Elem())

	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Elem().Kind() == reflect.Struct && rv.Elem().Type() != timeType {
			id := identity{typ: rv.Type(), ptr: rv.Pointer()}
			if out, ok := n.done[id]; ok {
				return out, nil
			}
			out := make(map[string]any, rv.Elem().NumField())
			n.done[id] = out
			if err := n.fillStruct(rv.Elem(), out); err != nil {
				return nil, err
			}
			return out, nil
		}
		ptr := rv.Pointer()
		if n.active[ptr] {
			return nil, domerr.New(domerr.DataClone, "cyclic %s value", rv.Type())
		}
		n.active[ptr] = true
		defer delete(n.active, ptr)
		return n.normalize(rv.Elem())

	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return append([]byte(nil), rv.Bytes()...), nil
		}
		if rv.Len() == 0 {
			return []any{}, nil
		}
		id := identity{typ: rv.Type(), ptr: rv.Pointer(), n: rv.Len()}
		if out, ok := n.done[id]; ok {
			return out, nil
		}
		out := make([]any, rv.Len())
		n.done[id] = out
		if err := n.fillList(rv, out); err != nil {
			return nil, err
		}
		return out, nil

	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			out := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(out), rv)
			return out, nil
		}
		out := make([]any, rv.Len())
		if err := n.fillList(rv, out); err != nil {
			return nil, err
		}
		return out, nil

	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Key().Kind() != reflect.String {
			return nil, notClonable(rv)
		}
		id := identity{typ: rv.Type(), ptr: rv.Pointer()}
		if out, ok := n.done[id]; ok {
			return out, nil
		}
		out := make(map[string]any, rv.Len())
		n.done[id] = out
		iter := rv.MapRange()
		for iter.Next() {
			elem, err := n.normalize(iter.Value())
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = elem
		}
		return out, nil

	case reflect.Struct:
		out := make(map[string]any, rv.NumField())
		if err := n.fillStruct(rv, out); err != nil {
			return nil, err
		}
		return out, nil

	default:
		// Func, Chan, Complex64, Complex128, UnsafePointer
		return nil, notClonable(rv)
	}
}

func (n *normalizer) fillList(rv reflect.Value, out []any) error {
	for i := range out {
		elem, err := n.normalize(rv.Index(i))
		if err != nil {
			return err
		}
		out[i] = elem
	}
	return nil
}

func (n *normalizer) fillStruct(rv reflect.Value, out map[string]any) error {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		omitEmpty := false
		if tag, ok := f.Tag.Lookup("json"); ok {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "omitempty" {
					omitEmpty = true
				}
			}
		}
		fv := rv.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}
		elem, err := n.normalize(fv)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		out[name] = elem
	}
	return nil
}

func notClonable(rv reflect.Value) error {
	return domerr.New(domerr.DataClone, "%s value cannot be cloned", rv.Type())
}

// Equal reports whether two values serialize to the same bytes.
func Equal(s Serializer, a, b any) bool {
	ea, err := s.Encode(a)
	if err != nil {
		return false
	}
	eb, err := s.Encode(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}
