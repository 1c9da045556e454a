package key

import (
	"fmt"
	"math"
	"reflect"
	"time"
	"unicode/utf8"

	"github.com/roach88/sqlidb/internal/domerr"
)

// Key is a sealed interface representing a valid IndexedDB key.
// Only Number, Date, String, Binary and Array implement this.
type Key interface {
	key() // Sealed - only these types implement it
}

// Number is a numeric key. NaN is never a valid Number.
type Number float64

func (Number) key() {}

// Date is a date key with millisecond precision.
type Date time.Time

func (Date) key() {}

// Time returns the date as a time.Time in UTC.
func (d Date) Time() time.Time {
	return time.Time(d).UTC()
}

// String is a string key. Strings order by UTF-16 code unit.
type String string

func (String) key() {}

// Binary is a byte-sequence key. Binaries order bytewise.
type Binary []byte

func (Binary) key() {}

// Array is an array of keys. Arrays order element-wise, shorter first on
// a common prefix.
type Array []Key

func (Array) key() {}

// NewDate creates a Date truncated to millisecond precision.
func NewDate(t time.Time) Date {
	return Date(time.UnixMilli(t.UnixMilli()).UTC())
}

// ErrInvalid is returned when a value is not a valid key.
var ErrInvalid = domerr.New(domerr.Data, "value is not a valid key")

// FromValue converts an application value into a Key.
//
// Accepted: every Go integer and float kind, string, time.Time, []byte,
// slices and arrays of accepted values, and Key values. NaN, nil, bool,
// maps, structs, strings that are not valid UTF-8 and self-referencing
// slices are rejected with ErrInvalid.
func FromValue(v any) (Key, error) {
	return fromValue(v, map[uintptr]bool{})
}

func fromValue(v any, seen map[uintptr]bool) (Key, error) {
	switch val := v.(type) {
	case nil:
		return nil, ErrInvalid
	case Number:
		return fromFloat(float64(val))
	case Date:
		return fromDate(val.Time())
	case String:
		return fromString(string(val))
	case Binary:
		return val, nil
	case Array:
		return fromSlice(reflect.ValueOf([]Key(val)), seen)
	case float64:
		return fromFloat(val)
	case float32:
		return fromFloat(float64(val))
	case int:
		return Number(val), nil
	case int8:
		return Number(val), nil
	case int16:
		return Number(val), nil
	case int32:
		return Number(val), nil
	case int64:
		return Number(val), nil
	case uint:
		return Number(val), nil
	case uint8:
		return Number(val), nil
	case uint16:
		return Number(val), nil
	case uint32:
		return Number(val), nil
	case uint64:
		return Number(val), nil
	case string:
		return fromString(val)
	case time.Time:
		return fromDate(val)
	case *time.Time:
		if val == nil {
			return nil, ErrInvalid
		}
		return fromDate(*val)
	case []byte:
		return Binary(append([]byte(nil), val...)), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return fromSlice(rv, seen)
	default:
		return nil, ErrInvalid
	}
}

// fromString rejects strings that are not valid UTF-8: they have no
// UTF-16 form, and replacing the bad bytes would make distinct strings
// collide.
func fromString(s string) (Key, error) {
	if !utf8.ValidString(s) {
		return nil, ErrInvalid
	}
	return String(s), nil
}

func fromFloat(f float64) (Key, error) {
	if math.IsNaN(f) {
		return nil, ErrInvalid
	}
	return Number(f), nil
}

func fromDate(t time.Time) (Key, error) {
	return NewDate(t), nil
}

func fromSlice(rv reflect.Value, seen map[uintptr]bool) (Key, error) {
	if rv.Kind() == reflect.Slice && rv.Len() > 0 {
		ptr := rv.Pointer()
		if seen[ptr] {
			return nil, fmt.Errorf("self-referencing array: %w", ErrInvalid)
		}
		seen[ptr] = true
		defer delete(seen, ptr)
	}

	arr := make(Array, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elem, err := fromValue(rv.Index(i).Interface(), seen)
		if err != nil {
			return nil, err
		}
		arr[i] = elem
	}
	return arr, nil
}

// ToValue converts a Key back to a plain Go value: float64, time.Time,
// string, []byte or []any.
func ToValue(k Key) any {
	switch val := k.(type) {
	case Number:
		return float64(val)
	case Date:
		return val.Time()
	case String:
		return string(val)
	case Binary:
		return []byte(val)
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToValue(elem)
		}
		return out
	default:
		return nil
	}
}

// Valid reports whether v converts to a Key.
func Valid(v any) bool {
	_, err := FromValue(v)
	return err == nil
}
