package key

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/roach88/sqlidb/internal/domerr"
)

// Type tags. Their byte order is the cross-type key order.
const (
	tagNumber = '1'
	tagDate   = '2'
	tagString = '3'
	tagBinary = '4'
	tagArray  = '5'

	endArray = '0'
	endBytes = '.'
)

// Encode returns the order-preserving text form of k.
//
// The alphabet is [0-9a-f.]. Comparing two encodings bytewise (SQLite's
// BINARY collation, strings.Compare) gives the same result as comparing the
// keys. Every encoding is self-delimiting so arrays are plain concatenation.
func Encode(k Key) string {
	var sb strings.Builder
	encodeTo(&sb, k)
	return sb.String()
}

func encodeTo(sb *strings.Builder, k Key) {
	switch val := k.(type) {
	case Number:
		sb.WriteByte(tagNumber)
		writeFloat(sb, float64(val))
	case Date:
		sb.WriteByte(tagDate)
		writeFloat(sb, float64(time.Time(val).UnixMilli()))
	case String:
		sb.WriteByte(tagString)
		for _, unit := range utf16.Encode([]rune(string(val))) {
			fmt.Fprintf(sb, "%04x", unit)
		}
		sb.WriteByte(endBytes)
	case Binary:
		sb.WriteByte(tagBinary)
		for _, b := range val {
			fmt.Fprintf(sb, "%02x", b)
		}
		sb.WriteByte(endBytes)
	case Array:
		sb.WriteByte(tagArray)
		for _, elem := range val {
			encodeTo(sb, elem)
		}
		sb.WriteByte(endArray)
	default:
		panic(fmt.Sprintf("key: unknown key type %T", k))
	}
}

// writeFloat writes the IEEE-754 bits with the sign flipped so that
// negative numbers order below positive ones as unsigned integers.
func writeFloat(sb *strings.Builder, f float64) {
	if f == 0 {
		f = 0 // -0 sorts as 0
	}
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	fmt.Fprintf(sb, "%016x", bits)
}

func readFloat(s string) (float64, error) {
	bits, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, err
	}
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits), nil
}

// Decode parses an encoding produced by Encode.
func Decode(s string) (Key, error) {
	k, rest, err := decode(s)
	if err != nil {
		return nil, domerr.Wrap(domerr.Data, err, "decode key %q", s)
	}
	if rest != "" {
		return nil, domerr.New(domerr.Data, "decode key %q: trailing data", s)
	}
	return k, nil
}

func decode(s string) (Key, string, error) {
	if s == "" {
		return nil, "", fmt.Errorf("unexpected end of input")
	}
	tag, body := s[0], s[1:]
	switch tag {
	case tagNumber, tagDate:
		if len(body) < 16 {
			return nil, "", fmt.Errorf("short number")
		}
		f, err := readFloat(body[:16])
		if err != nil {
			return nil, "", err
		}
		if tag == tagDate {
			return Date(time.UnixMilli(int64(f)).UTC()), body[16:], nil
		}
		return Number(f), body[16:], nil

	case tagString:
		end := strings.IndexByte(body, endBytes)
		if end < 0 || end%4 != 0 {
			return nil, "", fmt.Errorf("malformed string")
		}
		units := make([]uint16, 0, end/4)
		for i := 0; i < end; i += 4 {
			u, err := strconv.ParseUint(body[i:i+4], 16, 16)
			if err != nil {
				return nil, "", err
			}
			units = append(units, uint16(u))
		}
		return String(utf16.Decode(units)), body[end+1:], nil

	case tagBinary:
		end := strings.IndexByte(body, endBytes)
		if end < 0 || end%2 != 0 {
			return nil, "", fmt.Errorf("malformed binary")
		}
		out := make([]byte, end/2)
		for i := 0; i < end; i += 2 {
			b, err := strconv.ParseUint(body[i:i+2], 16, 8)
			if err != nil {
				return nil, "", err
			}
			out[i/2] = byte(b)
		}
		return Binary(out), body[end+1:], nil

	case tagArray:
		arr := Array{}
		rest := body
		for {
			if rest == "" {
				return nil, "", fmt.Errorf("unterminated array")
			}
			if rest[0] == endArray {
				return arr, rest[1:], nil
			}
			elem, next, err := decode(rest)
			if err != nil {
				return nil, "", err
			}
			arr = append(arr, elem)
			rest = next
		}

	default:
		return nil, "", fmt.Errorf("unknown type tag %q", tag)
	}
}

// Compare returns -1, 0 or 1 following IndexedDB key order.
func Compare(a, b Key) int {
	return strings.Compare(Encode(a), Encode(b))
}

// Equal reports whether two keys are the same key.
func Equal(a, b Key) bool {
	return Encode(a) == Encode(b)
}

// Cmp compares two application values as keys.
// Returns a DataError if either value is not a valid key.
func Cmp(a, b any) (int, error) {
	ka, err := FromValue(a)
	if err != nil {
		return 0, err
	}
	kb, err := FromValue(b)
	if err != nil {
		return 0, err
	}
	return Compare(ka, kb), nil
}
