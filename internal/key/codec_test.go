package key

import (
	"math"
	"slices"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compareUTF16 compares strings by UTF-16 code unit, the order IndexedDB
// uses for string keys.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}

func TestKeySealed(t *testing.T) {
	var _ Key = Number(1)
	var _ Key = Date(time.Now())
	var _ Key = String("a")
	var _ Key = Binary{0x01}
	var _ Key = Array{Number(1), String("a")}
}

func TestEncode_CrossTypeOrder(t *testing.T) {
	ordered := []Key{
		Number(math.Inf(-1)),
		Number(-1e300),
		Number(-1),
		Number(-0.5),
		Number(0),
		Number(0.5),
		Number(1),
		Number(2),
		Number(1e300),
		Number(math.Inf(1)),
		NewDate(time.UnixMilli(-1000)),
		NewDate(time.UnixMilli(0)),
		NewDate(time.UnixMilli(1700000000000)),
		String(""),
		String("A"),
		String("a"),
		String("aa"),
		String("b"),
		Binary{},
		Binary{0x00},
		Binary{0x00, 0x00},
		Binary{0xff},
		Array{},
		Array{Number(1)},
		Array{Number(1), Number(1)},
		Array{Number(1), String("a")},
		Array{Number(2)},
		Array{String("a")},
		Array{Array{}},
	}

	for i := 0; i < len(ordered)-1; i++ {
		a, b := ordered[i], ordered[i+1]
		assert.Equal(t, -1, Compare(a, b), "%#v should sort before %#v", a, b)
		assert.Equal(t, 1, Compare(b, a), "%#v should sort after %#v", b, a)
	}
}

func TestEncode_StringsUseUTF16Order(t *testing.T) {
	// U+FF5E is a single UTF-16 unit; U+1F600 is a surrogate pair starting
	// at 0xD83D. In UTF-8 the emoji sorts last, in UTF-16 it sorts first.
	a := "～"
	b := "\U0001F600"

	assert.Equal(t, 1, compareUTF16(a, b))
	assert.Equal(t, compareUTF16(a, b), Compare(String(a), String(b)))

	words := []string{"zebra", "apple", "Apple", "é", "\U0001F600", "～", "", "app"}
	for _, x := range words {
		for _, y := range words {
			assert.Equal(t, compareUTF16(x, y), Compare(String(x), String(y)), "%q vs %q", x, y)
		}
	}
}

func TestEncode_NegativeZero(t *testing.T) {
	assert.Equal(t, Encode(Number(0)), Encode(Number(math.Copysign(0, -1))))
	assert.True(t, Equal(Number(0), Number(math.Copysign(0, -1))))
}

func TestEncode_Alphabet(t *testing.T) {
	enc := Encode(Array{Number(-3.25), String("héllo"), Binary{0xde, 0xad}, NewDate(time.Unix(5, 0))})
	for _, c := range enc {
		assert.Contains(t, "0123456789abcdef.", string(c))
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	keys := []Key{
		Number(0),
		Number(-1.5),
		Number(42),
		Number(math.MaxFloat64),
		Number(math.SmallestNonzeroFloat64),
		Number(math.Inf(-1)),
		NewDate(time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)),
		String(""),
		String("hello, 世界 \U0001F600"),
		Binary{},
		Binary{0x00, 0x7f, 0xff},
		Array{},
		Array{Number(1), Array{String("nested"), Binary{0x01}}, Array{}},
	}

	for _, k := range keys {
		enc := Encode(k)
		got, err := Decode(enc)
		require.NoError(t, err, "decode %q", enc)
		assert.Equal(t, k, got)
		assert.Equal(t, enc, Encode(got))
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, s := range []string{"", "9", "1abc", "30061", "3006.", "4abc.", "51", "1" + "00000000000000000"} {
		_, err := Decode(s)
		assert.Error(t, err, "%q", s)
	}
}

func TestFromValue(t *testing.T) {
	k, err := FromValue(7)
	require.NoError(t, err)
	assert.Equal(t, Number(7), k)

	k, err = FromValue([]any{"a", int64(2), []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, Array{String("a"), Number(2), Binary{1}}, k)

	k, err = FromValue([]string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, Array{String("x"), String("y")}, k)

	ts := time.Date(2020, 1, 2, 3, 4, 5, 6_000_000, time.FixedZone("x", 3600))
	k, err = FromValue(ts)
	require.NoError(t, err)
	assert.True(t, ts.Equal(k.(Date).Time()))
}

func TestFromValue_Invalid(t *testing.T) {
	cyclic := []any{nil}
	cyclic[0] = cyclic

	invalid := []any{
		nil,
		math.NaN(),
		true,
		map[string]any{"a": 1},
		struct{}{},
		[]any{1, math.NaN()},
		cyclic,
		"\xff",
		String("\xfe"),
		[]any{"ok", "bad\xc3"},
	}
	for _, v := range invalid {
		_, err := FromValue(v)
		assert.ErrorIs(t, err, ErrInvalid, "%#v", v)
		assert.False(t, Valid(v))
	}
}

func TestCmp_InvalidUTF8(t *testing.T) {
	_, err := Cmp("\xff", "\xfe")
	assert.ErrorIs(t, err, ErrInvalid)

	// Valid non-ASCII strings still order by UTF-16 code unit.
	c, err := Cmp("\U0001F600", "\uFFFD")
	require.NoError(t, err)
	assert.Equal(t, -1, c)
}

func TestToValue(t *testing.T) {
	k := Array{Number(1), String("a"), Binary{2}}
	assert.Equal(t, []any{float64(1), "a", []byte{2}}, ToValue(k))
}

func TestCmp(t *testing.T) {
	c, err := Cmp(1, "1")
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	c, err = Cmp([]any{1, 2}, []any{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 0, c)

	c, err = Cmp([]any{1, 2}, []any{1})
	require.NoError(t, err)
	assert.Equal(t, 1, c)

	_, err = Cmp(true, 1)
	assert.Error(t, err)
}
