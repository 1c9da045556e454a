package key

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlidb/internal/domerr"
)

func TestPath_Valid(t *testing.T) {
	valid := []Path{
		NoPath(),
		StringPath(""),
		StringPath("id"),
		StringPath("a.b.c"),
		StringPath("$x._y1"),
		StringPath("名前"),
		ArrayPath("a", "b.c"),
	}
	for _, p := range valid {
		assert.True(t, p.Valid(), "%s", p)
	}

	invalid := []Path{
		StringPath("1a"),
		StringPath("a..b"),
		StringPath("a."),
		StringPath("a-b"),
		StringPath(" a"),
		ArrayPath(),
		ArrayPath("ok", "not ok"),
	}
	for _, p := range invalid {
		assert.False(t, p.Valid(), "%s", p)
	}
}

func TestPath_JSON(t *testing.T) {
	cases := map[string]Path{
		`null`:      NoPath(),
		`"id"`:      StringPath("id"),
		`["a","b"]`: ArrayPath("a", "b"),
	}
	for want, p := range cases {
		data, err := json.Marshal(p)
		require.NoError(t, err)
		assert.JSONEq(t, want, string(data))

		var back Path
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, p, back)
	}

	var bad Path
	err := json.Unmarshal([]byte(`[1]`), &bad)
	assert.True(t, domerr.Is(err, domerr.Syntax))
}

func TestEvaluate(t *testing.T) {
	value := map[string]any{
		"id":   float64(1),
		"name": "Ann",
		"tags": []any{"a", "b"},
		"addr": map[string]any{"city": "Oslo"},
	}

	v, ok := Evaluate(value, StringPath("addr.city"))
	require.True(t, ok)
	assert.Equal(t, "Oslo", v)

	v, ok = Evaluate(value, StringPath("name.length"))
	require.True(t, ok)
	assert.Equal(t, float64(3), v)

	v, ok = Evaluate(value, StringPath("tags.length"))
	require.True(t, ok)
	assert.Equal(t, float64(2), v)

	v, ok = Evaluate(value, StringPath(""))
	require.True(t, ok)
	assert.Equal(t, value, v)

	v, ok = Evaluate(value, ArrayPath("id", "name"))
	require.True(t, ok)
	assert.Equal(t, []any{float64(1), "Ann"}, v)

	_, ok = Evaluate(value, StringPath("addr.zip"))
	assert.False(t, ok)
	_, ok = Evaluate(value, ArrayPath("id", "missing"))
	assert.False(t, ok)
	_, ok = Evaluate(value, NoPath())
	assert.False(t, ok)
}

func TestExtract(t *testing.T) {
	value := map[string]any{
		"id":   float64(3),
		"tags": []any{"x", true, "y", "x", float64(1)},
		"bad":  map[string]any{},
	}

	k, err := Extract(value, StringPath("id"), false)
	require.NoError(t, err)
	assert.Equal(t, Number(3), k)

	k, err = Extract(value, StringPath("tags"), true)
	require.NoError(t, err)
	assert.Equal(t, Array{String("x"), String("y"), Number(1)}, k)

	_, err = Extract(value, StringPath("tags"), false)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Extract(value, StringPath("bad"), false)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Extract(value, StringPath("nope"), false)
	assert.ErrorIs(t, err, ErrNoValue)
	assert.True(t, domerr.Is(err, domerr.Data))
}

func TestInject(t *testing.T) {
	value := map[string]any{"name": "Ann"}
	require.NoError(t, Inject(value, "meta.id", Number(7)))
	assert.Equal(t, map[string]any{
		"name": "Ann",
		"meta": map[string]any{"id": float64(7)},
	}, value)

	blocked := map[string]any{"meta": "scalar"}
	assert.False(t, CanInject(blocked, "meta.id"))
	err := Inject(blocked, "meta.id", Number(1))
	assert.True(t, domerr.Is(err, domerr.Data))

	assert.False(t, CanInject("not an object", "id"))
}

func TestIsMultiEntryMatch(t *testing.T) {
	row := Array{String("a"), String("b")}
	assert.True(t, IsMultiEntryMatch(String("b"), row))
	assert.False(t, IsMultiEntryMatch(String("c"), row))
	assert.True(t, IsMultiEntryMatch(Number(1), Number(1)))
}
