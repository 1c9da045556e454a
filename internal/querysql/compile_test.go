package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_CursorPage(t *testing.T) {
	compiler := NewSQLCompiler()

	query := Select{
		Columns: []string{`"_byName"`, "key", "value", "rowid"},
		From:    StoreTable("people"),
		Where: []Predicate{
			P(`"_byName" NOT NULL`),
			P(`"_byName" >= ?`, "3004100..."),
		},
		OrderBy: []Order{{Column: `"_byName"`, Desc: true}, {Column: "key", Desc: true}},
		Limit:   100,
	}

	sql, params, err := compiler.Compile(query)
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT "_byName", key, value, rowid FROM "s_people" WHERE ("_byName" NOT NULL) AND ("_byName" >= ?) `+
			`ORDER BY "_byName" COLLATE BINARY DESC, key COLLATE BINARY DESC LIMIT 100`,
		sql)
	assert.Equal(t, []any{"3004100..."}, params)
	assert.NotContains(t, sql, "3004100")
}

func TestCompile_DefaultOrder(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(Select{From: StoreTable("s")})
	require.NoError(t, err)

	assert.Equal(t, `SELECT * FROM "s_s" ORDER BY key COLLATE BINARY ASC`, sql)
	assert.Empty(t, params)
}

func TestCompile_Count(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(Select{
		From:    StoreTable("s"),
		Where:   []Predicate{P("key > ?", "1"), P("")},
		OrderBy: []Order{{Column: "key"}},
		Limit:   5,
		Count:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, `SELECT COUNT(*) AS count FROM "s_s" WHERE (key > ?)`, sql)
	assert.Equal(t, []any{"1"}, params)
}

func TestCompile_MissingTable(t *testing.T) {
	_, _, err := NewSQLCompiler().Compile(Select{})
	assert.Error(t, err)
}

func TestEscaping(t *testing.T) {
	assert.Equal(t, `"s_^People"`, StoreTable("People"))
	assert.Equal(t, `"s_a""b"`, StoreTable(`a"b`))
	assert.Equal(t, `"s_x^^y^0"`, StoreTable("x^y\x00"))
	assert.NotEqual(t, StoreTable("Foo"), StoreTable("foo"))

	assert.Equal(t, "_by^Name", IndexColumnName("byName"))
	assert.Equal(t, `"_by^Name"`, IndexColumn("byName"))

	assert.Equal(t, "D_my^D^B.sqlite", DatabaseFile("myDB"))
	assert.Equal(t, "D_..^s..^setc.sqlite", DatabaseFile("../../etc"))
	assert.Equal(t, "D_c^cwin^bx.sqlite", DatabaseFile(`c:win\x`))

	assert.Equal(t, "100^%^_^^", EscapeLike("100%_^"))
}
