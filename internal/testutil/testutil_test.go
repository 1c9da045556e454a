package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlidb/internal/engine"
)

func TestConstantGenerator(t *testing.T) {
	gen := NewConstantGenerator("tx-1")
	for range 3 {
		assert.Equal(t, "tx-1", gen.Generate())
	}
	assert.Equal(t, "test-tx", NewConstantGenerator("").Generate())

	var _ engine.IDGenerator = gen
}

func TestNewFactory(t *testing.T) {
	f := NewFactory(t, engine.WithIDGenerator(NewConstantGenerator("")))

	db, err := f.Open(context.Background(), "db", 1, func(db *engine.Database, tx *engine.Transaction, _ int64) error {
		assert.Equal(t, "test-tx", tx.ID())
		_, err := db.CreateObjectStore("s", engine.StoreOptions{})
		return err
	})
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, []string{"s"}, db.ObjectStoreNames())
}
