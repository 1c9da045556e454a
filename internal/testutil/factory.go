// Package testutil provides deterministic fixtures for tests that drive the
// engine from outside its package.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlidb/internal/engine"
)

// NewFactory creates a factory over a fresh temporary data directory with
// logging discarded. It is closed when the test ends.
func NewFactory(t testing.TB, opts ...engine.Option) *engine.Factory {
	t.Helper()
	opts = append([]engine.Option{
		engine.WithDataDir(t.TempDir()),
		engine.WithLogger(DiscardLogger()),
	}, opts...)
	f, err := engine.NewFactory(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
