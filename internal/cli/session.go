package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlidb/internal/domerr"
	"github.com/roach88/sqlidb/internal/engine"
)

// DatabaseOptions holds the flags shared by commands that address one
// database.
type DatabaseOptions struct {
	*RootOptions
	DB string
}

func (o *DatabaseOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.DB, "db", "", "database name (required)")
	_ = cmd.MarkFlagRequired("db")
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// openFactory opens the factory over opts.DataDir. Engine logs go to
// stderr: warnings by default, every statement with --verbose.
func openFactory(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*engine.Factory, error) {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return engine.NewFactory(ctx,
		engine.WithDataDir(opts.DataDir),
		engine.WithPrefetchSize(opts.Prefetch),
		engine.WithLogger(logger),
		engine.WithDebug(opts.Verbose),
	)
}

// withFactory runs fn against a factory that is closed afterwards.
func withFactory(cmd *cobra.Command, opts *RootOptions, out *OutputFormatter, fn func(ctx context.Context, f *engine.Factory) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f, err := openFactory(ctx, opts, cmd)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("opening data directory %s: %v", opts.DataDir, err), nil)
	}
	defer f.Close()
	return fn(ctx, f)
}

// withDatabase runs fn against an existing database opened at its
// current version. A missing database is a command error.
func withDatabase(cmd *cobra.Command, opts *DatabaseOptions, out *OutputFormatter, fn func(ctx context.Context, db *engine.Database) error) error {
	return withFactory(cmd, opts.RootOptions, out, func(ctx context.Context, f *engine.Factory) error {
		names, err := f.DatabaseNames(ctx)
		if err != nil {
			return operationFailed(out, err)
		}
		if !slices.Contains(names, opts.DB) {
			return out.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("database not found: %s", opts.DB), nil)
		}
		db, err := f.Open(ctx, opts.DB, 0, nil)
		if err != nil {
			return operationFailed(out, err)
		}
		defer db.Close()
		out.VerboseLog("Opened database %s at version %d", db.Name(), db.Version())
		return fn(ctx, db)
	})
}

// operationFailed reports an engine error. Unknown stores and indexes
// are command errors; everything else is an operation failure.
func operationFailed(out *OutputFormatter, err error) error {
	cause := engine.Cause(err)
	name := domerr.Kind(cause)
	details := map[string]string{"error": string(name)}
	if name == domerr.NotFound {
		return out.Fail(ExitCommandError, ErrCodeNotFound, cause.Error(), details)
	}
	return out.Fail(ExitFailure, ErrCodeOperation, cause.Error(), details)
}

// reader is the read surface shared by stores and indexes.
type reader interface {
	Get(query any) (*engine.Request, error)
	GetKey(query any) (*engine.Request, error)
	Count(query any) (*engine.Request, error)
	OpenCursor(query any, dir engine.Direction) (*engine.Request, error)
	OpenKeyCursor(query any, dir engine.Direction) (*engine.Request, error)
}

func source(s *engine.ObjectStore, index string) (reader, error) {
	if index == "" {
		return s, nil
	}
	return s.Index(index)
}

// request runs the request issue queues in its own transaction over
// storeName and returns the request's result.
func request(ctx context.Context, db *engine.Database, mode engine.Mode, storeName string, issue func(s *engine.ObjectStore) (*engine.Request, error)) (any, error) {
	run := db.View
	if mode == engine.ReadWrite {
		run = db.Update
	}
	var req *engine.Request
	err := run(ctx, []string{storeName}, func(tx *engine.Transaction) error {
		s, err := tx.ObjectStore(storeName)
		if err != nil {
			return err
		}
		req, err = issue(s)
		return err
	})
	if err != nil {
		return nil, err
	}
	return req.Result(), nil
}

// parseJSONArg decodes a command-line JSON argument.
func parseJSONArg(what, raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("invalid %s JSON %q: %w", what, raw, err)
	}
	return v, nil
}
