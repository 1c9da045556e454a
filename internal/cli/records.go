package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlidb/internal/engine"
	"github.com/roach88/sqlidb/internal/keyrange"
)

// RecordOptions holds flags for commands that address one store or index.
type RecordOptions struct {
	DatabaseOptions
	Store string
	Index string
}

func newRecordOptions(rootOpts *RootOptions) *RecordOptions {
	return &RecordOptions{DatabaseOptions: DatabaseOptions{RootOptions: rootOpts}}
}

func (o *RecordOptions) addFlags(cmd *cobra.Command, withIndex bool) {
	o.DatabaseOptions.addFlags(cmd)
	cmd.Flags().StringVar(&o.Store, "store", "", "object store name (required)")
	_ = cmd.MarkFlagRequired("store")
	if withIndex {
		cmd.Flags().StringVar(&o.Index, "index", "", "query an index of the store instead")
	}
}

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RecordOptions
	KeyOnly bool
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RecordOptions: newRecordOptions(rootOpts)}

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Read the first record matching a key",
		Long: `Read the value of the first record whose key (or index key, with
--index) equals the JSON key argument. Prints null when none matches.

Examples:
  sqlidb get --db app --store people 1
  sqlidb get --db app --store people --index byName '"Ann"'
  sqlidb get --db app --store events '[2024, "launch"]' --key-only`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(opts, args[0], cmd)
		},
	}
	opts.addFlags(cmd, true)
	cmd.Flags().BoolVar(&opts.KeyOnly, "key-only", false, "print the primary key instead of the value")

	return cmd
}

func runGet(opts *GetOptions, rawKey string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	k, err := parseJSONArg("key", rawKey)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeInvalidArg, err.Error(), nil)
	}
	return withDatabase(cmd, &opts.DatabaseOptions, out, func(ctx context.Context, db *engine.Database) error {
		result, err := request(ctx, db, engine.ReadOnly, opts.Store, func(s *engine.ObjectStore) (*engine.Request, error) {
			r, err := source(s, opts.Index)
			if err != nil {
				return nil, err
			}
			if opts.KeyOnly {
				return r.GetKey(k)
			}
			return r.Get(k)
		})
		if err != nil {
			return operationFailed(out, err)
		}
		return out.Success(result)
	})
}

// PutOptions holds flags for the put command.
type PutOptions struct {
	*RecordOptions
	Key    string
	NoOver bool
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PutOptions{RecordOptions: newRecordOptions(rootOpts)}

	cmd := &cobra.Command{
		Use:   "put <value>",
		Short: "Write a record",
		Long: `Write the JSON value as a record and print its primary key.

Stores with in-line keys take the key from the value; stores with
out-of-line keys need --key unless they have a key generator. With
--add the write fails when the key already exists.

Examples:
  sqlidb put --db app --store people '{"name": "Ann"}'
  sqlidb put --db app --store notes --key '"n1"' '{"text": "hi"}'
  sqlidb put --db app --store people --add '{"id": 7, "name": "Bo"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(opts, args[0], cmd)
		},
	}
	opts.addFlags(cmd, false)
	cmd.Flags().StringVar(&opts.Key, "key", "", "out-of-line key as JSON")
	cmd.Flags().BoolVar(&opts.NoOver, "add", false, "fail instead of overwriting an existing record")

	return cmd
}

func runPut(opts *PutOptions, rawValue string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	value, err := parseJSONArg("value", rawValue)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeInvalidArg, err.Error(), nil)
	}
	var k any
	if opts.Key != "" {
		if k, err = parseJSONArg("key", opts.Key); err != nil {
			return out.Fail(ExitCommandError, ErrCodeInvalidArg, err.Error(), nil)
		}
	}
	return withDatabase(cmd, &opts.DatabaseOptions, out, func(ctx context.Context, db *engine.Database) error {
		result, err := request(ctx, db, engine.ReadWrite, opts.Store, func(s *engine.ObjectStore) (*engine.Request, error) {
			if opts.NoOver {
				return s.Add(value, k)
			}
			return s.Put(value, k)
		})
		if err != nil {
			return operationFailed(out, err)
		}
		return out.Success(result)
	})
}

// DeleteOptions holds flags for the delete command.
type DeleteOptions struct {
	*RecordOptions
	Upper string
	All   bool
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeleteOptions{RecordOptions: newRecordOptions(rootOpts)}

	cmd := &cobra.Command{
		Use:   "delete [key]",
		Short: "Delete records by key, key range or all",
		Long: `Delete the record with the JSON key, every record from key to
--upper inclusive, or every record with --all.

Examples:
  sqlidb delete --db app --store people 1
  sqlidb delete --db app --store people 10 --upper 20
  sqlidb delete --db app --store people --all`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(opts, args, cmd)
		},
	}
	opts.addFlags(cmd, false)
	cmd.Flags().StringVar(&opts.Upper, "upper", "", "inclusive upper bound as JSON")
	cmd.Flags().BoolVar(&opts.All, "all", false, "delete every record in the store")

	return cmd
}

func runDelete(opts *DeleteOptions, args []string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	if opts.All == (len(args) == 1) {
		return out.Fail(ExitCommandError, ErrCodeInvalidArg, "pass either a key or --all", nil)
	}
	if opts.All && opts.Upper != "" {
		return out.Fail(ExitCommandError, ErrCodeInvalidArg, "--upper needs a key", nil)
	}

	var query any
	if !opts.All {
		lower, err := parseJSONArg("key", args[0])
		if err != nil {
			return out.Fail(ExitCommandError, ErrCodeInvalidArg, err.Error(), nil)
		}
		query = lower
		if opts.Upper != "" {
			upper, err := parseJSONArg("upper", opts.Upper)
			if err != nil {
				return out.Fail(ExitCommandError, ErrCodeInvalidArg, err.Error(), nil)
			}
			if query, err = keyrange.Bound(lower, upper, false, false); err != nil {
				return out.Fail(ExitCommandError, ErrCodeInvalidArg, err.Error(), nil)
			}
		}
	}

	return withDatabase(cmd, &opts.DatabaseOptions, out, func(ctx context.Context, db *engine.Database) error {
		_, err := request(ctx, db, engine.ReadWrite, opts.Store, func(s *engine.ObjectStore) (*engine.Request, error) {
			if opts.All {
				return s.Clear()
			}
			return s.Delete(query)
		})
		if err != nil {
			return operationFailed(out, err)
		}
		return out.Success("Deleted")
	})
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	opts := newRecordOptions(rootOpts)

	cmd := &cobra.Command{
		Use:   "count [key]",
		Short: "Count records or index entries",
		Long: `Count the records of a store, or the entries of an index with
--index, optionally only those matching the JSON key.

Examples:
  sqlidb count --db app --store people
  sqlidb count --db app --store docs --index byTag '"go"'`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCount(opts, args, cmd)
		},
	}
	opts.addFlags(cmd, true)

	return cmd
}

func runCount(opts *RecordOptions, args []string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	var query any
	if len(args) == 1 {
		k, err := parseJSONArg("key", args[0])
		if err != nil {
			return out.Fail(ExitCommandError, ErrCodeInvalidArg, err.Error(), nil)
		}
		query = k
	}
	return withDatabase(cmd, &opts.DatabaseOptions, out, func(ctx context.Context, db *engine.Database) error {
		result, err := request(ctx, db, engine.ReadOnly, opts.Store, func(s *engine.ObjectStore) (*engine.Request, error) {
			r, err := source(s, opts.Index)
			if err != nil {
				return nil, err
			}
			return r.Count(query)
		})
		if err != nil {
			return operationFailed(out, err)
		}
		return out.Success(result)
	})
}
