package cli

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlidb/internal/engine"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RecordOptions
	Direction string
	Limit     int
	KeysOnly  bool
}

// Entry is one cursor position.
type Entry struct {
	Key        any `json:"key"`
	PrimaryKey any `json:"primaryKey"`
	Value      any `json:"value,omitempty"`
}

// EntryList is the dump command's payload. Text output prints one JSON
// entry per line.
type EntryList []Entry

func (l EntryList) String() string {
	var out []byte
	for i, e := range l {
		if i > 0 {
			out = append(out, '\n')
		}
		line, err := json.Marshal(e)
		if err != nil {
			line = []byte(`{"error":"unencodable entry"}`)
		}
		out = append(out, line...)
	}
	return string(out)
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RecordOptions: newRecordOptions(rootOpts)}

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Walk a store or index with a cursor",
		Long: `Walk every record of a store, or every entry of an index, in cursor
order and print key, primary key and value.

Directions: next, nextunique, prev, prevunique.

Examples:
  sqlidb dump --db app --store people
  sqlidb dump --db app --store docs --index byTag --direction nextunique
  sqlidb dump --db app --store people --direction prev --limit 10 --keys-only`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, cmd)
		},
	}
	opts.addFlags(cmd, true)
	cmd.Flags().StringVar(&opts.Direction, "direction", "next", "cursor direction")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "stop after this many entries (0 for all)")
	cmd.Flags().BoolVar(&opts.KeysOnly, "keys-only", false, "omit values")

	return cmd
}

func runDump(opts *DumpOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	dir, err := engine.ParseDirection(opts.Direction)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeInvalidArg, err.Error(), nil)
	}
	if opts.Limit < 0 {
		return out.Fail(ExitCommandError, ErrCodeInvalidArg, "--limit must not be negative", nil)
	}

	return withDatabase(cmd, &opts.DatabaseOptions, out, func(ctx context.Context, db *engine.Database) error {
		entries := EntryList{}
		_, err := request(ctx, db, engine.ReadOnly, opts.Store, func(s *engine.ObjectStore) (*engine.Request, error) {
			r, err := source(s, opts.Index)
			if err != nil {
				return nil, err
			}
			open := r.OpenCursor
			if opts.KeysOnly {
				open = r.OpenKeyCursor
			}
			req, err := open(nil, dir)
			if err != nil {
				return nil, err
			}
			req.OnSuccess = func(res *engine.Request) error {
				c, _ := res.Result().(*engine.Cursor)
				if c == nil {
					return nil
				}
				entries = append(entries, Entry{Key: c.Key(), PrimaryKey: c.PrimaryKey(), Value: c.Value()})
				if opts.Limit > 0 && len(entries) >= opts.Limit {
					return nil
				}
				return c.Continue(nil)
			}
			return req, nil
		})
		if err != nil {
			return operationFailed(out, err)
		}
		out.VerboseLog("Visited %d entries", len(entries))
		return out.Success(entries)
	})
}
