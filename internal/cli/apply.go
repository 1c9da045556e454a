package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlidb/internal/compiler"
	"github.com/roach88/sqlidb/internal/engine"
)

// ApplyOptions holds flags for the apply-schema command.
type ApplyOptions struct {
	DatabaseOptions
	Prune bool
}

// ApplyOutput is the apply-schema command's payload.
type ApplyOutput struct {
	*compiler.ApplyResult
}

func (o ApplyOutput) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: version %d -> %d", o.Database, o.OldVersion, o.Version)
	if len(o.Changes) == 0 {
		sb.WriteString(" (no changes)")
	}
	for _, c := range o.Changes {
		sb.WriteString("\n  " + c.String())
	}
	return sb.String()
}

// NewApplyCommand creates the apply-schema command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{DatabaseOptions: DatabaseOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "apply-schema <schema.cue>",
		Short: "Upgrade a database to a CUE schema",
		Long: `Compile a CUE schema and upgrade the database to it in one
version-change transaction. Missing stores and indexes are created and
indexes whose definition changed are rebuilt. With --prune, stores and
indexes the schema does not declare are deleted.

The schema's version must be above the database's current version; when
it sets none the database moves up by one.

Exit codes:
  0 - Schema applied
  1 - Upgrade aborted (for example a unique index over duplicate keys)
  2 - Command error (unreadable or invalid schema)

Example:
  sqlidb apply-schema ./schema.cue --db app --prune`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(opts, args[0], cmd)
		},
	}
	opts.addFlags(cmd)
	cmd.Flags().BoolVar(&opts.Prune, "prune", false, "delete stores and indexes the schema does not declare")

	return cmd
}

func runApply(opts *ApplyOptions, path string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	schema, err := compiler.LoadFile(path)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeSchemaLoad, err.Error(), nil)
	}
	if verrs := compiler.Validate(schema); len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i, e := range verrs {
			msgs[i] = e.Error()
		}
		return out.Fail(ExitCommandError, ErrCodeSchemaLoad, fmt.Sprintf("schema has %d error(s)", len(verrs)), msgs)
	}
	out.VerboseLog("Compiled %s: %d store(s)", path, len(schema.Stores))

	return withFactory(cmd, opts.RootOptions, out, func(ctx context.Context, f *engine.Factory) error {
		result, err := compiler.Apply(ctx, f, opts.DB, schema, opts.Prune)
		if err != nil {
			return out.Fail(ExitFailure, ErrCodeSchemaApply, err.Error(), nil)
		}
		return out.Success(ApplyOutput{result})
	})
}
