package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlidb/internal/engine"
)

// DatabaseList is the databases command's payload.
type DatabaseList []engine.DatabaseInfo

func (l DatabaseList) String() string {
	if len(l) == 0 {
		return "No databases."
	}
	var sb strings.Builder
	for i, info := range l {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s\tv%d", info.Name, info.Version)
	}
	return sb.String()
}

// NewDatabasesCommand creates the databases command.
func NewDatabasesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "databases",
		Short: "List databases and their versions",
		Long: `List every database in the data directory with its current version.

Examples:
  sqlidb databases
  sqlidb databases --data-dir ./data --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDatabases(rootOpts, cmd)
		},
	}
}

func runDatabases(opts *RootOptions, cmd *cobra.Command) error {
	out := newFormatter(opts, cmd)
	return withFactory(cmd, opts, out, func(ctx context.Context, f *engine.Factory) error {
		infos, err := f.Databases(ctx)
		if err != nil {
			return operationFailed(out, err)
		}
		if infos == nil {
			infos = []engine.DatabaseInfo{}
		}
		return out.Success(DatabaseList(infos))
	})
}

// NewDropCommand creates the drop command.
func NewDropCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DatabaseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Delete a database",
		Long: `Delete a database and its file. Dropping a database that does not
exist succeeds.

Example:
  sqlidb drop --db app`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrop(opts, cmd)
		},
	}
	opts.addFlags(cmd)

	return cmd
}

func runDrop(opts *DatabaseOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	return withFactory(cmd, opts.RootOptions, out, func(ctx context.Context, f *engine.Factory) error {
		if err := f.DeleteDatabase(ctx, opts.DB); err != nil {
			return operationFailed(out, err)
		}
		return out.Success(fmt.Sprintf("Dropped %s", opts.DB))
	})
}
