package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/sqlidb/internal/engine"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	DataDir  string
	Prefetch int
	Config   string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// EnvPrefix prefixes the environment variables that override flags, so
// SQLIDB_DATA_DIR sets --data-dir.
const EnvPrefix = "SQLIDB"

// NewRootCommand creates the root command for the sqlidb CLI.
//
// Global settings resolve in order: explicit flag, SQLIDB_* environment
// variable, --config file, flag default.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "sqlidb",
		Short: "sqlidb - IndexedDB semantics over SQLite",
		Long:  "Inspect and modify sqlidb databases: versioned object stores, indexes and records kept in SQLite files.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(v)
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.DataDir, "data-dir", ".", "directory holding database files")
	pf.IntVar(&opts.Prefetch, "prefetch", engine.DefaultPrefetchSize, "cursor rows fetched per statement")
	pf.StringVar(&opts.Config, "config", "", "YAML config file")
	if err := v.BindPFlags(pf); err != nil {
		panic(err)
	}

	// Add subcommands
	cmd.AddCommand(NewDatabasesCommand(opts))
	cmd.AddCommand(NewStoresCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewPutCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewCountCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewApplyCommand(opts))
	cmd.AddCommand(NewDropCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// load resolves the global options through v.
func (o *RootOptions) load(v *viper.Viper) error {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("reading config %s", path), err)
		}
	}
	o.Verbose = v.GetBool("verbose")
	o.Format = v.GetString("format")
	o.DataDir = v.GetString("data-dir")
	o.Prefetch = v.GetInt("prefetch")

	if !isValidFormat(o.Format) {
		return fmt.Errorf("invalid format %q: must be one of %v", o.Format, ValidFormats)
	}
	if o.Prefetch < 1 {
		return fmt.Errorf("invalid prefetch %d: must be at least 1", o.Prefetch)
	}
	return nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
