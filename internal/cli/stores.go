package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlidb/internal/engine"
	"github.com/roach88/sqlidb/internal/key"
)

// StoreInfo describes one object store.
type StoreInfo struct {
	Name          string      `json:"name"`
	KeyPath       key.Path    `json:"keyPath"`
	AutoIncrement bool        `json:"autoIncrement"`
	Indexes       []IndexInfo `json:"indexes"`
}

// IndexInfo describes one index.
type IndexInfo struct {
	Name       string   `json:"name"`
	KeyPath    key.Path `json:"keyPath"`
	Unique     bool     `json:"unique"`
	MultiEntry bool     `json:"multiEntry"`
}

// StoreList is the stores command's payload.
type StoreList struct {
	Database string      `json:"database"`
	Version  int64       `json:"version"`
	Stores   []StoreInfo `json:"stores"`
}

func (l StoreList) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s v%d", l.Database, l.Version)
	for _, s := range l.Stores {
		fmt.Fprintf(&sb, "\n  %s keyPath=%s", s.Name, s.KeyPath)
		if s.AutoIncrement {
			sb.WriteString(" autoIncrement")
		}
		for _, idx := range s.Indexes {
			fmt.Fprintf(&sb, "\n    %s keyPath=%s", idx.Name, idx.KeyPath)
			if idx.Unique {
				sb.WriteString(" unique")
			}
			if idx.MultiEntry {
				sb.WriteString(" multiEntry")
			}
		}
	}
	return sb.String()
}

// NewStoresCommand creates the stores command.
func NewStoresCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DatabaseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stores",
		Short: "Describe a database's object stores and indexes",
		Long: `Describe every object store of a database: its key path, key
generator and indexes.

Example:
  sqlidb stores --db app`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStores(opts, cmd)
		},
	}
	opts.addFlags(cmd)

	return cmd
}

func runStores(opts *DatabaseOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	return withDatabase(cmd, opts, out, func(ctx context.Context, db *engine.Database) error {
		list := StoreList{Database: db.Name(), Version: db.Version(), Stores: []StoreInfo{}}
		names := db.ObjectStoreNames()
		if len(names) == 0 {
			return out.Success(list)
		}
		err := db.View(ctx, names, func(tx *engine.Transaction) error {
			for _, name := range names {
				info, err := describeStore(tx, name)
				if err != nil {
					return err
				}
				list.Stores = append(list.Stores, info)
			}
			return nil
		})
		if err != nil {
			return operationFailed(out, err)
		}
		return out.Success(list)
	})
}

func describeStore(tx *engine.Transaction, name string) (StoreInfo, error) {
	s, err := tx.ObjectStore(name)
	if err != nil {
		return StoreInfo{}, err
	}
	info := StoreInfo{
		Name:          s.Name(),
		KeyPath:       s.KeyPath(),
		AutoIncrement: s.AutoIncrement(),
		Indexes:       []IndexInfo{},
	}
	for _, n := range s.IndexNames() {
		idx, err := s.Index(n)
		if err != nil {
			return StoreInfo{}, err
		}
		info.Indexes = append(info.Indexes, IndexInfo{
			Name:       idx.Name(),
			KeyPath:    idx.KeyPath(),
			Unique:     idx.Unique(),
			MultiEntry: idx.MultiEntry(),
		})
	}
	return info, nil
}
