package store

import (
	"context"
	"fmt"
)

// SysDB is the versions table shared by every database in a data
// directory: dbVersions(name TEXT PRIMARY KEY, version INTEGER).
type SysDB struct {
	*Store
}

// OpenSysDB opens (creating if needed) the versions database.
func OpenSysDB(ctx context.Context, path string, opts Options) (*SysDB, error) {
	s, err := Open(path, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Exec(ctx, `CREATE TABLE IF NOT EXISTS dbVersions (name TEXT PRIMARY KEY, version INTEGER)`); err != nil {
		s.Close()
		return nil, fmt.Errorf("create dbVersions: %w", err)
	}
	return &SysDB{Store: s}, nil
}

// Version returns the stored version of a database and whether it exists.
func (s *SysDB) Version(ctx context.Context, name string) (int64, bool, error) {
	rows, err := s.Query(ctx, `SELECT version FROM dbVersions WHERE name = ?`, name)
	if err != nil {
		return 0, false, fmt.Errorf("read version of %q: %w", name, err)
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0].Int("version"), true, nil
}

// SetVersion inserts or updates the version of a database.
func (s *SysDB) SetVersion(ctx context.Context, name string, version int64) error {
	err := s.Exec(ctx, `INSERT INTO dbVersions (name, version) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET version = excluded.version`, name, version)
	if err != nil {
		return fmt.Errorf("write version of %q: %w", name, err)
	}
	return nil
}

// DeleteVersion removes a database's version row.
func (s *SysDB) DeleteVersion(ctx context.Context, name string) error {
	if err := s.Exec(ctx, `DELETE FROM dbVersions WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete version of %q: %w", name, err)
	}
	return nil
}

// Names lists every known database name in byte order.
func (s *SysDB) Names(ctx context.Context) ([]string, error) {
	rows, err := s.Query(ctx, `SELECT name FROM dbVersions ORDER BY name COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.String("name")
	}
	return names, nil
}
