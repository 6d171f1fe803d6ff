package store

import (
	_ "embed"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

func (s *Store) initSchema() error {
	var tableExists bool
	err := sqlitex.Execute(s.conn,
		`SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'`,
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			tableExists = stmt.ColumnInt(0) > 0
			return nil
		}})
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if !tableExists {
		if err := sqlitex.ExecuteScript(s.conn, schemaSQL, nil); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		return sqlitex.Execute(s.conn, `INSERT INTO schema_version (version) VALUES (?)`,
			&sqlitex.ExecOptions{Args: []any{schemaVersion}})
	}

	var version int
	err = sqlitex.Execute(s.conn, `SELECT version FROM schema_version LIMIT 1`,
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt(0)
			return nil
		}})
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}
