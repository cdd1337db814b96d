package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

/*
Conn represents a connection to the target relational database.
It wraps the sql.DB pool and provides convenience methods for the schema
operations the engine performs.
*/
type Conn struct {
	DB   *sql.DB
	path string
}

/*
NewConn opens a connection to the database at the specified path and
verifies the connection. Foreign keys are enabled so the audit schema
behaves the same in tests and production.
*/
func NewConn(ctx context.Context, path string) (*Conn, error) {
	sqldb, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := sqldb.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Conn{DB: sqldb, path: path}, nil
}

/*
Path returns the path the connection was opened with.
*/
func (conn *Conn) Path() string {
	return conn.path
}

/*
Close releases the underlying connection pool.
It should be called when the connection is no longer needed.
*/
func (conn *Conn) Close() error {
	return conn.DB.Close()
}

/*
IndexExists reports whether an index with the given name is present in the
schema catalog. The engine uses this as its idempotency guard before and
after every build.
*/
func (conn *Conn) IndexExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := conn.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`,
		name,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check index existence: %w", err)
	}
	return count > 0, nil
}

/*
ListIndexes returns the names of all non-internal indexes on the given table.
*/
func (conn *Conn) ListIndexes(ctx context.Context, table string) ([]string, error) {
	rows, err := conn.DB.QueryContext(ctx,
		`SELECT name FROM sqlite_master
		 WHERE type = 'index' AND tbl_name = ? AND name NOT LIKE 'sqlite_%'`,
		table,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan index name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
