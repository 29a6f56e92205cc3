// Package catalog reads packages out of an extracted snapshot database.
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const (
	packagesQuery = `
SELECT rowid, id, name, latest_version
FROM packages
ORDER BY rowid`

	tagsQuery = `
SELECT m.package, t.tag
FROM tags2_map m
JOIN tags2 t ON t.rowid = m.tag
ORDER BY m.package, t.tag`

	tableExistsQuery = `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
)

// DB wraps a read-only sql.DB over a snapshot database.
type DB struct {
	conn *sql.DB
}

// Open opens the snapshot database at path read-only.
func Open(ctx context.Context, path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_query_only=true")
	if err != nil {
		return nil, fmt.Errorf("catalog: open db: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}
	ok, err := tableExists(ctx, conn, "packages")
	if err != nil {
		conn.Close()
		return nil, err
	}
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("catalog: %s has no packages table", path)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func tableExists(ctx context.Context, conn *sql.DB, name string) (bool, error) {
	var n int
	if err := conn.QueryRowContext(ctx, tableExistsQuery, name).Scan(&n); err != nil {
		return false, fmt.Errorf("catalog: inspect schema: %w", err)
	}
	return n > 0, nil
}
