// Package db opens the per-workspace run history database.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	fileName = "parcelfetch.db"
	stateDir = ".parcelfetch"
)

// Path returns the database path for workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, stateDir, fileName)
}

// Exists reports whether a history database was created in workspace.
func Exists(workspace string) bool {
	_, err := os.Stat(Path(workspace))
	return err == nil
}

// Open opens (creating if needed) the history database with foreign keys on
// and a busy timeout so concurrent CLI and API processes wait for each other.
func Open(ctx context.Context, workspace string) (*sql.DB, error) {
	path := Path(workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return conn, nil
}
