// Package database provides the embedded per-project SQLite store, the
// migration runner, and the transaction discipline shared by all
// repositories.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register the pure-Go sqlite driver
)

const (
	// busyTimeoutMS lets the API goroutines and the run worker share one
	// database file; each handle is still owned by a single goroutine at a time.
	busyTimeoutMS = 5000
	pingTimeout   = 5 * time.Second
)

// Open opens (creating if necessary) the SQLite database at path and applies
// the cross-goroutine pragmas. The caller owns Close.
func Open(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// file: URI form handles paths with spaces and query params.
	escaped := strings.ReplaceAll(path, " ", "%20")
	db, err := sql.Open("sqlite", "file:"+escaped)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMS),
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	return db, nil
}

// Health pings the database with a bounded context and returns a status map
// for the health endpoint.
func Health(ctx context.Context, db *sql.DB) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return map[string]string{"status": "unreachable", "error": err.Error()}, err
	}
	return map[string]string{"status": "reachable"}, nil
}
