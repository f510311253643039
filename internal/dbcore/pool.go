// Package dbcore bootstraps the SQLite connection pool, applies pragmas for
// WAL journaling and in-memory temp storage, and runs schema migrations —
// the capture-store analogue of askflow's internal/db.InitDB, generalized
// from askflow's document/chunk schema to video/audio/UI capture tables.
package dbcore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"capturestore/internal/logging"
)

// AcquireTimeout bounds how long Open may take, including its first
// connection, pragmas and migrations. Later queries run under the caller's
// context only; the pool puts no deadline of its own on acquiring a
// connection.
const AcquireTimeout = 10 * time.Second

// Open creates (if absent) and opens the SQLite store at path, configures
// the pool, and brings the schema up to date. The returned *sql.DB is safe
// for concurrent use by every component in this module.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(ctx, AcquireTimeout)
	defer cancel()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3 %s: %w", path, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite3 %s: %w", path, err)
	}

	// Bounded pool: writers serialize behind SQLite's own WAL lock, but
	// multiple readers can proceed concurrently.
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(3)
	db.SetConnMaxLifetime(0)

	if err := configurePragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logging.Get().Info().Str("path", path).Msg("store opened")
	return db, nil
}

func configurePragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=10000",
		"PRAGMA cache_size=-2000",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA wal_autocheckpoint=1000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("exec %s: %w", p, err)
		}
	}
	return nil
}
