// Package db provides the Postgres connection pool, migrations, and the
// durable processed-request store of the relay.
package db

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// The relay touches the database twice per request (lookup, then insert) from
// a single poll loop, plus the hourly prune.
const (
	relayMaxConns     = 4
	relayMinConns     = 0
	relayConnIdleTime = 5 * time.Minute
	relayPingTimeout  = 10 * time.Second
	applicationName   = "storage-relay"
)

// NewPool opens the pool backing the processed-request store. The URL's own
// pool_max_conns and similar parameters are overridden by the relay sizing.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid processed store URL: %w", logPrefix, err)
	}
	config.MaxConns = relayMaxConns
	config.MinConns = relayMinConns
	config.MaxConnIdleTime = relayConnIdleTime
	if _, ok := config.ConnConfig.RuntimeParams["application_name"]; !ok {
		config.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	slog.Info(fmt.Sprintf("%s - Opening processed store %s/%s (max %d conns)", logPrefix, config.ConnConfig.Host, config.ConnConfig.Database, config.MaxConns))

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - open processed store: %w", logPrefix, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, relayPingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - processed store unreachable: %w", logPrefix, err)
	}
	return pool, nil
}

// RunMigrations applies the migration scripts in order inside one
// transaction, so a failing script leaves the schema untouched. Scripts are
// idempotent and safe to re-run on every start.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrationFiles []string) error {
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i, script := range migrationFiles {
			if _, err := tx.Exec(ctx, script); err != nil {
				return fmt.Errorf("script %d of %d: %w", i+1, len(migrationFiles), err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s - apply migrations: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Applied %d migration script(s)", logPrefix, len(migrationFiles)))
	return nil
}

// MigrationStatus writes to w whether relay_processed exists and, when it
// does, how many correlation ids it holds.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrationPath string, w io.Writer) error {
	files, err := LoadMigrationFiles(migrationPath)
	if err != nil {
		return fmt.Errorf("%s - migration status: %w", logPrefix, err)
	}

	var exists bool
	if err := pool.QueryRow(ctx, `SELECT to_regclass('public.relay_processed') IS NOT NULL`).Scan(&exists); err != nil {
		return fmt.Errorf("%s - look up relay_processed: %w", logPrefix, err)
	}
	if !exists {
		fmt.Fprintf(w, "relay_processed: missing (%d script(s) in %s, run 'relay migrate up')\n", len(files), migrationPath)
		return nil
	}

	var rows int64
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM relay_processed`).Scan(&rows); err != nil {
		return fmt.Errorf("%s - count relay_processed: %w", logPrefix, err)
	}
	fmt.Fprintf(w, "relay_processed: present, %d processed id(s) (%d script(s) in %s)\n", rows, len(files), migrationPath)
	return nil
}
