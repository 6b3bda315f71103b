// Package repository implements the Persistence Layer: an upsert-only
// Postgres store for the three bridge-call tables, plus the single
// read operation the Progress Tracker needs at startup.
package repository

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TableNames holds the three configurable table names (§6: TABLE_NAME,
// SEND_MESSAGE_TABLE_NAME, EXECUTE_TABLE_NAME).
type TableNames struct {
	Main        string
	SendMessage string
	Execute     string
}

// DefaultTableNames matches the defaults from the configuration table.
var DefaultTableNames = TableNames{
	Main:        "avail_table",
	SendMessage: "avail_send_message_table",
	Execute:     "avail_execute_table",
}

// Repository is the connection pool plus table names used for every
// statement. The pool is capped at 5 connections by default; no
// statement holds a lock across a suspension point.
type Repository struct {
	db     *pgxpool.Pool
	tables TableNames
}

// NewRepository dials Postgres and caps the pool at 5 connections unless
// DB_MAX_OPEN_CONNS overrides it.
func NewRepository(ctx context.Context, dbURL string, tables TableNames) (*Repository, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse db url: %w", err)
	}

	config.MaxConns = 5
	if maxConnStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxConnStr != "" {
		if maxConn, err := strconv.Atoi(maxConnStr); err == nil {
			config.MaxConns = int32(maxConn)
		}
	}
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	return &Repository{db: pool, tables: tables}, nil
}

// Close releases the connection pool.
func (r *Repository) Close() {
	r.db.Close()
}

// Migrate creates the three tables if absent.
func (r *Repository) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id                BIGINT PRIMARY KEY,
			block_height      INT NOT NULL,
			block_hash        TEXT NOT NULL,
			block_timestamp   TIMESTAMPTZ NOT NULL,
			ext_index         INT NOT NULL,
			ext_hash          TEXT NOT NULL,
			signature_address TEXT NULL,
			pallet_id         SMALLINT NOT NULL,
			variant_id        SMALLINT NOT NULL,
			ext_success       BOOL NULL,
			ext_call          TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_block_height ON %[1]s (block_height);

		CREATE TABLE IF NOT EXISTS %[2]s (
			id     BIGINT PRIMARY KEY REFERENCES %[1]s (id),
			type   TEXT NOT NULL,
			amount TEXT NULL,
			"to"   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS %[3]s (
			id         BIGINT PRIMARY KEY REFERENCES %[1]s (id),
			type       TEXT NOT NULL,
			amount     TEXT NULL,
			"to"       TEXT NOT NULL,
			slot       BIGINT NOT NULL,
			message_id NUMERIC(78) NOT NULL
		);
	`, r.tables.Main, r.tables.SendMessage, r.tables.Execute)

	if _, err := r.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("repository: migrate: %w", err)
	}
	return nil
}

// HighestIndexedHeight answers SELECT MAX(block_height) FROM main_table.
// ok is false when the table is empty.
func (r *Repository) HighestIndexedHeight(ctx context.Context) (height uint32, ok bool, err error) {
	var h *int64
	query := fmt.Sprintf("SELECT MAX(block_height) FROM %s", r.tables.Main)
	if err := r.db.QueryRow(ctx, query).Scan(&h); err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, err
	}
	if h == nil {
		return 0, false, nil
	}
	return uint32(*h), true, nil
}
