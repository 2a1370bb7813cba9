// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/catalog-mirror/internal/crawler"
)

const defaultTable = "mirror_manifest"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ManifestStoreConfig controls the Postgres connection pool used for manifest rows.
type ManifestStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ManifestStore writes one row per mirrored file into Postgres.
type ManifestStore struct {
	pool  execCloser
	table string
}

// NewManifestStore creates a Postgres-backed ManifestStore using the provided config.
func NewManifestStore(ctx context.Context, cfg ManifestStoreConfig) (*ManifestStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("manifest.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ManifestStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewManifestStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewManifestStoreWithPool(pool execCloser, table string) (*ManifestStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ManifestStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ManifestStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the manifest table when it does not exist yet.
func (s *ManifestStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("manifest store is not configured")
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id       TEXT        NOT NULL,
	url          TEXT        NOT NULL,
	local_path   TEXT        NOT NULL,
	kind         TEXT        NOT NULL,
	content_hash TEXT        NOT NULL,
	bytes        INTEGER     NOT NULL,
	fetched_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, url)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create manifest table: %w", err)
	}
	return nil
}

// RecordEntry upserts the manifest row for one file.
func (s *ManifestStore) RecordEntry(ctx context.Context, entry crawler.ManifestEntry) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("manifest store is not configured")
	}
	if entry.RunID == "" || entry.URL == "" {
		return fmt.Errorf("run id and url are required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	url,
	local_path,
	kind,
	content_hash,
	bytes,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)
ON CONFLICT (run_id, url) DO UPDATE SET
	local_path = EXCLUDED.local_path,
	content_hash = EXCLUDED.content_hash,
	bytes = EXCLUDED.bytes,
	fetched_at = EXCLUDED.fetched_at`, s.table)

	args := []any{
		entry.RunID,
		entry.URL,
		entry.LocalPath,
		string(entry.Kind),
		entry.ContentHash,
		entry.Bytes,
		entry.FetchedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert manifest entry: %w", err)
	}
	return nil
}
