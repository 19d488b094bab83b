// Package postgres archives terminal jobs into Postgres for durable history.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/markvault/markvault/internal/batch"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ArchiveStoreConfig controls the Postgres connection pool.
type ArchiveStoreConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ArchiveStore implements batch.Archiver. The in-memory registry reaps
// terminal jobs after the retention window; the archive row is what survives.
type ArchiveStore struct {
	pool  execCloser
	table string
}

// NewArchiveStore creates a Postgres-backed ArchiveStore.
func NewArchiveStore(ctx context.Context, cfg ArchiveStoreConfig) (*ArchiveStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("archive.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "job_archive"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	return &ArchiveStore{pool: pool, table: table}, nil
}

// NewArchiveStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewArchiveStoreWithPool(pool execCloser, table string) (*ArchiveStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "job_archive"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ArchiveStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *ArchiveStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// ArchiveJob inserts one row per terminal job. Items and stats are stored as
// JSON documents; re-archiving the same job id replaces the row.
func (s *ArchiveStore) ArchiveJob(ctx context.Context, job batch.Job) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("archive store is not configured")
	}
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	itemsJSON, err := json.Marshal(job.Results())
	if err != nil {
		return fmt.Errorf("marshal job results: %w", err)
	}
	statsJSON, err := json.Marshal(job.Stats)
	if err != nil {
		return fmt.Errorf("marshal job stats: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	namespace,
	status,
	created_at,
	completed_at,
	collated_key,
	stats,
	results
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (job_id) DO UPDATE SET
	status = EXCLUDED.status,
	completed_at = EXCLUDED.completed_at,
	collated_key = EXCLUDED.collated_key,
	stats = EXCLUDED.stats,
	results = EXCLUDED.results`, s.table)

	args := []any{
		job.ID,
		job.Namespace,
		string(job.Status),
		job.CreatedAt,
		job.CompletedAt,
		job.CollatedKey,
		statsJSON,
		itemsJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert job archive: %w", err)
	}
	return nil
}
