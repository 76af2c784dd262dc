package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
)

// SnapshotRepository stores serialized indexes in Postgres.
type SnapshotRepository struct {
	db *sql.DB
}

func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

func (r *SnapshotRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101701)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS index_snapshots (
	cache_key TEXT PRIMARY KEY,
	payload BYTEA NOT NULL,
	size_bytes INTEGER NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_index_snapshots_updated_at ON index_snapshots(updated_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *SnapshotRepository) Load(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM index_snapshots WHERE cache_key = $1`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.WrapError(domain.ErrSnapshotNotFound, "load snapshot", err)
	}
	if err != nil {
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return payload, nil
}

func (r *SnapshotRepository) Save(ctx context.Context, key string, data []byte) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO index_snapshots (cache_key, payload, size_bytes, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (cache_key) DO UPDATE SET
	payload = EXCLUDED.payload,
	size_bytes = EXCLUDED.size_bytes,
	updated_at = EXCLUDED.updated_at`,
		key, data, len(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (r *SnapshotRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM index_snapshots WHERE cache_key = $1`, key); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Prune removes snapshots not refreshed since before.
func (r *SnapshotRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM index_snapshots WHERE updated_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return n, nil
}

func (r *SnapshotRepository) Close() error {
	return r.db.Close()
}
