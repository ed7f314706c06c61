package draft

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresKV stores one attempt's drafts in the attempt_drafts table.
type PostgresKV struct {
	pool      *pgxpool.Pool
	attemptID uuid.UUID
}

// NewPostgresKV creates a PostgresKV scoped to attemptID.
func NewPostgresKV(pool *pgxpool.Pool, attemptID uuid.UUID) *PostgresKV {
	return &PostgresKV{pool: pool, attemptID: attemptID}
}

// Get implements KV.
func (p *PostgresKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM attempt_drafts WHERE attempt_id = $1 AND draft_key = $2`,
		p.attemptID, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select draft %s: %w", key, err)
	}
	return value, true, nil
}

// Set implements KV.
func (p *PostgresKV) Set(ctx context.Context, key, value string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO attempt_drafts (attempt_id, draft_key, value)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (attempt_id, draft_key) DO UPDATE
		 SET value = EXCLUDED.value, updated_at = NOW()`,
		p.attemptID, key, value,
	)
	if err != nil {
		return fmt.Errorf("upsert draft %s: %w", key, err)
	}
	return nil
}

// RemoveAll implements KV.
func (p *PostgresKV) RemoveAll(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM attempt_drafts WHERE attempt_id = $1`, p.attemptID); err != nil {
		return fmt.Errorf("delete drafts: %w", err)
	}
	return nil
}
