package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS workflow_state (
	scope      TEXT        NOT NULL,
	key        TEXT        NOT NULL,
	value      TEXT        NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (scope, key)
)`

// PostgresBackend stores workflow state rows in the workflow_state table.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend wraps an existing connection pool.
func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

// EnsureSchema creates the workflow_state table when it does not exist.
func (p *PostgresBackend) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create workflow_state table: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Get(ctx context.Context, scope, key string) (string, bool, error) {
	var value string
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM workflow_state WHERE scope = $1 AND key = $2`,
		scope, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get state: %w", err)
	}
	return value, true, nil
}

func (p *PostgresBackend) Set(ctx context.Context, scope, key, value string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO workflow_state (scope, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (scope, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, scope, key, value)
	if err != nil {
		return fmt.Errorf("failed to set state: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Delete(ctx context.Context, scope, key string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM workflow_state WHERE scope = $1 AND key = $2`,
		scope, key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Clear(ctx context.Context, scope string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM workflow_state WHERE scope = $1`, scope)
	if err != nil {
		return fmt.Errorf("failed to clear state: %w", err)
	}
	return nil
}
