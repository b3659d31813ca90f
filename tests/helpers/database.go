package helpers

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/store"
)

// GetTestDatabasePool creates a database connection pool for testing
func GetTestDatabasePool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// DatabaseURL returns DATABASE_URL, or a URL built from the POSTGRES_*
// variables when POSTGRES_HOST is set. Empty means no database is available.
func DatabaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=prefer",
		getenv("POSTGRES_USER", "postgres"),
		getenv("POSTGRES_PASSWORD", "postgres"),
		host,
		getenv("POSTGRES_PORT", "5432"),
		getenv("POSTGRES_DB", "domain_orchestrator"),
	)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// TestDatabase provides database utilities for testing
type TestDatabase struct {
	Pool    *pgxpool.Pool
	Backend *store.PostgresBackend
	ctx     context.Context
}

// NewTestDatabase connects to the test database and ensures the schema. The
// test is skipped when no database is configured.
func NewTestDatabase(t *testing.T) *TestDatabase {
	t.Helper()
	databaseURL := DatabaseURL()
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set, skipping database test")
	}

	ctx := context.Background()
	if err := WaitForDatabase(ctx, databaseURL, 5, time.Second); err != nil {
		t.Fatalf("Failed to reach test database: %v", err)
	}

	pool, err := GetTestDatabasePool(ctx, databaseURL)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	backend := store.NewPostgresBackend(pool)
	if err := backend.EnsureSchema(ctx); err != nil {
		pool.Close()
		t.Fatalf("Failed to ensure schema: %v", err)
	}

	return &TestDatabase{
		Pool:    pool,
		Backend: backend,
		ctx:     ctx,
	}
}

// Close closes the database connection
func (db *TestDatabase) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// NewScope returns a unique scope whose rows are deleted when the test ends.
func (db *TestDatabase) NewScope(t *testing.T) string {
	t.Helper()
	scope := "test-" + uuid.New().String()
	t.Cleanup(func() {
		if err := db.Backend.Clear(context.Background(), scope); err != nil {
			t.Logf("Warning: Failed to clean up scope %s: %v", scope, err)
		}
	})
	return scope
}

// RowCount returns the number of persisted keys of scope.
func (db *TestDatabase) RowCount(t *testing.T, scope string) int {
	t.Helper()
	var count int
	err := db.Pool.QueryRow(db.ctx, `SELECT COUNT(*) FROM workflow_state WHERE scope = $1`, scope).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	return count
}

// WaitForDatabase waits for database to be ready
func WaitForDatabase(ctx context.Context, databaseURL string, maxAttempts int, delay time.Duration) error {
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		pool, err := GetTestDatabasePool(ctx, databaseURL)
		if err == nil {
			pool.Close()
			return nil
		}
		lastErr = err

		if i < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("database not ready after %d attempts: %w", maxAttempts, lastErr)
}
