// Package dbtest provisions a throwaway Postgres schema per test. Tests are
// skipped unless TEST_POSTGRES_DSN is set.
package dbtest

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/booking-queue-engine/internal/db"
)

// NewPool returns a pool bound to a fresh, migrated schema that is dropped
// when the test ends.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN is required for integration tests")
	}

	ctx := context.Background()
	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := execOnce(ctx, dsn, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.MaxConns = 20
	cfg.ConnConfig.RuntimeParams["search_path"] = schema

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		_ = execOnce(context.Background(), dsn, "DROP SCHEMA "+schema+" CASCADE")
	})

	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	return pool
}

func execOnce(ctx context.Context, dsn, sql string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, sql)
	return err
}

// InsertService adds a service row and returns its id.
func InsertService(t *testing.T, pool *pgxpool.Pool, name string, minutes int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := pool.Exec(context.Background(), `
		INSERT INTO services (id, name, duration_minutes) VALUES ($1, $2, $3)
	`, id, name, minutes); err != nil {
		t.Fatalf("insert service: %v", err)
	}
	return id
}

// InsertQueue adds an open queue and returns its id.
func InsertQueue(t *testing.T, pool *pgxpool.Pool, establishmentID uuid.UUID, serviceID *uuid.UUID) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := pool.Exec(context.Background(), `
		INSERT INTO queues (id, establishment_id, service_id, name, status) VALUES ($1, $2, $3, 'test', 'open')
	`, id, establishmentID, serviceID); err != nil {
		t.Fatalf("insert queue: %v", err)
	}
	return id
}
