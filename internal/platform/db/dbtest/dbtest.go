//go:build integration

// Package dbtest gives repository tests a migrated, throwaway PostgreSQL
// schema. Point TEST_DATABASE_URL at a server the tests may create schemas
// on; without it every caller is skipped.
package dbtest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/postpartum/tracker/internal/platform/db"
)

const EnvURL = "TEST_DATABASE_URL"

// Open creates a fresh schema, applies the embedded migrations to it and
// returns a pool whose connections default to that schema. The schema is
// dropped when the test ends.
func Open(t testing.TB) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv(EnvURL)
	if url == "" {
		t.Skipf("%s not set; skipping postgres-backed test", EnvURL)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := "test_" + strings.ReplaceAll(uuid.NewString()[:13], "-", "")

	admin, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect admin pool: %v", err)
	}
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		admin.Close()
		t.Fatalf("create schema %s: %v", schema, err)
	}
	t.Cleanup(func() {
		if _, err := admin.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("warning: drop schema %s: %v", schema, err)
		}
		admin.Close()
	})

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: url, Schema: schema, MaxConns: 16})
	if err != nil {
		t.Fatalf("connect test pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := db.NewMigrator(pool, db.EmbeddedMigrations()).Up(ctx, schema); err != nil {
		t.Fatalf("migrate %s: %v", schema, err)
	}
	return pool
}

// InsertAccount adds a bare account row and returns its id.
func InsertAccount(t testing.TB, pool *pgxpool.Pool, username string) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(),
		`INSERT INTO account (username, email) VALUES ($1, $1) RETURNING id`, username).Scan(&id)
	if err != nil {
		t.Fatalf("insert account %s: %v", username, err)
	}
	return id
}

// InsertPatient adds a patient for accountID with the default identifier.
func InsertPatient(t testing.TB, pool *pgxpool.Pool, accountID int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO patient (id, account_id, identifier, birth_date) VALUES ($1, $2, $3, CURRENT_DATE)`,
		id, accountID, fmt.Sprintf("PAT-%d", accountID))
	if err != nil {
		t.Fatalf("insert patient for account %d: %v", accountID, err)
	}
	return id
}

// Count returns the number of rows in table.
func Count(t testing.TB, pool *pgxpool.Pool, table string) int {
	t.Helper()
	var n int
	if err := pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
