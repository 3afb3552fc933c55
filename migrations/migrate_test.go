package migrations

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func getTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping migration integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return pool
}

func runSQL(t *testing.T, pool *pgxpool.Pool, filename string) {
	t.Helper()
	sql, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err = pool.Exec(ctx, string(sql))
	if err != nil {
		t.Fatalf("failed to execute %s: %v", filename, err)
	}
}

var expectedTables = []string{"memory_items", "embedding_cache"}

func TestMigrationUpCreatesAllTables(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	// Run up (idempotent — safe even if tables already exist)
	runSQL(t, pool, "001_initial_schema.up.sql")

	ctx := context.Background()
	for _, table := range expectedTables {
		var exists bool
		err := pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)", table,
		).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("table %s does not exist after up migration", table)
		}
	}
}

func TestMigrationUpIsIdempotent(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	// Run up twice — second run should not error (idempotent)
	runSQL(t, pool, "001_initial_schema.up.sql")
	runSQL(t, pool, "001_initial_schema.up.sql")
}

func TestMigrationDownAndUpCycle(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	// Verify down + up cycle executes without errors. We don't check
	// table absence between down/up because concurrent test packages
	// (store) share this database and may recreate tables.
	runSQL(t, pool, "001_initial_schema.down.sql")
	runSQL(t, pool, "001_initial_schema.up.sql")

	ctx := context.Background()
	for _, table := range expectedTables {
		var exists bool
		err := pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)", table,
		).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("table %s does not exist after down+up cycle", table)
		}
	}
}

func TestMigrationEmbeddingColumnIsVector(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	runSQL(t, pool, "001_initial_schema.up.sql")

	ctx := context.Background()
	var dataType string
	err := pool.QueryRow(ctx, `
		SELECT udt_name FROM information_schema.columns
		WHERE table_name = 'memory_items' AND column_name = 'embedding'
	`).Scan(&dataType)
	if err != nil {
		t.Fatalf("failed to check embedding column: %v", err)
	}
	if dataType != "vector" {
		t.Errorf("embedding column type = %q, want %q", dataType, "vector")
	}
}

func TestMigrationEmbeddingCacheHasExpectedColumns(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	runSQL(t, pool, "001_initial_schema.up.sql")

	ctx := context.Background()
	for _, col := range []string{"key", "vector", "inserted_at", "last_accessed_at"} {
		var exists bool
		err := pool.QueryRow(ctx, `
			SELECT EXISTS (SELECT FROM information_schema.columns
				WHERE table_name = 'embedding_cache' AND column_name = $1)`, col,
		).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to check column %s: %v", col, err)
		}
		if !exists {
			t.Errorf("embedding_cache.%s does not exist", col)
		}
	}
}
