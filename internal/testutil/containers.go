//go:build integration

package testutil

import (
	"context"
	"database/sql"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// PGContainer wraps a throwaway PostgreSQL instance for integration tests
// that cannot assume a POSTGRES_URL environment.
type PGContainer struct {
	Container testcontainers.Container
	URL       string
	DB        *sql.DB
}

// NewPGContainer starts a PostgreSQL container, applies all migrations, and
// returns an open connection. The container is terminated on test cleanup.
func NewPGContainer(t *testing.T) *PGContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("qwallet_test"),
		tcpostgres.WithUsername("qwallet"),
		tcpostgres.WithPassword("qwallet"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("containers: start postgres: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("containers: connection string: %v", err)
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		t.Fatalf("containers: open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("containers: connect to database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := runMigrations(ctx, db, findMigrationsDir(t)); err != nil {
		t.Fatalf("containers: run migrations: %v", err)
	}

	return &PGContainer{Container: container, URL: url, DB: db}
}
