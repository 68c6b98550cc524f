package test_utils

import (
	"context"
	"testing"

	"github.com/budgetwatch/budgetwatch/internal/config"
	"github.com/budgetwatch/budgetwatch/internal/database"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	pgDbName   = "budgetwatch"
	pgUser     = "test_budgetwatch"
	pgPassword = "test_budgetwatch"
)

func preparePostgresContainer(ctx context.Context) (*postgres.PostgresContainer, error) {
	pgContainer, err := postgres.Run(
		ctx, "postgres:18.1-alpine",
		postgres.WithDatabase(pgDbName),
		postgres.WithUsername(pgUser),
		postgres.WithPassword(pgPassword),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Printf("failed to start container: %s", err)
		return nil, err
	}
	return pgContainer, nil
}

// PostgresDB is a migrated Postgres instance running in a container. Restore resets it to
// the freshly migrated state so tests sharing one container stay independent.
type PostgresDB struct {
	Config    config.Database
	container *postgres.PostgresContainer
}

// StartPostgres starts a Postgres container, applies all migrations and snapshots the result.
// The test is skipped in short mode or when no container runtime is available.
func StartPostgres(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := preparePostgresContainer(ctx)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			log.Warnf("failed to terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to resolve container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("Failed to resolve container port: %v", err)
	}
	log.Infof("Postgres container started at %s:%d", host, port.Int())

	cfg := config.Database{
		Driver: database.DriverPostgres,
		Host:   host,
		Port:   port.Int(),
		User:   pgUser,
		Pass:   pgPassword,
		Name:   pgDbName,
		Schema: "public",
	}

	if err := database.MigratePostgres(cfg); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	if err := container.Snapshot(ctx, postgres.WithSnapshotName("postgres-test-snapshot")); err != nil {
		t.Fatalf("Failed to snapshot postgres container: %v", err)
	}

	return &PostgresDB{Config: cfg, container: container}
}

// Open returns a pool connected to the container. The pool is closed when the test ends.
func (p *PostgresDB) Open(t *testing.T) *pgxpool.Pool {
	t.Helper()
	pool, err := database.OpenPostgres(context.Background(), p.Config)
	if err != nil {
		t.Fatalf("Failed to open database connection: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// Restore resets the database to the snapshot taken right after migrations.
func (p *PostgresDB) Restore(t *testing.T) {
	t.Helper()
	if err := p.container.Restore(context.Background()); err != nil {
		t.Fatalf("Failed to restore postgres snapshot: %v", err)
	}
}
