// Package testutils provides shared helpers for the test suites.
package testutils

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx" // PGX driver for golang-migrate
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	dbUser     = "wattline"
	dbPassword = "wattline"
	dbName     = "wattline_test"
)

// PostgresContainer is a disposable PostgreSQL instance for tests.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string

	User     string
	Password string
	Name     string
	Host     string
	Port     string
}

// StartPostgresContainer starts a PostgreSQL container and waits until it
// accepts connections.
func StartPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	if runtime.GOOS != "linux" {
		t.Skip("Skipping PostgreSQL container test on non-Linux OS")
	}

	ctx := t.Context()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     dbUser,
				"POSTGRES_PASSWORD": dbPassword,
				"POSTGRES_DB":       dbName,
			},
			WaitingFor: wait.ForListeningPort("5432/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err, "Setup: failed to start PostgreSQL container")

	host, err := container.Host(ctx)
	require.NoError(t, err, "Setup: failed to get container host")
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err, "Setup: failed to get mapped port")

	return &PostgresContainer{
		Container: container,
		DSN: fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			dbUser, dbPassword, host, port.Port(), dbName),

		User:     dbUser,
		Password: dbPassword,
		Name:     dbName,
		Host:     host,
		Port:     port.Port(),
	}
}

// Stop terminates the PostgreSQL container.
func (pc *PostgresContainer) Stop(ctx context.Context) error {
	return pc.Container.Terminate(ctx)
}

// IsReady reports whether the database accepts connections, retrying up to
// attempts times with the given per-attempt timeout.
func (pc PostgresContainer) IsReady(t *testing.T, timeout time.Duration, attempts int) error {
	t.Helper()

	config, err := pgx.ParseConfig(pc.DSN)
	if err != nil {
		return fmt.Errorf("failed to parse DSN: %w", err)
	}

	var lastErr error
	for i := range attempts {
		ctx, cancel := context.WithTimeout(t.Context(), timeout)
		conn, err := pgx.ConnectConfig(ctx, config)
		cancel()
		if err == nil {
			ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
			defer cancel()
			return conn.Close(ctx)
		}

		lastErr = err
		t.Logf("Attempt %d: failed to connect to database: %v", i+1, err)
		time.Sleep(1 * time.Second)
	}

	return fmt.Errorf("database did not become ready after %d attempts: %v", attempts, lastErr)
}

// ApplyMigrations applies every migration in migrationsDir to the database.
//
// An already migrated database is fine; only real failures abort the test.
func ApplyMigrations(t *testing.T, dsn string, migrationsDir string) {
	t.Helper()

	// golang-migrate selects the pgx driver by URL scheme.
	pgxURL := strings.Replace(dsn, "postgres://", "pgx://", 1)
	m, err := migrate.New("file://"+migrationsDir, pgxURL)
	require.NoError(t, err, "Setup: failed to create migration instance")
	if err := m.Up(); err != nil {
		require.ErrorIs(t, err, migrate.ErrNoChange, "Setup: failed to apply migrations")
	}
}

// ListTables returns the public base tables of the database, excluding any
// listed in skip.
func ListTables(t *testing.T, dsn string, skip ...string) []string {
	t.Helper()

	skipped := make(map[string]bool, len(skip))
	for _, table := range skip {
		skipped[table] = true
	}

	conn, err := pgx.Connect(t.Context(), dsn)
	require.NoError(t, err, "failed to connect to the database")
	defer func() {
		require.NoError(t, conn.Close(t.Context()), "failed to close the database connection")
	}()

	rows, err := conn.Query(t.Context(), `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'`)
	require.NoError(t, err, "failed to list tables")

	var tables []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name), "failed to scan table name")
		if !skipped[name] {
			tables = append(tables, name)
		}
	}
	require.NoError(t, rows.Err(), "error occurred during rows iteration")
	return tables
}
