// Package testutil provides shared test infrastructure for integration tests
// that require a Postgres container.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    tc, err := testutil.StartPostgres()
//	    if err != nil {
//	        fmt.Fprintf(os.Stderr, "skipping: %v\n", err)
//	        os.Exit(0)
//	    }
//	    defer tc.Terminate()
//	    ...
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestContainer wraps a testcontainers container with a DSN for connecting.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// StartPostgres starts a Postgres container and waits for it to accept
// connections. An error usually means Docker is unavailable; callers decide
// whether that skips or fails the package.
func StartPostgres() (tc *TestContainer, err error) {
	// testcontainers-go panics (rather than returning an error) when no
	// Docker host can be discovered; surface that as an error so callers
	// can skip as documented above.
	defer func() {
		if r := recover(); r != nil {
			tc = nil
			err = fmt.Errorf("testutil: start container: %v", r)
		}
	}()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "kairo",
			"POSTGRES_PASSWORD": "kairo",
			"POSTGRES_DB":       "kairo",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("testutil: start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("testutil: get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("testutil: get container port: %w", err)
	}

	dsn := fmt.Sprintf("postgres://kairo:kairo@%s:%s/kairo?sslmode=disable", host, port.Port())
	return &TestContainer{Container: container, DSN: dsn}, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
