package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/screenguard/internal/event"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	sink, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	if err := sink.Send(ctx, event.ScreenshotTaken("cycle-pg", "/shots/a.png")); err != nil {
		t.Fatalf("Failed to send taken event: %v", err)
	}
	if err := sink.Send(ctx, event.ScreenshotError("cycle-pg", "analyzer exited with code 1")); err != nil {
		t.Fatalf("Failed to send error event: %v", err)
	}

	var count int
	if err := sink.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM screenguard_events WHERE cycle_id = $1", "cycle-pg").Scan(&count); err != nil {
		t.Fatalf("Failed to query screenguard_events: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 events in journal, got %d", count)
	}
}

func TestNew_EmptyDSN(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
