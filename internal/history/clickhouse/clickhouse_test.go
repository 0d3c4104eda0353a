package clickhouse

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/screenguard/internal/event"
)

// setupClickHouseContainer starts a ClickHouse container for testing
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	clickHouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start ClickHouse container: %v", err)
	}

	host, err := clickHouseContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := clickHouseContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	return clickHouseContainer, host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, addr := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	sink, err := New(addr, "", Auth{})
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	if err := sink.Send(ctx, event.ScreenshotTaken("cycle-ch", "/shots/a.png")); err != nil {
		t.Fatalf("Failed to send taken event: %v", err)
	}
	if err := sink.Send(ctx, event.ScreenshotAnalysis("cycle-ch", "/shots/a.png", json.RawMessage(`{"verdict":"clean"}`))); err != nil {
		t.Fatalf("Failed to send analysis event: %v", err)
	}
	if err := sink.Send(ctx, event.CountdownUpdate(3)); err != nil {
		t.Fatalf("Failed to send countdown event: %v", err)
	}

	row := sink.conn.QueryRow(ctx, "SELECT COUNT(*) FROM screenguard_events WHERE cycle_id = ?", "cycle-ch")
	var count uint64
	if err := row.Scan(&count); err != nil {
		t.Fatalf("Failed to query count: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 events, got %d", count)
	}
}

func TestClickHouseSink_ConnectionError(t *testing.T) {
	if _, err := New("invalid-host:9000", "test_table", Auth{}); err == nil {
		t.Error("Expected error with invalid connection, got nil")
	}
}

func TestClickHouseSink_InvalidTable(t *testing.T) {
	if _, err := New("localhost:9000", "bad table", Auth{}); err == nil {
		t.Error("Expected error for invalid table name")
	}
}
