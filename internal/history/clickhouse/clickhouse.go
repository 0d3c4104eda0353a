package clickhouse

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/screenguard/internal/event"
	"github.com/loykin/screenguard/internal/history"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// Auth holds the ClickHouse login; zero values select the server defaults.
type Auth struct {
	Database string
	Username string
	Password string
}

// Sink journals events to ClickHouse using the official Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects to addr (host:port, native protocol) and creates table if missing.
func New(addr, table string, auth Auth) (*Sink, error) {
	if table == "" {
		table = history.Table
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if auth.Database == "" {
		auth.Database = "default"
	}
	if auth.Username == "" {
		auth.Username = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: auth.Database,
			Username: auth.Username,
			Password: auth.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: table}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		event_id String,
		type LowCardinality(String),
		occurred_at DateTime64(3),
		cycle_id String,
		path String,
		message String,
		analysis Nullable(String),
		remaining Nullable(Int64)
	) ENGINE = MergeTree()
	ORDER BY (occurred_at, cycle_id)`, s.table)
	if err := s.conn.Exec(ctx, q); err != nil {
		return fmt.Errorf("failed to create ClickHouse table: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e event.Event) error {
	r := history.RowOf(e)
	var analysis *string
	if r.Analysis.Valid {
		analysis = &r.Analysis.String
	}
	var remaining *int64
	if r.Remaining.Valid {
		remaining = &r.Remaining.Int64
	}
	query := fmt.Sprintf(`INSERT INTO %s (event_id, type, occurred_at, cycle_id, path, message, analysis, remaining) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	if err := s.conn.Exec(ctx, query,
		r.EventID, r.Type, r.OccurredAt, r.CycleID, r.Path, r.Message, analysis, remaining,
	); err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}
