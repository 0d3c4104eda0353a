package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/loykin/screenguard/internal/event"
)

// Dialect selects placeholder and column syntax.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLSink appends events to a relational table. The schema is created if
// missing. Driver registration is left to the caller (see the sqlite and
// postgres subpackages).
type SQLSink struct {
	db      *sql.DB
	dialect Dialect
	table   string
	insert  string
}

// NewSQLSink wraps db and ensures the journal table exists.
func NewSQLSink(ctx context.Context, db *sql.DB, dialect Dialect, table string) (*SQLSink, error) {
	if db == nil {
		return nil, errors.New("nil database handle")
	}
	if table == "" {
		table = Table
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	s := &SQLSink{db: db, dialect: dialect, table: table}
	switch dialect {
	case DialectSQLite:
		s.insert = fmt.Sprintf(`INSERT INTO %s(event_id, type, occurred_at, cycle_id, path, message, analysis, remaining)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?);`, table)
	case DialectPostgres:
		s.insert = fmt.Sprintf(`INSERT INTO %s(event_id, type, occurred_at, cycle_id, path, message, analysis, remaining)
			VALUES($1, $2, $3, $4, $5, $6, $7, $8);`, table)
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) ensureSchema(ctx context.Context) error {
	ts := "TIMESTAMP"
	if s.dialect == DialectPostgres {
		ts = "TIMESTAMPTZ"
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s(
			event_id TEXT NOT NULL,
			type TEXT NOT NULL,
			occurred_at %s NOT NULL,
			cycle_id TEXT NOT NULL,
			path TEXT NOT NULL,
			message TEXT NOT NULL,
			analysis TEXT NULL,
			remaining INTEGER NULL
		);`, s.table, ts),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_cycle ON %s(cycle_id);`, s.table, s.table),
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *SQLSink) Send(ctx context.Context, e event.Event) error {
	r := RowOf(e)
	_, err := s.db.ExecContext(ctx, s.insert,
		r.EventID, r.Type, r.OccurredAt, r.CycleID, r.Path, r.Message, r.Analysis, r.Remaining)
	return err
}

// DB exposes the underlying handle, mainly for queries in tests and tools.
func (s *SQLSink) DB() *sql.DB { return s.db }

func (s *SQLSink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
