// Package history journals screenguard events into analytics stores.
// Only event rows are recorded, never screenshot contents.
package history

import (
	"database/sql"
	"time"

	"github.com/loykin/screenguard/internal/event"
)

// Table is the default journal table name.
const Table = "screenguard_events"

// Row is the flattened journal form of an event.
type Row struct {
	EventID    string
	Type       string
	OccurredAt time.Time
	CycleID    string
	Path       string
	Message    string
	Analysis   sql.NullString
	Remaining  sql.NullInt64
}

// RowOf flattens e for insertion.
func RowOf(e event.Event) Row {
	r := Row{
		EventID:    e.ID,
		Type:       string(e.Type),
		OccurredAt: e.OccurredAt.UTC(),
		CycleID:    e.CycleID,
		Path:       e.Path,
		Message:    e.Message,
	}
	if len(e.Analysis) > 0 {
		r.Analysis = sql.NullString{String: string(e.Analysis), Valid: true}
	}
	if n, ok := e.Seconds(); ok {
		r.Remaining = sql.NullInt64{Int64: int64(n), Valid: true}
	}
	return r
}
