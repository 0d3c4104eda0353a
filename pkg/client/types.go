package client

import (
	"encoding/json"
	"time"
)

// Event mirrors a session event as served by GET /status and GET /events.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	CycleID    string          `json:"cycle_id,omitempty"`
	Path       string          `json:"path,omitempty"`
	Analysis   json.RawMessage `json:"analysis,omitempty"`
	Message    string          `json:"message,omitempty"`
	Remaining  *int            `json:"remaining,omitempty"`
}

// Status is the daemon's session snapshot.
type Status struct {
	Running       bool   `json:"running"`
	Remaining     int    `json:"remaining"`
	Period        int    `json:"period"`
	InFlight      bool   `json:"in_flight"`
	Provisioned   bool   `json:"provisioned"`
	ScreenshotDir string `json:"screenshot_dir"`
	LastEvent     *Event `json:"last_event,omitempty"`
}

// CaptureResult is the report of a cycle run through POST /capture?wait=...
type CaptureResult struct {
	CycleID    string `json:"cycle_id"`
	Outcome    string `json:"outcome"`
	Path       string `json:"path,omitempty"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Duration converts DurationMS.
func (r CaptureResult) Duration() time.Duration {
	return time.Duration(r.DurationMS) * time.Millisecond
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
