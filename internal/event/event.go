// Package event defines what screenguard reports to its presentation sinks
// and fans events out to them.
package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type names an event on the presentation surface.
type Type string

const (
	TypeScreenshotTaken    Type = "screenshot-taken"
	TypeScreenshotAnalysis Type = "screenshot-analysis"
	TypeScreenshotError    Type = "screenshot-error"
	TypeCountdownUpdate    Type = "countdown-update"
)

// Event is one notification delivered to sinks.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	CycleID    string    `json:"cycle_id,omitempty"`

	// screenshot-taken, screenshot-analysis
	Path string `json:"path,omitempty"`
	// screenshot-analysis: the analyzer's JSON, forwarded unchanged
	Analysis json.RawMessage `json:"analysis,omitempty"`
	// screenshot-error
	Message string `json:"message,omitempty"`
	// countdown-update; a pointer because 0 is a real value
	Remaining *int `json:"remaining,omitempty"`
}

// Sink is a destination for events. Implementations must be safe for
// concurrent use; a Sink that also implements io.Closer is closed by the
// Dispatcher on shutdown.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Send(ctx context.Context, e Event) error { return f(ctx, e) }

// Emitter accepts events for delivery without blocking.
type Emitter interface {
	Emit(e Event)
}

// Seconds returns the countdown value of a countdown-update event.
func (e Event) Seconds() (int, bool) {
	if e.Remaining == nil {
		return 0, false
	}
	return *e.Remaining, true
}

// Payload returns the argument carried by the event on the presentation
// surface: the path, {path, analysis}, the message, or the seconds remaining.
func (e Event) Payload() any {
	switch e.Type {
	case TypeScreenshotTaken:
		return e.Path
	case TypeScreenshotAnalysis:
		return struct {
			Path     string          `json:"path"`
			Analysis json.RawMessage `json:"analysis"`
		}{e.Path, e.Analysis}
	case TypeScreenshotError:
		return e.Message
	case TypeCountdownUpdate:
		n, _ := e.Seconds()
		return n
	}
	return nil
}

func stamp(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return e
}

// ScreenshotTaken reports a new screenshot file at path.
func ScreenshotTaken(cycleID, path string) Event {
	return stamp(Event{Type: TypeScreenshotTaken, CycleID: cycleID, Path: path})
}

// ScreenshotAnalysis carries the analyzer's document for path.
func ScreenshotAnalysis(cycleID, path string, doc json.RawMessage) Event {
	return stamp(Event{Type: TypeScreenshotAnalysis, CycleID: cycleID, Path: path, Analysis: doc})
}

// ScreenshotError reports a per-cycle failure or analyzer diagnostics.
func ScreenshotError(cycleID, msg string) Event {
	return stamp(Event{Type: TypeScreenshotError, CycleID: cycleID, Message: msg})
}

// CountdownUpdate reports the seconds left until the next capture.
func CountdownUpdate(remaining int) Event {
	return stamp(Event{Type: TypeCountdownUpdate, Remaining: &remaining})
}
