// Package console prints events to the terminal.
package console

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/loykin/screenguard/internal/event"
)

// Sink writes one structured log line per event.
type Sink struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{log: log.With("component", "console")}
}

func (s *Sink) Send(ctx context.Context, e event.Event) error {
	switch e.Type {
	case event.TypeScreenshotTaken:
		s.log.InfoContext(ctx, "screenshot taken", "cycle", e.CycleID, "path", e.Path)
	case event.TypeScreenshotAnalysis:
		s.log.InfoContext(ctx, "screenshot analysis", "cycle", e.CycleID, "path", e.Path, "analysis", string(e.Analysis))
	case event.TypeScreenshotError:
		s.log.WarnContext(ctx, "screenshot error", "cycle", e.CycleID, "message", e.Message)
	case event.TypeCountdownUpdate:
		n, _ := e.Seconds()
		s.log.DebugContext(ctx, "countdown", "remaining", n)
	}
	return nil
}

// JSONLines writes every event as a single JSON object per line.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

func (j *JSONLines) Send(_ context.Context, e event.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(e)
}
