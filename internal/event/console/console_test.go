package console

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/loykin/screenguard/internal/event"
)

func TestSinkLogsEachType(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := New(log)
	ctx := context.Background()
	_ = s.Send(ctx, event.ScreenshotTaken("c1", "/x/a.png"))
	_ = s.Send(ctx, event.ScreenshotAnalysis("c1", "/x/a.png", json.RawMessage(`{"verdict":"clean"}`)))
	_ = s.Send(ctx, event.ScreenshotError("c1", "boom"))
	_ = s.Send(ctx, event.CountdownUpdate(7))

	out := buf.String()
	for _, want := range []string{"screenshot taken", "path=/x/a.png", "verdict", "level=WARN", "message=boom", "remaining=7", "component=console"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestJSONLines(t *testing.T) {
	var buf bytes.Buffer
	j := NewJSONLines(&buf)
	_ = j.Send(context.Background(), event.ScreenshotTaken("c1", "/a.png"))
	_ = j.Send(context.Background(), event.ScreenshotError("c1", "bad"))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var e event.Event
	if err := json.Unmarshal([]byte(lines[1]), &e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Type != event.TypeScreenshotError || e.Message != "bad" || e.CycleID != "c1" {
		t.Fatalf("unexpected event: %+v", e)
	}
}
