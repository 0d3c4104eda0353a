package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/loykin/screenguard/internal/event"
)

// asyncReceive must be called before Send: miniredis delivers pub/sub
// messages synchronously.
func asyncReceive(sub *miniredis.Subscriber) <-chan miniredis.PubsubMessage {
	ch := make(chan miniredis.PubsubMessage, 1)
	go func() {
		ch <- <-sub.Messages()
	}()
	return ch
}

func waitMessage(t *testing.T, ch <-chan miniredis.PubsubMessage) miniredis.PubsubMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
		return miniredis.PubsubMessage{}
	}
}

func TestSend_PublishesOnDefaultChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := New(Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = s.Close() }()

	sub := mr.NewSubscriber()
	sub.Subscribe(DefaultChannel)
	ch := asyncReceive(sub)

	e := event.ScreenshotError("cycle-1", "analyzer exited with code 1")
	if err := s.Send(context.Background(), e); err != nil {
		t.Fatalf("send: %v", err)
	}
	msg := waitMessage(t, ch)
	var got event.Event
	if err := json.Unmarshal([]byte(msg.Message), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.CycleID != "cycle-1" || got.Message != "analyzer exited with code 1" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestSend_CustomChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := New(Config{URL: "redis://" + mr.Addr(), Channel: "desk:42"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = s.Close() }()

	sub := mr.NewSubscriber()
	sub.Subscribe("desk:42")
	ch := asyncReceive(sub)
	if err := s.Send(context.Background(), event.ScreenshotTaken("c", "/p.png")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg := waitMessage(t, ch); msg.Channel != "desk:42" {
		t.Fatalf("unexpected channel %s", msg.Channel)
	}
}

func TestSend_FailsWhenServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := New(Config{URL: "redis://" + mr.Addr(), Retries: 1, Backoff: time.Millisecond, Timeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = s.Close() }()
	mr.Close()
	if err := s.Send(context.Background(), event.ScreenshotTaken("c", "p")); err == nil {
		t.Fatalf("expected error with server down")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for empty URL")
	}
	if _, err := New(Config{URL: "not a url"}); err == nil {
		t.Fatalf("expected error for invalid URL")
	}
	if _, err := New(Config{URL: "redis://localhost:6379", Retries: -1}); err == nil {
		t.Fatalf("expected error for negative retries")
	}
}
