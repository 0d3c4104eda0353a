package event

import (
	"context"
	"sync"
)

// Recorder keeps every event it is given. It serves both as Sink and Emitter.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

func (r *Recorder) Send(_ context.Context, e Event) error {
	r.Emit(e)
	return nil
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Events returns a copy of what has been recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists the recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// WaitFor blocks until pred holds for the recorded events or ctx ends.
func (r *Recorder) WaitFor(ctx context.Context, pred func([]Event) bool) bool {
	for {
		if pred(r.Events()) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-r.notify:
		}
	}
}
