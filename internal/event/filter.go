package event

import (
	"context"
	"io"
)

// Filter passes only the events Allow accepts to Sink.
type Filter struct {
	Sink  Sink
	Allow func(Event) bool
}

func (f Filter) Send(ctx context.Context, e Event) error {
	if f.Allow != nil && !f.Allow(e) {
		return nil
	}
	return f.Sink.Send(ctx, e)
}

func (f Filter) Close() error {
	if c, ok := f.Sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Only returns a Sink receiving just the given event types.
func Only(s Sink, types ...Type) Sink {
	set := make(map[Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return Filter{Sink: s, Allow: func(e Event) bool {
		_, ok := set[e.Type]
		return ok
	}}
}

// SkipCountdown drops the once-per-second countdown-update events.
func SkipCountdown(s Sink) Sink {
	return Filter{Sink: s, Allow: func(e Event) bool { return e.Type != TypeCountdownUpdate }}
}
