package event

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/screenguard/internal/metrics"
)

// DefaultQueueSize bounds the backlog held for a single sink.
const DefaultQueueSize = 64

// DefaultSendTimeout bounds a single Sink.Send call.
const DefaultSendTimeout = 10 * time.Second

type worker struct {
	name string
	sink Sink
	q    chan Event
}

// Dispatcher fans events out to registered sinks. Every sink is drained by
// its own goroutine from a bounded queue; Emit never waits for a sink.
type Dispatcher struct {
	log         *slog.Logger
	sendTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	workers []*worker
	closed  bool
	wg      sync.WaitGroup

	last atomic.Pointer[Event]
}

// NewDispatcher returns an empty Dispatcher. A nil logger uses slog.Default().
func NewDispatcher(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{log: log, sendTimeout: DefaultSendTimeout, ctx: ctx, cancel: cancel}
}

// SetSendTimeout changes the per-send deadline; d <= 0 disables it.
func (d *Dispatcher) SetSendTimeout(t time.Duration) { d.sendTimeout = t }

// Add registers a sink under name with a queue of size queue
// (DefaultQueueSize when queue <= 0). Sinks added after Close are ignored.
func (d *Dispatcher) Add(name string, s Sink, queue int) {
	if s == nil {
		return
	}
	if queue <= 0 {
		queue = DefaultQueueSize
	}
	w := &worker{name: name, sink: s, q: make(chan Event, queue)}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.workers = append(d.workers, w)
	d.wg.Add(1)
	go d.run(w)
}

// Len reports the number of registered sinks.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.workers)
}

// Emit queues e for every sink. A sink whose queue is full misses the event.
func (d *Dispatcher) Emit(e Event) {
	e = stamp(e)
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	d.last.Store(&e)
	metrics.IncEvent(string(e.Type))
	for _, w := range d.workers {
		select {
		case w.q <- e:
		default:
			metrics.IncEventDropped(w.name)
			d.log.Warn("event dropped, sink queue full", "sink", w.name, "type", e.Type)
		}
	}
}

// Last returns the most recently emitted event.
func (d *Dispatcher) Last() (Event, bool) {
	p := d.last.Load()
	if p == nil {
		return Event{}, false
	}
	return *p, true
}

func (d *Dispatcher) run(w *worker) {
	defer d.wg.Done()
	for e := range w.q {
		d.deliver(w, e)
	}
}

func (d *Dispatcher) deliver(w *worker, e Event) {
	ctx := d.ctx
	if d.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
	}
	if err := w.sink.Send(ctx, e); err != nil {
		metrics.IncSinkError(w.name)
		d.log.Warn("sink send failed", "sink", w.name, "type", e.Type, "error", err)
	}
}

// Close stops accepting events, lets the sinks drain their queues until ctx
// ends, then closes every sink implementing io.Closer.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, w := range d.workers {
		close(w.q)
	}
	workers := d.workers
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()
	var errs []error
	select {
	case <-drained:
	case <-ctx.Done():
		// abort in-progress sends and wait for the workers to notice
		d.cancel()
		<-drained
		errs = append(errs, ctx.Err())
	}
	d.cancel()

	for _, w := range workers {
		if c, ok := w.sink.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
