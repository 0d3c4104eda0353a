// Package countdown drives the fixed-interval capture schedule and reports
// the seconds left to the presentation layer.
package countdown

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/screenguard/internal/event"
	"github.com/loykin/screenguard/internal/metrics"
)

// DefaultPeriod is the time between scheduled captures.
const DefaultPeriod = 30 * time.Second

// ErrAlreadyStarted is returned by Start on a running Scheduler.
var ErrAlreadyStarted = errors.New("countdown already started")

// Trigger starts a capture. It is called on its own goroutine and must not
// assume the previous trigger has returned. Stop waits for it, so long work
// belongs on a goroutine the trigger hands off to.
type Trigger func(ctx context.Context)

type Config struct {
	// Period between triggers (default 30s).
	Period time.Duration
	// Tick is the countdown resolution (default 1s).
	Tick    time.Duration
	Trigger Trigger
	Emitter event.Emitter
	Log     *slog.Logger
	// Context is handed to Trigger; Stop does not cancel it.
	Context context.Context
}

// Scheduler counts down from Period in Tick steps, emitting countdown-update
// after every step. On reaching zero it fires Trigger and starts over.
type Scheduler struct {
	cfg   Config
	steps int

	remaining atomic.Int64

	mu   sync.Mutex
	quit chan struct{}
	done chan struct{}

	triggers sync.WaitGroup
}

func New(cfg Config) *Scheduler {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	steps := int(cfg.Period / cfg.Tick)
	if steps < 1 {
		steps = 1
	}
	s := &Scheduler{cfg: cfg, steps: steps}
	s.remaining.Store(int64(steps))
	return s
}

// Period returns the number of ticks between triggers.
func (s *Scheduler) Period() int { return s.steps }

// Remaining returns the ticks left before the next trigger.
func (s *Scheduler) Remaining() int { return int(s.remaining.Load()) }

// Running reports whether the countdown loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quit != nil
}

// Start launches the countdown from the full period.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quit != nil {
		return ErrAlreadyStarted
	}
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.remaining.Store(int64(s.steps))
	metrics.SetCountdownRemaining(s.steps)
	go s.loop(s.quit, s.done)
	return nil
}

// Stop halts the countdown and waits for the loop and every trigger it fired
// to return. Calling Stop on a stopped Scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	quit, done := s.quit, s.done
	s.quit, s.done = nil, nil
	s.mu.Unlock()
	if quit == nil {
		return
	}
	close(quit)
	<-done
	s.triggers.Wait()
}

func (s *Scheduler) loop(quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(s.cfg.Tick)
	defer t.Stop()
	for {
		select {
		case <-quit:
			return
		case <-t.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	left := s.remaining.Add(-1)
	metrics.SetCountdownRemaining(int(left))
	if s.cfg.Emitter != nil {
		s.cfg.Emitter.Emit(event.CountdownUpdate(int(left)))
	}
	if left > 0 {
		return
	}
	s.remaining.Store(int64(s.steps))
	if s.cfg.Trigger != nil {
		s.cfg.Log.Debug("countdown elapsed, triggering capture")
		s.triggers.Add(1)
		go func() {
			defer s.triggers.Done()
			s.cfg.Trigger(s.cfg.Context)
		}()
	}
}
