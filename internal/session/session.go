// Package session owns a running screenguard instance: the screenshot
// directory, the analyzer environment, the event sinks, the capture cycle and
// the countdown that drives it.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/screenguard/internal/capture"
	"github.com/loykin/screenguard/internal/config"
	"github.com/loykin/screenguard/internal/countdown"
	"github.com/loykin/screenguard/internal/cycle"
	"github.com/loykin/screenguard/internal/event"
	"github.com/loykin/screenguard/internal/event/console"
	"github.com/loykin/screenguard/internal/event/redis"
	"github.com/loykin/screenguard/internal/event/webhook"
	"github.com/loykin/screenguard/internal/history/factory"
	"github.com/loykin/screenguard/internal/metrics"
	"github.com/loykin/screenguard/internal/provision"
	"github.com/loykin/screenguard/internal/storage"
)

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrStopped        = errors.New("session stopped")
	ErrNotProvisioned = errors.New("analyzer environment not provisioned")
)

// Status is a point-in-time view of the session.
type Status struct {
	Running       bool         `json:"running"`
	Remaining     int          `json:"remaining"`
	Period        int          `json:"period"`
	InFlight      bool         `json:"in_flight"`
	Provisioned   bool         `json:"provisioned"`
	ScreenshotDir string       `json:"screenshot_dir"`
	LastEvent     *event.Event `json:"last_event,omitempty"`
}

type namedSink struct {
	name string
	sink event.Sink
}

type options struct {
	log      *slog.Logger
	capturer capture.Capturer
	runner   provision.Runner
	tick     time.Duration
	sinks    []namedSink
}

// Option customizes New.
type Option func(*options)

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.log = l } }

// WithCapturer replaces the screen capturer.
func WithCapturer(c capture.Capturer) Option { return func(o *options) { o.capturer = c } }

// WithProvisionRunner replaces the command runner used for provisioning.
func WithProvisionRunner(r provision.Runner) Option { return func(o *options) { o.runner = r } }

// WithTick sets the countdown resolution (default one second).
func WithTick(d time.Duration) Option { return func(o *options) { o.tick = d } }

// WithSink adds a sink that receives every event, countdown updates included.
func WithSink(name string, s event.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, namedSink{name, s}) }
}

// Session is one screenguard instance.
type Session struct {
	cfg  *config.Config
	log  *slog.Logger
	opts options

	dir        storage.Dir
	prov       *provision.Provisioner
	dispatcher *event.Dispatcher
	hub        *event.Hub
	runner     *cycle.Runner
	stderrLog  io.WriteCloser

	mu        sync.Mutex
	sched     *countdown.Scheduler
	sinksOpen bool
	starting  bool // provisioning outside mu
	started   bool
	stopped   bool
	runCtx    context.Context
	cancelRun context.CancelFunc
}

// New resolves the screenshot directory and wires the session. Nothing runs
// until Start or Once.
func New(cfg *config.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := options{tick: time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.capturer == nil {
		o.capturer = capture.NewScreen(cfg.Capture.Display)
	}

	var (
		dir storage.Dir
		err error
	)
	if d := cfg.StorageDir(); d != "" {
		dir, err = storage.EnsurePath(d)
	} else {
		dir, err = storage.UserDir(cfg.AppID)
	}
	if err != nil {
		return nil, err
	}

	an := cycle.LayoutFor(cfg.LogicDir(), cfg.EnvDir())
	an.Role = cfg.Analyzer.Role
	an.Model = cfg.Analyzer.Model
	an.ExtraArgs = cfg.Analyzer.Args
	an.Timeout = cfg.Analyzer.Timeout
	an.StderrAsError = cfg.Analyzer.StderrAsError
	if an.Env, err = cfg.AnalyzerEnv(); err != nil {
		return nil, err
	}

	s := &Session{cfg: cfg, log: o.log, opts: o, dir: dir}
	if p := cfg.StderrLogPath(); p != "" {
		lc := cfg.LoggerConfig().File
		s.stderrLog = lc.Writer(p)
		an.StderrLog = s.stderrLog
	}

	s.hub = event.NewHub()
	s.dispatcher = event.NewDispatcher(o.log)
	s.dispatcher.SetSendTimeout(cfg.Sinks.Timeout)
	s.runner = cycle.New(cycle.Config{
		Dir:            dir,
		Capturer:       o.capturer,
		Analyzer:       an,
		Emitter:        s.dispatcher,
		Log:            o.log,
		SampleInterval: cfg.Analyzer.SampleInterval,
	})
	s.prov = provision.New(provision.Config{
		EnvDir:       cfg.EnvDir(),
		Requirements: cfg.Requirements(),
		Python:       cfg.Analyzer.Python,
	}, o.runner, o.log)
	s.runCtx, s.cancelRun = context.WithCancel(context.Background())
	return s, nil
}

// ScreenshotDir is where screenshots are written.
func (s *Session) ScreenshotDir() string { return s.dir.String() }

// Provision ensures the analyzer environment exists. It runs at most once.
func (s *Session) Provision(ctx context.Context) (provision.Result, error) {
	res, err := s.prov.Ensure(ctx)
	result := "ok"
	if err != nil {
		result = "error"
	} else if res.State == provision.StateCreated {
		result = "created"
	}
	metrics.ObserveProvision(result, res.Duration.Seconds())
	if err != nil {
		return res, fmt.Errorf("provision analyzer environment: %w", err)
	}
	return res, nil
}

// Start provisions the analyzer environment, opens the sinks, starts the
// countdown and triggers the first cycle without waiting for it.
func (s *Session) Start(ctx context.Context) error {
	if err := s.claimAndProvision(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false
	if s.stopped {
		return ErrStopped
	}
	if err := s.openSinks(ctx); err != nil {
		return err
	}

	s.sched = countdown.New(countdown.Config{
		Period: s.cfg.Interval,
		Tick:   s.opts.tick,
		Trigger: func(ctx context.Context) {
			s.runner.Go(ctx, nil)
		},
		Emitter: s.dispatcher,
		Log:     s.log,
		Context: s.runCtx,
	})
	if err := s.sched.Start(); err != nil {
		return err
	}
	s.started = true
	s.log.Info("session started",
		"interval", s.cfg.Interval,
		"screenshots", s.dir.String(),
		"sinks", s.dispatcher.Len())
	s.runner.Go(s.runCtx, nil)
	return nil
}

// Once provisions, opens the sinks, runs exactly one cycle and closes the
// sinks again. It is the non-interactive counterpart of Start.
func (s *Session) Once(ctx context.Context) (cycle.Report, error) {
	if err := s.claimAndProvision(ctx); err != nil {
		return cycle.Report{}, err
	}
	s.mu.Lock()
	s.starting = false
	if s.stopped {
		s.mu.Unlock()
		return cycle.Report{}, ErrStopped
	}
	if err := s.openSinks(ctx); err != nil {
		s.mu.Unlock()
		return cycle.Report{}, err
	}
	s.started = true
	s.mu.Unlock()

	rep, err := s.runner.Exec(ctx)
	s.mu.Lock()
	s.started = false
	s.stopped = true
	s.mu.Unlock()
	s.cancelRun()
	return rep, errors.Join(err, s.closeSinks())
}

// claimAndProvision marks the session as starting and provisions without
// holding mu, so Status and Stop stay responsive during a long install.
// Stop cancels a provisioning run in progress.
func (s *Session) claimAndProvision(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.stopped:
		s.mu.Unlock()
		return ErrStopped
	case s.started || s.starting:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.starting = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.runCtx, cancel)
	defer stop()
	if _, err := s.Provision(ctx); err != nil {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
		return err
	}
	return nil
}

// Trigger starts a cycle in the background unless one is already running.
// The cycle runs under the session's lifetime; ctx only gates the start.
func (s *Session) Trigger(ctx context.Context) bool {
	if !s.prov.Done() || ctx.Err() != nil || s.runCtx.Err() != nil {
		return false
	}
	return s.runner.Go(s.runCtx, nil)
}

// Capture runs a cycle now and returns its report. It fails with
// cycle.ErrInFlight when a cycle is already running. The cycle is cancelled
// by ctx or by Stop, whichever comes first.
func (s *Session) Capture(ctx context.Context) (cycle.Report, error) {
	if !s.prov.Done() {
		return cycle.Report{}, ErrNotProvisioned
	}
	if s.runCtx.Err() != nil {
		return cycle.Report{}, ErrStopped
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.runCtx, cancel)
	defer stop()
	return s.runner.Exec(ctx)
}

// Subscribe streams every event emitted after the call.
func (s *Session) Subscribe(buffer int) (<-chan event.Event, func()) {
	return s.hub.Subscribe(buffer)
}

// Status reports the current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	sched, running := s.sched, s.started
	s.mu.Unlock()

	st := Status{
		Running:       running,
		InFlight:      s.runner.InFlight(),
		Provisioned:   s.prov.Done(),
		ScreenshotDir: s.dir.String(),
	}
	if sched != nil {
		st.Remaining = sched.Remaining()
		st.Period = sched.Period()
	}
	if e, ok := s.dispatcher.Last(); ok {
		st.LastEvent = &e
	}
	return st
}

// Stop halts the countdown, waits for a running cycle up to shutdown_timeout
// (then cancels it) and closes the sinks. It is safe to call more than once.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	sched := s.sched
	s.started = false
	s.stopped = true
	s.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}

	var errs []error
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	if err := s.runner.Wait(ctx); err != nil {
		s.log.Warn("cycle still running at shutdown, cancelling", "timeout", timeout)
		s.cancelRun()
		grace, cancelGrace := context.WithTimeout(context.Background(), 2*time.Second)
		if werr := s.runner.Wait(grace); werr != nil {
			errs = append(errs, fmt.Errorf("wait for cycle: %w", werr))
		}
		cancelGrace()
	}
	cancel()
	s.cancelRun()

	errs = append(errs, s.closeSinks())
	return errors.Join(errs...)
}

func (s *Session) closeSinks() error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var errs []error
	if err := s.dispatcher.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close sinks: %w", err))
	}
	if s.stderrLog != nil {
		if err := s.stderrLog.Close(); err != nil {
			errs = append(errs, err)
		}
		s.stderrLog = nil
	}
	return errors.Join(errs...)
}

// openSinks registers the configured sinks once. Remote sinks skip countdown
// updates unless their countdown option is set.
func (s *Session) openSinks(ctx context.Context) error {
	if s.sinksOpen {
		return nil
	}
	sc := s.cfg.Sinks
	queue := sc.Queue

	if sc.Console.Enabled {
		s.dispatcher.Add("console", console.New(s.log), queue)
	}
	if sc.Webhook.URL != "" {
		wh, err := webhook.New(webhook.Config{
			URL:     sc.Webhook.URL,
			Headers: sc.Webhook.Headers,
			Timeout: sc.Webhook.Timeout,
			Retries: sc.Webhook.Retries,
		})
		if err != nil {
			return fmt.Errorf("webhook sink: %w", err)
		}
		s.dispatcher.Add("webhook", remote(wh, sc.Webhook.Countdown), queue)
	}
	if sc.Redis.URL != "" {
		rs, err := redis.New(redis.Config{
			URL:     sc.Redis.URL,
			Channel: sc.Redis.Channel,
			Timeout: sc.Redis.Timeout,
			Retries: sc.Redis.Retries,
		})
		if err != nil {
			return fmt.Errorf("redis sink: %w", err)
		}
		s.dispatcher.Add("redis", remote(rs, sc.Redis.Countdown), queue)
	}
	if sc.History.DSN != "" {
		if err := ctx.Err(); err != nil {
			return err
		}
		hs, err := factory.NewSinkFromDSN(sc.History.DSN)
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		s.dispatcher.Add("history", remote(hs, sc.History.Countdown), queue)
	}
	s.dispatcher.Add("stream", s.hub, queue)
	for _, ns := range s.opts.sinks {
		s.dispatcher.Add(ns.name, ns.sink, queue)
	}
	s.sinksOpen = true
	return nil
}

func remote(sink event.Sink, countdown bool) event.Sink {
	if countdown {
		return sink
	}
	return event.SkipCountdown(sink)
}
