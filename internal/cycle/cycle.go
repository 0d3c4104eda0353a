// Package cycle runs one capture-and-analyze round trip.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/screenguard/internal/analysis"
	"github.com/loykin/screenguard/internal/capture"
	"github.com/loykin/screenguard/internal/event"
	"github.com/loykin/screenguard/internal/metrics"
	"github.com/loykin/screenguard/internal/process"
	"github.com/loykin/screenguard/internal/storage"
)

// ErrInFlight is returned when a cycle is requested while another one runs.
var ErrInFlight = errors.New("capture cycle already in flight")

// Outcome classifies how a cycle ended.
type Outcome string

const (
	OutcomeCaptureFailed Outcome = "capture-failed"
	OutcomeLaunchFailed  Outcome = "launch-failed"
	OutcomeTimedOut      Outcome = "timed-out"
	OutcomeExitNonZero   Outcome = "exit-nonzero"
	OutcomeMalformed     Outcome = "malformed"
	OutcomeInvalid       Outcome = "invalid"
	OutcomeAnalyzed      Outcome = "analyzed"
)

// Failed reports whether the outcome produced no forwarded analysis.
func (o Outcome) Failed() bool {
	return o != OutcomeAnalyzed && o != OutcomeInvalid
}

// Artifact is a screenshot written by a cycle. It is never modified or removed.
type Artifact struct {
	Path       string    `json:"path"`
	CapturedAt time.Time `json:"captured_at"`
}

// Report summarizes one cycle.
type Report struct {
	CycleID  string        `json:"cycle_id"`
	Artifact Artifact      `json:"artifact"`
	Outcome  Outcome       `json:"outcome"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	// Err is the failure cause for failed outcomes.
	Err error `json:"-"`
}

// Config wires a Runner.
type Config struct {
	Dir      storage.Dir
	Capturer capture.Capturer
	Analyzer Analyzer
	Emitter  event.Emitter
	Log      *slog.Logger
	// SampleInterval enables analyzer resource sampling when > 0.
	SampleInterval time.Duration
	// Now is the clock used for screenshot names; nil uses time.Now.
	Now func() time.Time
}

// Runner executes cycles and enforces that at most one is in flight via TryRun.
type Runner struct {
	cfg Config
	log *slog.Logger

	inFlight atomic.Bool
	active   atomic.Int32
}

func New(cfg Config) *Runner {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Emitter == nil {
		cfg.Emitter = event.NewRecorder()
	}
	return &Runner{cfg: cfg, log: cfg.Log}
}

// InFlight reports whether a cycle started by TryRun is running.
func (r *Runner) InFlight() bool { return r.inFlight.Load() }

// TryRun runs a cycle unless one is already in flight, in which case it
// returns false immediately.
func (r *Runner) TryRun(ctx context.Context) (Report, bool) {
	if !r.acquire() {
		return Report{}, false
	}
	defer r.release()
	return r.Run(ctx), true
}

// Go starts a cycle in the background unless one is in flight. done, when
// not nil, receives the report.
func (r *Runner) Go(ctx context.Context, done func(Report)) bool {
	if !r.acquire() {
		return false
	}
	go func() {
		rep := r.Run(ctx)
		r.release()
		if done != nil {
			done(rep)
		}
	}()
	return true
}

// acquire claims the in-flight slot. active is raised before the caller
// returns so Wait covers a cycle from the moment it is claimed.
func (r *Runner) acquire() bool {
	if r.inFlight.CompareAndSwap(false, true) {
		r.active.Add(1)
		return true
	}
	metrics.IncCycleSkipped()
	r.log.Info("capture skipped, previous cycle still running")
	return false
}

func (r *Runner) release() {
	r.inFlight.Store(false)
	r.active.Add(-1)
}

// Exec is TryRun returning ErrInFlight instead of a flag.
func (r *Runner) Exec(ctx context.Context) (Report, error) {
	rep, ok := r.TryRun(ctx)
	if !ok {
		return Report{}, ErrInFlight
	}
	return rep, nil
}

// Wait blocks until no cycle is running or ctx ends.
func (r *Runner) Wait(ctx context.Context) error {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for r.active.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// Run performs one cycle: capture, notify, analyze, forward. Every failure
// is reported as a screenshot-error event and in the returned Report.
func (r *Runner) Run(ctx context.Context) (rep Report) {
	r.active.Add(1)
	defer r.active.Add(-1)

	started := r.cfg.Now()
	rep.CycleID = uuid.NewString()
	log := r.log.With("cycle", rep.CycleID)
	defer func() {
		rep.Duration = time.Since(started)
		metrics.ObserveCycle(string(rep.Outcome), rep.Duration.Seconds())
		log.Debug("cycle finished", "outcome", rep.Outcome, "duration", rep.Duration)
	}()

	path := r.cfg.Dir.PathFor(started)
	if err := r.cfg.Capturer.Capture(ctx, path); err != nil {
		log.Error("screenshot failed", "error", err)
		r.fail(&rep, OutcomeCaptureFailed, err)
		return rep
	}
	rep.Artifact = Artifact{Path: path, CapturedAt: started.UTC()}
	r.cfg.Emitter.Emit(event.ScreenshotTaken(rep.CycleID, path))

	r.analyze(ctx, log, &rep)
	return rep
}

func (r *Runner) analyze(ctx context.Context, log *slog.Logger, rep *Report) {
	a := r.cfg.Analyzer
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	hooks := process.Hooks{
		OnStderr: func(chunk []byte) {
			text := string(chunk)
			log.Warn("analyzer stderr", "text", text)
			if a.StderrAsError {
				r.cfg.Emitter.Emit(event.ScreenshotError(rep.CycleID, text))
			}
		},
	}
	if r.cfg.SampleInterval > 0 {
		sampler := metrics.NewSampler(r.cfg.SampleInterval)
		hooks.OnStart = sampler.Start
		defer func() {
			u := sampler.Stop()
			log.Debug("analyzer usage", "peak_rss", u.PeakRSS, "cpu_percent", u.CPUPercent)
		}()
	}

	spec := a.Spec(rep.Artifact.Path)
	log.Debug("launching analyzer", "cmd", spec.String())
	res, err := process.Run(ctx, spec, hooks)
	rep.ExitCode = res.ExitCode
	if err != nil {
		var startErr *process.StartError
		switch {
		case errors.As(err, &startErr):
			log.Error("analyzer launch failed", "error", err)
			r.fail(rep, OutcomeLaunchFailed, err)
		case errors.Is(err, context.DeadlineExceeded) && a.Timeout > 0:
			err = fmt.Errorf("analyzer timed out after %s", a.Timeout)
			log.Error("analyzer timed out", "timeout", a.Timeout)
			r.fail(rep, OutcomeTimedOut, err)
		default:
			log.Error("analyzer failed", "error", err)
			r.fail(rep, OutcomeLaunchFailed, err)
		}
		return
	}

	if res.ExitCode != 0 {
		err := fmt.Errorf("analyzer exited with code %d", res.ExitCode)
		log.Error("analyzer exited with non-zero status", "code", res.ExitCode)
		r.fail(rep, OutcomeExitNonZero, err)
		return
	}

	parsed := analysis.Parse(res.Stdout)
	switch parsed.Kind {
	case analysis.KindMalformed:
		log.Error("error parsing analyzer output", "error", parsed.Err)
		rep.Outcome = OutcomeMalformed
		rep.Err = parsed.Err
		r.cfg.Emitter.Emit(event.ScreenshotError(rep.CycleID, analysis.InvalidResponseMessage))
	case analysis.KindInvalid:
		log.Warn("analyzer returned a non-object document", "document", string(parsed.Document))
		rep.Outcome = OutcomeInvalid
		r.cfg.Emitter.Emit(event.ScreenshotAnalysis(rep.CycleID, rep.Artifact.Path, parsed.Document))
	default:
		verdict, _ := parsed.Verdict()
		log.Info("screenshot analyzed", "path", rep.Artifact.Path, "verdict", verdict)
		rep.Outcome = OutcomeAnalyzed
		r.cfg.Emitter.Emit(event.ScreenshotAnalysis(rep.CycleID, rep.Artifact.Path, parsed.Document))
	}
}

func (r *Runner) fail(rep *Report, o Outcome, err error) {
	rep.Outcome = o
	rep.Err = err
	r.cfg.Emitter.Emit(event.ScreenshotError(rep.CycleID, err.Error()))
}
