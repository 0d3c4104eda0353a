package session

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/screenguard/internal/capture"
	"github.com/loykin/screenguard/internal/config"
	"github.com/loykin/screenguard/internal/cycle"
	"github.com/loykin/screenguard/internal/event"
	"github.com/loykin/screenguard/internal/process"
	"github.com/loykin/screenguard/internal/provision"
)

const cleanAnalyzer = "#!/bin/sh\nprintf '{\"verdict\":\"clean\"}'\n"

var placeholder = capture.Func(func(_ context.Context, path string) error {
	return os.WriteFile(path, []byte("png"), 0o600)
})

// writeInterpreter installs a fake environment interpreter at <env>/bin/python.
func writeInterpreter(t *testing.T, envDir, script string) {
	t.Helper()
	bin := filepath.Join(envDir, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(bin, "python"), []byte(script), 0o700))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake analyzer uses /bin/sh")
	}
	root := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Dir = filepath.Join(root, "shots")
	cfg.Analyzer.Dir = filepath.Join(root, "logic")
	cfg.Interval = time.Hour
	cfg.ShutdownTimeout = 5 * time.Second
	cfg.Sinks.Console.Enabled = false
	return cfg
}

func hasType(typ event.Type) func([]event.Event) bool {
	return func(evs []event.Event) bool {
		for _, e := range evs {
			if e.Type == typ {
				return true
			}
		}
		return false
	}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStartRunsImmediateCycle(t *testing.T) {
	cfg := testConfig(t)
	writeInterpreter(t, cfg.EnvDir(), cleanAnalyzer)
	rec := event.NewRecorder()

	s, err := New(cfg, WithCapturer(placeholder), WithSink("recorder", rec))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop() }()

	require.True(t, rec.WaitFor(waitCtx(t), hasType(event.TypeScreenshotAnalysis)), "no analysis event")

	evs := rec.Events()
	var taken event.Event
	for _, e := range evs {
		if e.Type == event.TypeScreenshotTaken {
			taken = e
		}
	}
	assert.Equal(t, cfg.Storage.Dir, filepath.Dir(taken.Path))
	assert.FileExists(t, taken.Path)

	st := s.Status()
	assert.True(t, st.Running)
	assert.True(t, st.Provisioned)
	assert.Equal(t, cfg.Storage.Dir, st.ScreenshotDir)
	assert.Equal(t, 3600, st.Period)
	require.NotNil(t, st.LastEvent)

	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
}

func TestCountdownDrivesCycles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Interval = 50 * time.Millisecond
	writeInterpreter(t, cfg.EnvDir(), cleanAnalyzer)
	rec := event.NewRecorder()

	s, err := New(cfg, WithCapturer(placeholder), WithSink("recorder", rec), WithTick(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	twoCycles := func(evs []event.Event) bool {
		n := 0
		for _, e := range evs {
			if e.Type == event.TypeScreenshotAnalysis {
				n++
			}
		}
		return n >= 2
	}
	require.True(t, rec.WaitFor(waitCtx(t), twoCycles), "countdown never re-triggered a cycle")
	require.NoError(t, s.Stop())
	assert.True(t, hasType(event.TypeCountdownUpdate)(rec.Events()))
}

func TestStartProvisionFailureIsFatal(t *testing.T) {
	cfg := testConfig(t)
	runner := provisionRunner(func(spec process.Spec) process.Result {
		return process.Result{ExitCode: 1, Stderr: []byte("No module named venv")}
	})
	rec := event.NewRecorder()
	s, err := New(cfg, WithCapturer(placeholder), WithProvisionRunner(runner), WithSink("recorder", rec))
	require.NoError(t, err)

	err = s.Start(context.Background())
	var perr *provision.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, provision.StepCreateEnv, perr.Step)
	assert.False(t, s.Status().Running)
	assert.False(t, s.Trigger(context.Background()))
	require.NoError(t, s.Stop())
	assert.Empty(t, rec.Events(), "no cycle may run after provisioning failed")
}

func TestStartProvisionsMissingEnvironment(t *testing.T) {
	cfg := testConfig(t)
	var mu sync.Mutex
	var steps []string
	runner := provisionRunner(func(spec process.Spec) process.Result {
		mu.Lock()
		steps = append(steps, spec.Name)
		mu.Unlock()
		if spec.Name == string(provision.StepCreateEnv) {
			writeInterpreter(t, cfg.EnvDir(), cleanAnalyzer)
		}
		return process.Result{}
	})
	rec := event.NewRecorder()
	s, err := New(cfg, WithCapturer(placeholder), WithProvisionRunner(runner), WithSink("recorder", rec))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop() }()

	require.True(t, rec.WaitFor(waitCtx(t), hasType(event.TypeScreenshotAnalysis)))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{string(provision.StepCreateEnv), string(provision.StepInstall)}, steps)
}

func TestOnce(t *testing.T) {
	cfg := testConfig(t)
	writeInterpreter(t, cfg.EnvDir(), cleanAnalyzer)
	rec := event.NewRecorder()
	s, err := New(cfg, WithCapturer(placeholder), WithSink("recorder", rec))
	require.NoError(t, err)

	rep, err := s.Once(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cycle.OutcomeAnalyzed, rep.Outcome)
	// Once closes the sinks, so everything has been delivered
	assert.Equal(t, []event.Type{event.TypeScreenshotTaken, event.TypeScreenshotAnalysis}, rec.Types())

	assert.ErrorIs(t, s.Start(context.Background()), ErrStopped)
	_, err = s.Capture(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestOnceReportsFailedCycle(t *testing.T) {
	cfg := testConfig(t)
	writeInterpreter(t, cfg.EnvDir(), "#!/bin/sh\necho boom >&2\nexit 3\n")
	rec := event.NewRecorder()
	s, err := New(cfg, WithCapturer(placeholder), WithSink("recorder", rec))
	require.NoError(t, err)

	rep, err := s.Once(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cycle.OutcomeExitNonZero, rep.Outcome)
	assert.Equal(t, 3, rep.ExitCode)
	assert.True(t, hasType(event.TypeScreenshotError)(rec.Events()))
}

func TestCaptureRequiresProvisioning(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg, WithCapturer(placeholder))
	require.NoError(t, err)
	_, err = s.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNotProvisioned)
	assert.False(t, s.Trigger(context.Background()))
}

func TestCaptureConflictsWithRunningCycle(t *testing.T) {
	cfg := testConfig(t)
	writeInterpreter(t, cfg.EnvDir(), "#!/bin/sh\nsleep 0.5\nprintf '{}'\n")
	s, err := New(cfg, WithCapturer(placeholder))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop() }()

	// the immediate cycle holds the guard
	_, err = s.Capture(context.Background())
	assert.ErrorIs(t, err, cycle.ErrInFlight)
	assert.False(t, s.Trigger(context.Background()))
	assert.True(t, s.Status().InFlight)
}

func TestStopWaitsForCycleAndIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	writeInterpreter(t, cfg.EnvDir(), "#!/bin/sh\nsleep 0.3\nprintf '{\"verdict\":\"clean\"}'\n")
	rec := event.NewRecorder()
	s, err := New(cfg, WithCapturer(placeholder), WithSink("recorder", rec))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	require.True(t, rec.WaitFor(waitCtx(t), hasType(event.TypeScreenshotTaken)))

	require.NoError(t, s.Stop())
	assert.True(t, hasType(event.TypeScreenshotAnalysis)(rec.Events()), "in-flight cycle should finish before sinks close")
	require.NoError(t, s.Stop())
	assert.False(t, s.Status().Running)
}

func TestRemoteSinkSkipsCountdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Interval = time.Second
	writeInterpreter(t, cfg.EnvDir(), cleanAnalyzer)

	var mu sync.Mutex
	var got []event.Type
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e event.Event
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &e); err == nil {
			mu.Lock()
			got = append(got, e.Type)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()
	cfg.Sinks.Webhook.URL = ts.URL

	rec := event.NewRecorder()
	s, err := New(cfg, WithCapturer(placeholder), WithSink("recorder", rec), WithTick(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	require.True(t, rec.WaitFor(waitCtx(t), func(evs []event.Event) bool {
		return hasType(event.TypeScreenshotAnalysis)(evs) && hasType(event.TypeCountdownUpdate)(evs)
	}))
	require.NoError(t, s.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, got, event.TypeScreenshotTaken)
	assert.Contains(t, got, event.TypeScreenshotAnalysis)
	assert.NotContains(t, got, event.TypeCountdownUpdate)
}

func TestSubscribeStreamsEvents(t *testing.T) {
	cfg := testConfig(t)
	writeInterpreter(t, cfg.EnvDir(), cleanAnalyzer)
	s, err := New(cfg, WithCapturer(placeholder))
	require.NoError(t, err)
	ch, cancel := s.Subscribe(16)
	defer cancel()

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop() }()

	ctx := waitCtx(t)
	for {
		select {
		case e := <-ch:
			if e.Type == event.TypeScreenshotAnalysis {
				assert.JSONEq(t, `{"verdict":"clean"}`, string(e.Analysis))
				return
			}
		case <-ctx.Done():
			t.Fatal("analysis never streamed")
		}
	}
}

func TestNewFailsOnUnusableStorage(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	cfg.Storage.Dir = filepath.Join(blocker, "shots")
	_, err := New(cfg)
	require.Error(t, err)
}

type provisionRunner func(spec process.Spec) process.Result

func (f provisionRunner) Run(_ context.Context, spec process.Spec) (process.Result, error) {
	return f(spec), nil
}


// blockingRunner holds provisioning until its context ends.
type blockingRunner struct{ entered chan struct{} }

func (b blockingRunner) Run(ctx context.Context, _ process.Spec) (process.Result, error) {
	close(b.entered)
	<-ctx.Done()
	return process.Result{}, ctx.Err()
}

func TestStatusAndStopStayResponsiveWhileProvisioning(t *testing.T) {
	cfg := testConfig(t)
	runner := blockingRunner{entered: make(chan struct{})}
	s, err := New(cfg, WithCapturer(placeholder), WithProvisionRunner(runner))
	require.NoError(t, err)

	started := make(chan error, 1)
	go func() { started <- s.Start(context.Background()) }()
	select {
	case <-runner.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("provisioning never began")
	}

	statusDone := make(chan Status, 1)
	go func() { statusDone <- s.Status() }()
	select {
	case st := <-statusDone:
		assert.False(t, st.Running)
		assert.False(t, st.Provisioned)
	case <-time.After(time.Second):
		t.Fatal("Status blocked behind provisioning")
	}
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, s.Stop())
	select {
	case err := <-started:
		require.Error(t, err, "Start must fail once Stop cancels provisioning")
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	assert.False(t, s.Status().Running)
}

func TestStopWaitsForCountdownCycles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Interval = 50 * time.Millisecond
	writeInterpreter(t, cfg.EnvDir(), "#!/bin/sh\nsleep 0.2\nprintf '{\"verdict\":\"clean\"}'\n")
	rec := event.NewRecorder()
	s, err := New(cfg, WithCapturer(placeholder), WithSink("recorder", rec), WithTick(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	count := func(evs []event.Event, typ event.Type) int {
		n := 0
		for _, e := range evs {
			if e.Type == typ {
				n++
			}
		}
		return n
	}
	// the second cycle can only come from the countdown
	require.True(t, rec.WaitFor(waitCtx(t), func(evs []event.Event) bool {
		return count(evs, event.TypeScreenshotTaken) >= 2
	}))
	require.NoError(t, s.Stop())

	evs := rec.Events()
	assert.Equal(t, count(evs, event.TypeScreenshotTaken), count(evs, event.TypeScreenshotAnalysis),
		"every started cycle finishes before the sinks close")
	assert.False(t, s.Status().InFlight)
}
