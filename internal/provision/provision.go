// Package provision creates the analyzer's interpreter environment on first run.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/screenguard/internal/env"
	"github.com/loykin/screenguard/internal/process"
)

// State reports what Ensure found.
type State string

const (
	StateExisting State = "existing"
	StateCreated  State = "created"
)

// Step names a provisioning stage.
type Step string

const (
	StepCreateEnv Step = "create-env"
	StepInstall   Step = "install-deps"
)

// Result summarizes a completed Ensure.
type Result struct {
	State    State
	EnvDir   string
	Duration time.Duration
}

// Error is returned when a provisioning step fails. Output carries whatever
// the failing command wrote, for diagnostics.
type Error struct {
	Step   Step
	Err    error
	Output string
}

func (e *Error) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("provision %s: %v: %s", e.Step, e.Err, e.Output)
	}
	return fmt.Sprintf("provision %s: %v", e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Runner executes one command to completion.
type Runner interface {
	Run(ctx context.Context, spec process.Spec) (process.Result, error)
}

// ProcessRunner runs commands through internal/process.
type ProcessRunner struct{}

func (ProcessRunner) Run(ctx context.Context, spec process.Spec) (process.Result, error) {
	return process.Run(ctx, spec, process.Hooks{})
}

// Config locates the environment and its dependency manifest.
type Config struct {
	EnvDir       string
	Requirements string
	// Python is the bootstrap interpreter; empty selects DefaultPython().
	Python string
}

// DefaultPython is the interpreter used to create the environment.
func DefaultPython() string {
	if runtime.GOOS == "windows" {
		return "python"
	}
	return "python3"
}

// Provisioner creates the environment at most once per process.
type Provisioner struct {
	cfg    Config
	runner Runner
	log    *slog.Logger

	once sync.Once
	res  Result
	err  error
	done atomic.Bool
}

// New returns a Provisioner. A nil runner selects ProcessRunner.
func New(cfg Config, runner Runner, log *slog.Logger) *Provisioner {
	if runner == nil {
		runner = ProcessRunner{}
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.Python == "" {
		cfg.Python = DefaultPython()
	}
	return &Provisioner{cfg: cfg, runner: runner, log: log}
}

// Ensure makes sure the environment exists. When the directory is already
// present no command is run. Later calls return the first outcome.
func (p *Provisioner) Ensure(ctx context.Context) (Result, error) {
	p.once.Do(func() {
		p.res, p.err = p.ensure(ctx)
		p.done.Store(p.err == nil)
	})
	return p.res, p.err
}

// Done reports whether Ensure completed successfully.
func (p *Provisioner) Done() bool {
	return p.done.Load()
}

func (p *Provisioner) ensure(ctx context.Context) (Result, error) {
	start := time.Now()
	res := Result{EnvDir: p.cfg.EnvDir}
	if p.cfg.EnvDir == "" {
		return res, &Error{Step: StepCreateEnv, Err: fmt.Errorf("environment directory required")}
	}
	if _, err := os.Stat(p.cfg.EnvDir); err == nil {
		res.State = StateExisting
		res.Duration = time.Since(start)
		p.log.Debug("analyzer environment present", "dir", p.cfg.EnvDir)
		return res, nil
	}

	p.log.Info("creating analyzer environment", "dir", p.cfg.EnvDir)
	pyPath, pyArgs := process.SplitCommand(p.cfg.Python)
	create := process.Spec{
		Name: string(StepCreateEnv),
		Path: pyPath,
		Args: append(pyArgs, "-m", "venv", p.cfg.EnvDir),
	}
	if err := p.step(ctx, StepCreateEnv, create); err != nil {
		return res, err
	}

	p.log.Info("installing analyzer dependencies", "requirements", p.cfg.Requirements)
	install := process.Spec{
		Name: string(StepInstall),
		Path: env.Executable(p.cfg.EnvDir, "pip"),
		Args: []string{"install", "-r", p.cfg.Requirements},
	}
	if err := p.step(ctx, StepInstall, install); err != nil {
		return res, err
	}

	res.State = StateCreated
	res.Duration = time.Since(start)
	p.log.Info("analyzer environment ready", "dir", p.cfg.EnvDir, "duration", res.Duration)
	return res, nil
}

func (p *Provisioner) step(ctx context.Context, step Step, spec process.Spec) error {
	out, err := p.runner.Run(ctx, spec)
	if err != nil {
		return &Error{Step: step, Err: err, Output: string(out.Stderr)}
	}
	if out.ExitCode != 0 {
		return &Error{
			Step:   step,
			Err:    fmt.Errorf("%s exited with code %d", spec.String(), out.ExitCode),
			Output: string(out.Stderr),
		}
	}
	return nil
}
