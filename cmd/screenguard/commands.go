package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/screenguard"
	"github.com/loykin/screenguard/internal/cycle"
	"github.com/loykin/screenguard/internal/event/console"
	"github.com/loykin/screenguard/internal/tui"
)

type command struct {
	out    io.Writer
	errOut io.Writer
	// opts are appended to every session, for tests.
	opts []screenguard.Option
}

func newCommand(out, errOut io.Writer) *command {
	return &command{out: out, errOut: errOut}
}

func loadConfig(path string) (*screenguard.Config, error) {
	cfg, err := screenguard.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

func (c *command) logger(cfg *screenguard.Config, console io.Writer) (*slog.Logger, io.Closer, error) {
	log, closer, err := screenguard.NewLogger(cfg, console)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return log, closer, nil
}

// Run executes a full session until a signal arrives or the window closes.
func (c *command) Run(ctx context.Context, f RunFlags) error {
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	if f.TUI {
		cfg.TUI.Enabled = true
	}
	if f.Listen != "" {
		cfg.Server.Listen = f.Listen
	}
	if f.BasePath != "" {
		cfg.Server.BasePath = f.BasePath
	}
	if f.Metrics {
		cfg.Metrics.Enabled = true
	}

	if f.Daemonize {
		if cfg.TUI.Enabled {
			return errors.New("--daemonize cannot be combined with the terminal window")
		}
		return daemonize(f.PidFile, f.LogFile)
	}
	if f.PidFile != "" {
		if err := writePidFile(f.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(f.PidFile) }()
	}

	// the window owns the terminal; logs go to the file only
	consoleOut := c.errOut
	if cfg.TUI.Enabled {
		consoleOut = io.Discard
		cfg.Sinks.Console.Enabled = false
	}
	log, closer, err := c.logger(cfg, consoleOut)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	slog.SetDefault(log)

	if cfg.Metrics.Enabled {
		if err := screenguard.RegisterMetricsDefault(); err != nil {
			log.Warn("failed to register metrics", "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		sess   *screenguard.Session
		window *tui.Window
	)
	opts := append([]screenguard.Option{screenguard.WithLogger(log)}, c.opts...)
	if cfg.TUI.Enabled {
		window = tui.NewWindow(tui.Options{
			Trigger: func() bool { return sess != nil && sess.Trigger(ctx) },
			Recent:  cfg.TUI.Recent,
		})
		opts = append(opts, screenguard.WithSink("tui", window))
	}

	sess, err = screenguard.New(cfg, opts...)
	if err != nil {
		return err
	}

	windowErr := make(chan error, 1)
	if window != nil {
		go func() { windowErr <- window.Run(ctx) }()
	}

	if err := sess.Start(ctx); err != nil {
		_ = sess.Stop()
		if window != nil {
			_ = window.Close()
		}
		return err
	}

	var srv *http.Server
	if cfg.Server.Listen != "" {
		srv, err = screenguard.NewHTTPServer(cfg, sess)
		if err != nil {
			_ = sess.Stop()
			return err
		}
		log.Info("http api listening", "addr", srv.Addr, "base", cfg.Server.BasePath, "tls", cfg.Server.TLS.Enabled)
	}

	var runErr error
	if window != nil {
		select {
		case <-ctx.Done():
		case runErr = <-windowErr:
			log.Info("window closed, ending session")
		}
	} else {
		<-ctx.Done()
	}
	log.Info("shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}
	return errors.Join(runErr, sess.Stop())
}

// Provision creates the analyzer environment and reports what it found.
func (c *command) Provision(ctx context.Context, f ProvisionFlags) error {
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	log, closer, err := c.logger(cfg, c.errOut)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	sess, err := screenguard.New(cfg, append([]screenguard.Option{screenguard.WithLogger(log)}, c.opts...)...)
	if err != nil {
		return err
	}
	res, err := sess.Provision(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "analyzer environment %s: %s (%s)\n", res.State, res.EnvDir, res.Duration.Round(time.Millisecond))
	return nil
}

// Capture runs a single cycle with events printed as JSON lines.
func (c *command) Capture(ctx context.Context, f CaptureFlags) error {
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	if f.Display >= -1 {
		cfg.Capture.Display = f.Display
	}
	cfg.Sinks.Console.Enabled = false
	log, closer, err := c.logger(cfg, c.errOut)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []screenguard.Option{
		screenguard.WithLogger(log),
		screenguard.WithSink("stdout", console.NewJSONLines(c.out)),
	}
	sess, err := screenguard.New(cfg, append(opts, c.opts...)...)
	if err != nil {
		return err
	}
	rep, err := sess.Once(ctx)
	if err != nil {
		return err
	}
	if rep.Outcome.Failed() {
		return fmt.Errorf("capture failed: %s", rep.Outcome)
	}
	return nil
}

type pathsView struct {
	ScreenshotDir string `json:"screenshot_dir"`
	LogicDir      string `json:"logic_dir"`
	EnvDir        string `json:"env_dir"`
	Requirements  string `json:"requirements"`
	Interpreter   string `json:"interpreter"`
	Script        string `json:"script"`
	Prohibited    string `json:"prohibited"`
}

// Paths prints where screenshots go and where the analyzer is expected.
func (c *command) Paths(f PathsFlags) error {
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	sess, err := screenguard.New(cfg, append([]screenguard.Option{screenguard.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, c.opts...)...)
	if err != nil {
		return err
	}
	an := cycle.LayoutFor(cfg.LogicDir(), cfg.EnvDir())
	v := pathsView{
		ScreenshotDir: sess.ScreenshotDir(),
		LogicDir:      cfg.LogicDir(),
		EnvDir:        cfg.EnvDir(),
		Requirements:  cfg.Requirements(),
		Interpreter:   an.Interpreter,
		Script:        an.Script,
		Prohibited:    an.Prohibited,
	}
	if f.JSON {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, _ = fmt.Fprintf(c.out, "screenshots:  %s\n", v.ScreenshotDir)
	_, _ = fmt.Fprintf(c.out, "logic:        %s\n", v.LogicDir)
	_, _ = fmt.Fprintf(c.out, "environment:  %s\n", v.EnvDir)
	_, _ = fmt.Fprintf(c.out, "requirements: %s\n", v.Requirements)
	_, _ = fmt.Fprintf(c.out, "interpreter:  %s\n", v.Interpreter)
	_, _ = fmt.Fprintf(c.out, "script:       %s\n", v.Script)
	_, _ = fmt.Fprintf(c.out, "prohibited:   %s\n", v.Prohibited)
	return nil
}
