package tui

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/loykin/screenguard/internal/event"
)

// Options configures a Window.
type Options struct {
	// Trigger starts a capture on demand; nil disables the capture key.
	Trigger func() bool
	Recent  int
	// In and Out default to the terminal.
	In  io.Reader
	Out io.Writer
}

// Window runs the terminal UI and receives session events as a Sink.
// Once the user quits, further events are dropped.
type Window struct {
	prog    *tea.Program
	started chan struct{}
	done    chan struct{}
	once    sync.Once
	closed  atomic.Bool
	quit    atomic.Bool
}

func NewWindow(opts Options) *Window {
	var popts []tea.ProgramOption
	if opts.In != nil {
		popts = append(popts, tea.WithInput(opts.In))
	}
	if opts.Out != nil {
		popts = append(popts, tea.WithOutput(opts.Out))
	}
	return &Window{
		prog:    tea.NewProgram(NewModel(opts.Trigger, opts.Recent), popts...),
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run blocks until the user quits, ctx ends or Close is called. Quitting by
// the user is reported through Done.
func (w *Window) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { w.prog.Kill() })
	defer stop()
	defer close(w.done)

	close(w.started)
	_, err := w.prog.Run()
	w.quit.Store(true)
	if errors.Is(err, tea.ErrProgramKilled) && (w.closed.Load() || ctx.Err() != nil) {
		return nil
	}
	return err
}

// Done is closed when Run returns.
func (w *Window) Done() <-chan struct{} { return w.done }

// Quit reports whether the window has stopped accepting events.
func (w *Window) Quit() bool { return w.quit.Load() }

// Send delivers e to the window. It waits for Run to start and returns nil
// without delivering once the window is gone.
func (w *Window) Send(ctx context.Context, e event.Event) error {
	if w.quit.Load() || w.closed.Load() {
		return nil
	}
	select {
	case <-w.started:
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	if w.quit.Load() {
		return nil
	}
	w.prog.Send(eventMsg{e})
	return nil
}

// Close stops the program and restores the terminal.
func (w *Window) Close() error {
	w.once.Do(func() {
		w.closed.Store(true)
		w.quit.Store(true)
		w.prog.Kill()
	})
	return nil
}
