package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// stderrChunk bounds a single stderr read delivered to OnStderr.
const stderrChunk = 4096

// Result is the outcome of a command that was started successfully.
// A non-zero ExitCode is not an error at this layer.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	PID      int
	Duration time.Duration
}

// Hooks are invoked while the command runs.
type Hooks struct {
	// OnStart is called once the process has been started.
	OnStart func(pid int)
	// OnStderr is called for every chunk read from stderr, in order.
	OnStderr func(chunk []byte)
}

// StartError reports that the command could not be launched at all.
type StartError struct {
	Spec string
	Err  error
}

func (e *StartError) Error() string { return fmt.Sprintf("start %s: %v", e.Spec, e.Err) }
func (e *StartError) Unwrap() error { return e.Err }

// Run starts spec and waits for it to exit. Stdout is buffered in full;
// stderr is both buffered and streamed through hooks.OnStderr.
// The returned error is non-nil only when the command could not be started,
// its output could not be collected, or ctx ended before it exited.
func Run(ctx context.Context, spec Spec, hooks Hooks) (Result, error) {
	cmd := spec.BuildCommand(ctx)
	var (
		outBuf bytes.Buffer
		errBuf bytes.Buffer
	)
	cmd.Stdout = &outBuf
	cmd.Stderr = &stderrWriter{buf: &errBuf, tee: spec.Stderr, onChunk: hooks.OnStderr}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, &StartError{Spec: spec.String(), Err: err}
	}
	res := Result{PID: cmd.Process.Pid}
	if hooks.OnStart != nil {
		hooks.OnStart(res.PID)
	}

	// Wait copies both streams until they close; WaitDelay caps that when a
	// grandchild inherited them and outlives the command
	waitErr := cmd.Wait()

	res.Duration = time.Since(started)
	res.Stdout = outBuf.Bytes()
	res.Stderr = errBuf.Bytes()
	res.ExitCode = -1
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s: %w", spec.Name, ctxErr)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(waitErr, &exitErr):
		case errors.Is(waitErr, exec.ErrWaitDelay):
			// exited cleanly; output written after WaitDelay is lost
		default:
			return res, fmt.Errorf("wait %s: %w", spec.Name, waitErr)
		}
	}
	return res, nil
}

// stderrWriter buffers stderr and forwards it in chunks of at most
// stderrChunk bytes. exec.Cmd calls Write from a single goroutine.
type stderrWriter struct {
	buf     *bytes.Buffer
	tee     io.Writer
	onChunk func([]byte)
}

func (w *stderrWriter) Write(p []byte) (int, error) {
	for rest := p; len(rest) > 0; {
		n := min(len(rest), stderrChunk)
		data := append([]byte(nil), rest[:n]...)
		rest = rest[n:]
		w.buf.Write(data)
		if w.tee != nil {
			_, _ = w.tee.Write(data)
		}
		if w.onChunk != nil {
			w.onChunk(data)
		}
	}
	return len(p), nil
}
