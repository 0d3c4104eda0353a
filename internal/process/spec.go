package process

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"time"
)

// WaitDelay bounds how long Run keeps reading output after the command has
// exited or been killed.
const WaitDelay = 2 * time.Second

// Spec describes a one-shot command run to completion.
type Spec struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`     // executable
	Args    []string `json:"args"`     // positional arguments, passed verbatim
	WorkDir string   `json:"work_dir"` // optional working dir
	Env     []string `json:"env"`      // full environment; empty inherits the parent's

	// Stderr, when set, receives a copy of everything the command writes to stderr.
	Stderr io.Writer `json:"-"`
}

// BuildCommand constructs an *exec.Cmd for the spec bound to ctx.
// Arguments are never passed through a shell.
func (s *Spec) BuildCommand(ctx context.Context) *exec.Cmd {
	// #nosec G204 -- executable and arguments come from operator configuration
	cmd := exec.CommandContext(ctx, s.Path, s.Args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if len(s.Env) > 0 {
		cmd.Env = s.Env
	}
	cmd.WaitDelay = WaitDelay
	configureSysProcAttr(cmd)
	return cmd
}

// String renders the command line for logs.
func (s *Spec) String() string {
	parts := append([]string{s.Path}, s.Args...)
	return strings.Join(parts, " ")
}

// SplitCommand splits a configured command string such as "python3" or
// "py -3" into executable and leading arguments. Quoting is not interpreted.
func SplitCommand(cmdStr string) (string, []string) {
	parts := strings.Fields(strings.TrimSpace(cmdStr))
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
