package cycle

import (
	"io"
	"path/filepath"
	"time"

	"github.com/loykin/screenguard/internal/env"
	"github.com/loykin/screenguard/internal/process"
)

// Defaults for the analyzer command line.
const (
	DefaultRole  = "developer"
	DefaultModel = "gemini"
)

// Analyzer describes how the external analysis program is invoked.
type Analyzer struct {
	// Interpreter runs Script, normally the environment's python.
	Interpreter string
	Script      string
	Prohibited  string
	Role        string
	Model       string
	// ExtraArgs are appended after the standard flags.
	ExtraArgs []string

	WorkDir string
	// Env is the full environment; empty inherits the parent's.
	Env []string
	// Timeout bounds one run; 0 waits for the analyzer indefinitely.
	Timeout time.Duration
	// StderrAsError reports every stderr chunk as a screenshot-error event.
	StderrAsError bool
	// StderrLog receives a copy of the analyzer's stderr when set.
	StderrLog io.Writer
}

// LayoutFor derives the analyzer paths from the logic directory and the
// environment directory: <env>/bin/python <logic>/src/main.py with the
// prohibited list at <logic>/src/data/prohibited.csv.
func LayoutFor(logicDir, envDir string) Analyzer {
	return Analyzer{
		Interpreter: env.Executable(envDir, "python"),
		Script:      filepath.Join(logicDir, "src", "main.py"),
		Prohibited:  filepath.Join(logicDir, "src", "data", "prohibited.csv"),
		Role:        DefaultRole,
		Model:       DefaultModel,
		WorkDir:     logicDir,
	}
}

// Args returns the argument vector for analyzing the screenshot at path.
func (a Analyzer) Args(path string) []string {
	role, model := a.Role, a.Model
	if role == "" {
		role = DefaultRole
	}
	if model == "" {
		model = DefaultModel
	}
	args := []string{a.Script, "--single", path, "--prohibited", a.Prohibited, "--role", role, "--model", model}
	return append(args, a.ExtraArgs...)
}

// Spec builds the process spec for one analysis of path.
func (a Analyzer) Spec(path string) process.Spec {
	return process.Spec{
		Name:    "analyzer",
		Path:    a.Interpreter,
		Args:    a.Args(path),
		WorkDir: a.WorkDir,
		Env:     a.Env,
		Stderr:  a.StderrLog,
	}
}
