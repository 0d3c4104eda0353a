package env

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes the environment handed to the analyzer subprocess.
type Env struct {
	Var Var // configured variables (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := split(kv); ok {
			base[k] = v
		}
	}
	e.env = base
}

// FromList replaces the cached base with kvs instead of the OS environment.
func (e *Env) FromList(kvs []string) {
	base := make(Var)
	for _, kv := range kvs {
		if k, v, ok := split(kv); ok {
			base[k] = v
		}
	}
	e.env = base
}

// Set sets a variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// SetList applies "K=V" entries; malformed entries are ignored.
func (e *Env) SetList(kvs []string) {
	for _, kv := range kvs {
		if k, v, ok := split(kv); ok {
			e.Set(k, v)
		}
	}
}

// Activate makes envDir behave like an activated virtual environment:
// VIRTUAL_ENV points at it and its bin directory leads PATH.
func (e *Env) Activate(envDir string) {
	if envDir == "" {
		return
	}
	e.Set("VIRTUAL_ENV", envDir)
	e.Set("PATH", BinDir(envDir)+string(os.PathListSeparator)+"${PATH}")
}

// Merge composes the final environment list applying order:
// base = OS env (or cached), then e.Var overrides.
// ${VAR} references are expanded against the base first, then the composed map.
func (e *Env) Merge() []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Var))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = expand(expand(v, e.env), m)
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// BinDir returns the executables directory of a virtual environment.
func BinDir(envDir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(envDir, "Scripts")
	}
	return filepath.Join(envDir, "bin")
}

// Executable returns the path of name inside the environment's bin directory.
func Executable(envDir, name string) string {
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(BinDir(envDir), name)
}

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
