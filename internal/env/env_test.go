package env

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func toMap(kvs []string) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		if k, v, ok := split(kv); ok {
			m[k] = v
		}
	}
	return m
}

func TestMergeOverridesBase(t *testing.T) {
	e := New()
	e.FromList([]string{"A=base", "B=keep"})
	e.SetList([]string{"A=override", "=broken", "noequals"})
	m := toMap(e.Merge())
	if m["A"] != "override" || m["B"] != "keep" {
		t.Fatalf("unexpected merge: %#v", m)
	}
	if _, ok := m[""]; ok {
		t.Fatalf("empty key leaked")
	}
}

func TestActivatePrependsBinDir(t *testing.T) {
	e := New()
	e.FromList([]string{"PATH=/usr/bin"})
	e.Activate("/opt/logic/venv")
	m := toMap(e.Merge())
	wantPrefix := BinDir("/opt/logic/venv") + string(os.PathListSeparator)
	if !strings.HasPrefix(m["PATH"], wantPrefix) || !strings.HasSuffix(m["PATH"], "/usr/bin") {
		t.Fatalf("PATH = %q", m["PATH"])
	}
	if m["VIRTUAL_ENV"] != "/opt/logic/venv" {
		t.Fatalf("VIRTUAL_ENV = %q", m["VIRTUAL_ENV"])
	}
}

func TestMergeIsSorted(t *testing.T) {
	e := New()
	e.FromList([]string{"Z=1", "A=2", "M=3"})
	out := e.Merge()
	for i := 1; i < len(out); i++ {
		if out[i-1] > out[i] {
			t.Fatalf("not sorted: %v", out)
		}
	}
}

func TestExecutable(t *testing.T) {
	got := Executable("/v", "python")
	want := filepath.Join("/v", "bin", "python")
	if runtime.GOOS == "windows" {
		want = filepath.Join("/v", "Scripts", "python.exe")
	}
	if got != want {
		t.Fatalf("Executable = %q, want %q", got, want)
	}
}
