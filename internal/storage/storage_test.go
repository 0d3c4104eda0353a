package storage

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"
)

func TestResolveLayout(t *testing.T) {
	got := Resolve("/home/u", "screenguard")
	want := filepath.Join("/home/u", ".cache", "screenguard", "screenshots")
	if got != want {
		t.Fatalf("Resolve = %q, want %q", got, want)
	}
}

func TestEnsureCreatesChainAndIsIdempotent(t *testing.T) {
	home := t.TempDir()
	d1, err := Ensure(home, "app")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	fi, err := os.Stat(string(d1))
	if err != nil || !fi.IsDir() {
		t.Fatalf("expected directory at %s: %v", d1, err)
	}
	d2, err := Ensure(home, "app")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("ensure not stable: %s vs %s", d1, d2)
	}
}

func TestEnsureRejectsEmptyAppID(t *testing.T) {
	if _, err := Ensure(t.TempDir(), "  "); err == nil {
		t.Fatalf("expected error for empty app id")
	}
}

func TestEnsureFailsWhenParentIsFile(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, ".cache"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Ensure(home, "app"); err == nil {
		t.Fatalf("expected error when .cache is a regular file")
	}
}

func TestFileName(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 20, 30, 123_000_000, time.UTC)
	if got := FileName(ts); got != "screenshot-2024-05-01T10-20-30-123Z.png" {
		t.Fatalf("FileName = %q", got)
	}
	// non-UTC input is normalised
	loc := time.FixedZone("x", 2*3600)
	if got := FileName(ts.In(loc)); got != "screenshot-2024-05-01T10-20-30-123Z.png" {
		t.Fatalf("FileName(local) = %q", got)
	}
	re := regexp.MustCompile(`^screenshot-\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}-\d{3}Z\.png$`)
	if !re.MatchString(FileName(time.Now())) {
		t.Fatalf("unexpected format: %s", FileName(time.Now()))
	}
}

func TestPathFor(t *testing.T) {
	d := Dir("/tmp/shots")
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := d.PathFor(ts); got != filepath.Join("/tmp/shots", "screenshot-2024-01-02T03-04-05-000Z.png") {
		t.Fatalf("PathFor = %q", got)
	}
}
