package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// isoLayout mirrors an ISO-8601 UTC timestamp with millisecond precision.
const isoLayout = "2006-01-02T15:04:05.000Z"

// Dir is a resolved, existing screenshot directory.
type Dir string

// Resolve returns <home>/.cache/<appID>/screenshots without touching the filesystem.
func Resolve(home, appID string) string {
	return filepath.Join(home, ".cache", appID, "screenshots")
}

// Ensure resolves the screenshot directory for appID under home and creates
// the full directory chain when missing. Calling it again is a no-op.
func Ensure(home, appID string) (Dir, error) {
	if strings.TrimSpace(appID) == "" {
		return "", fmt.Errorf("app id required")
	}
	return EnsurePath(Resolve(home, appID))
}

// EnsurePath creates dir (and parents) when missing.
func EnsurePath(dir string) (Dir, error) {
	if dir == "" {
		return "", fmt.Errorf("screenshot directory required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create screenshot dir %s: %w", dir, err)
	}
	return Dir(dir), nil
}

// UserDir is Ensure against the current user's home directory.
func UserDir(appID string) (Dir, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return Ensure(home, appID)
}

// FileName returns screenshot-<timestamp>.png where the timestamp is ISO-8601
// in UTC with ':' and '.' replaced by '-', e.g. screenshot-2024-05-01T10-20-30-123Z.png.
func FileName(t time.Time) string {
	ts := t.UTC().Format(isoLayout)
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	return "screenshot-" + ts + ".png"
}

// PathFor joins the directory with the file name for t.
func (d Dir) PathFor(t time.Time) string {
	return filepath.Join(string(d), FileName(t))
}

func (d Dir) String() string { return string(d) }
