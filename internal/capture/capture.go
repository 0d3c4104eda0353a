// Package capture writes the current screen contents to a PNG file.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/kbinani/screenshot"
)

// ErrNoDisplay is returned when no active display can be captured.
var ErrNoDisplay = errors.New("no active displays found")

// Capturer writes a screenshot to path.
type Capturer interface {
	Capture(ctx context.Context, path string) error
}

// Func adapts a plain function to Capturer.
type Func func(ctx context.Context, path string) error

func (f Func) Capture(ctx context.Context, path string) error { return f(ctx, path) }

// Screen captures a display through the platform screenshot API.
type Screen struct {
	// Display selects the display index; -1 captures the union of all displays.
	Display int

	// grab is swapped out in tests.
	grab func(image.Rectangle) (*image.RGBA, error)
	// count and bounds are swapped out in tests.
	count  func() int
	bounds func(int) image.Rectangle
}

// NewScreen returns a Screen capturing the given display index.
func NewScreen(display int) *Screen {
	return &Screen{
		Display: display,
		grab:    screenshot.CaptureRect,
		count:   screenshot.NumActiveDisplays,
		bounds:  screenshot.GetDisplayBounds,
	}
}

// Capture grabs the configured display and encodes it as PNG at path.
func (s *Screen) Capture(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n := s.count()
	if n <= 0 {
		return ErrNoDisplay
	}
	var rect image.Rectangle
	switch {
	case s.Display < 0:
		for i := 0; i < n; i++ {
			rect = rect.Union(s.bounds(i))
		}
	case s.Display < n:
		rect = s.bounds(s.Display)
	default:
		return fmt.Errorf("display %d not found (%d active)", s.Display, n)
	}
	img, err := s.grab(rect)
	if err != nil {
		return fmt.Errorf("failed to capture screen: %w", err)
	}
	return WritePNG(path, img)
}

// WritePNG encodes img to path. A partially written file is removed on failure.
func WritePNG(path string, img image.Image) error {
	// #nosec G304 -- path is built from the resolved screenshot directory
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("encode png: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
