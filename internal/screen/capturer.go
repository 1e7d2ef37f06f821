// Package screen provides platform-agnostic region capture
package screen

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"time"

	"github.com/disintegration/imaging"

	apperrors "github.com/GriffinCanCode/livetag/internal/errors"
)

// Region is a display rectangle in screen pixels.
type Region struct {
	Left, Top, Width, Height int
}

// Rect returns the region as an image rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Left+r.Width, r.Top+r.Height)
}

func (r Region) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.Left, r.Top)
}

// Frame is one captured pixel buffer. Image bounds start at (0,0).
type Frame struct {
	Image      image.Image
	CapturedAt time.Time
	Source     image.Rectangle
}

// Capturer grabs frames from the display
type Capturer interface {
	Capture(ctx context.Context, r Region) (*Frame, error)
	CaptureFull(ctx context.Context) (*Frame, error)
	Close() error
}

// backend implements platform-specific raw capture of the whole display
type backend interface {
	captureRaw(ctx context.Context) ([]byte, error)
}

// baseCapturer decodes backend output and crops it to the requested region
type baseCapturer struct {
	backend
	tempDir string
	timeout time.Duration
	now     func() time.Time
}

func newBase(b backend, tempDir string, timeout time.Duration) *baseCapturer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &baseCapturer{backend: b, tempDir: tempDir, timeout: timeout, now: time.Now}
}

func (c *baseCapturer) CaptureFull(ctx context.Context) (*Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := c.captureRaw(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Wrapf(err, apperrors.CaptureFailed, "capture timed out after %s", c.timeout)
		}
		return nil, apperrors.Wrap(err, apperrors.CaptureFailed, "capture display")
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CaptureFailed, "decode screenshot")
	}
	return &Frame{Image: img, CapturedAt: c.now(), Source: img.Bounds()}, nil
}

func (c *baseCapturer) Capture(ctx context.Context, r Region) (*Frame, error) {
	if r.Width <= 0 || r.Height <= 0 {
		return nil, apperrors.Newf(apperrors.CaptureOutOfBounds, "empty region %s", r)
	}
	full, err := c.CaptureFull(ctx)
	if err != nil {
		return nil, err
	}
	rect := r.Rect()
	display := full.Image.Bounds()
	if !rect.In(image.Rect(0, 0, display.Dx(), display.Dy())) {
		return nil, apperrors.Newf(apperrors.CaptureOutOfBounds, "region %s outside display", r).
			WithMetadata("display", fmt.Sprintf("%dx%d", display.Dx(), display.Dy()))
	}
	return &Frame{
		Image:      imaging.Crop(full.Image, rect.Add(display.Min)),
		CapturedAt: full.CapturedAt,
		Source:     rect,
	}, nil
}

func (c *baseCapturer) Close() error {
	if c.tempDir == "" {
		return nil
	}
	return os.RemoveAll(c.tempDir)
}

func tempDir() string {
	dir, err := os.MkdirTemp("", "livetag-screen-*")
	if err != nil {
		slog.Error("failed to create temp dir", "error", err)
		return ""
	}
	return dir
}
