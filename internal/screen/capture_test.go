package screen

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"testing"
	"time"

	apperrors "github.com/GriffinCanCode/livetag/internal/errors"
)

type fakeBackend struct {
	data  []byte
	err   error
	calls int
}

func (f *fakeBackend) captureRaw(ctx context.Context) ([]byte, error) {
	f.calls++
	return f.data, f.err
}

type slowBackend struct{}

func (slowBackend) captureRaw(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// display returns a PNG-encoded w x h image where pixel (x,y) encodes its own
// coordinates, so crops can be checked against their source position.
func display(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x >> 8), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestCaptureRegionFidelity(t *testing.T) {
	b := &fakeBackend{data: display(t, 1920, 1080)}
	c := newBase(b, "", time.Second)

	r := Region{Left: 100, Top: 200, Width: 400, Height: 800}
	frame, err := c.Capture(context.Background(), r)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	bounds := frame.Image.Bounds()
	if bounds.Dx() != 400 || bounds.Dy() != 800 {
		t.Fatalf("frame size = %dx%d, want 400x800", bounds.Dx(), bounds.Dy())
	}
	if frame.Source != r.Rect() {
		t.Errorf("Source = %v, want %v", frame.Source, r.Rect())
	}

	got := color.NRGBAModel.Convert(frame.Image.At(bounds.Min.X, bounds.Min.Y)).(color.NRGBA)
	want := color.NRGBA{R: 100, G: 200, B: 0, A: 255}
	if got != want {
		t.Errorf("top-left pixel = %v, want %v", got, want)
	}
	got = color.NRGBAModel.Convert(frame.Image.At(bounds.Max.X-1, bounds.Max.Y-1)).(color.NRGBA)
	x, y := 499, 999
	want = color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x >> 8), A: 255}
	if got != want {
		t.Errorf("bottom-right pixel = %v, want %v", got, want)
	}
}

func TestCaptureOutOfBounds(t *testing.T) {
	b := &fakeBackend{data: display(t, 1920, 1080)}
	c := newBase(b, "", time.Second)

	tests := []Region{
		{Left: 1800, Top: 0, Width: 400, Height: 100},
		{Left: 0, Top: 1000, Width: 100, Height: 200},
		{Left: 0, Top: 0, Width: 0, Height: 10},
	}
	for _, r := range tests {
		_, err := c.Capture(context.Background(), r)
		if !apperrors.IsCode(err, apperrors.CaptureOutOfBounds) {
			t.Errorf("Capture(%s) code = %q, want %q", r, apperrors.CodeOf(err), apperrors.CaptureOutOfBounds)
		}
	}
}

func TestCaptureBackendFailure(t *testing.T) {
	c := newBase(&fakeBackend{err: errors.New("no display")}, "", time.Second)

	_, err := c.Capture(context.Background(), Region{Width: 10, Height: 10})
	if !apperrors.IsCode(err, apperrors.CaptureFailed) {
		t.Errorf("code = %q, want %q", apperrors.CodeOf(err), apperrors.CaptureFailed)
	}
}

func TestCaptureUndecodable(t *testing.T) {
	c := newBase(&fakeBackend{data: []byte("not an image")}, "", time.Second)

	_, err := c.CaptureFull(context.Background())
	if !apperrors.IsCode(err, apperrors.CaptureFailed) {
		t.Errorf("code = %q, want %q", apperrors.CodeOf(err), apperrors.CaptureFailed)
	}
}

func TestCaptureTimeout(t *testing.T) {
	c := newBase(slowBackend{}, "", 20*time.Millisecond)

	start := time.Now()
	_, err := c.CaptureFull(context.Background())
	if !apperrors.IsCode(err, apperrors.CaptureFailed) {
		t.Errorf("code = %q, want %q", apperrors.CodeOf(err), apperrors.CaptureFailed)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout was not enforced")
	}
}

func TestCaptureFullReportsDisplaySize(t *testing.T) {
	c := newBase(&fakeBackend{data: display(t, 320, 240)}, "", time.Second)
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	frame, err := c.CaptureFull(context.Background())
	if err != nil {
		t.Fatalf("CaptureFull: %v", err)
	}
	if frame.Source.Dx() != 320 || frame.Source.Dy() != 240 {
		t.Errorf("Source = %v, want 320x240", frame.Source)
	}
	if !frame.CapturedAt.Equal(fixed) {
		t.Errorf("CapturedAt = %v, want %v", frame.CapturedAt, fixed)
	}
}

func TestCloseRemovesTempDir(t *testing.T) {
	dir := tempDir()
	if dir == "" {
		t.Skip("temp dir unavailable")
	}
	c := newBase(&fakeBackend{}, dir, time.Second)

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("temp directory should be removed after Close")
	}
}
