package similarity

import (
	"image"
	"image/color"
	"testing"
)

// pattern creates test images with distinct patterns for pHash testing.
func pattern(kind int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			var c color.RGBA
			switch kind {
			case 0: // solid gray
				c = color.RGBA{R: 128, G: 128, B: 128, A: 255}
			case 1: // checkerboard
				if (x/8+y/8)%2 == 0 {
					c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
				} else {
					c = color.RGBA{R: 0, G: 0, B: 0, A: 255}
				}
			case 2: // horizontal gradient
				c = color.RGBA{R: uint8(x * 4), G: 0, B: uint8(255 - x*4), A: 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func TestFirstFrameNotSimilar(t *testing.T) {
	g := New(DefaultMaxDistance)

	if g.Similar(pattern(0)) {
		t.Error("first frame should not be similar")
	}
	if g.last == nil {
		t.Error("reference hash should be set after first frame")
	}
}

func TestIdenticalFramesSimilar(t *testing.T) {
	g := New(DefaultMaxDistance)
	img := pattern(1)

	g.Similar(img)
	if !g.Similar(img) {
		t.Error("identical frames should be similar")
	}
}

func TestDifferentFramesNotSimilar(t *testing.T) {
	g := New(DefaultMaxDistance)

	g.Similar(pattern(1))
	if g.Similar(pattern(2)) {
		t.Error("visually distinct frames should not be similar")
	}
}

func TestReset(t *testing.T) {
	g := New(DefaultMaxDistance)
	img := pattern(1)

	g.Similar(img)
	g.Reset()
	if g.Similar(img) {
		t.Error("frame after Reset should not be similar")
	}
}

func TestNegativeDistanceUsesDefault(t *testing.T) {
	if g := New(-1); g.maxDistance != DefaultMaxDistance {
		t.Errorf("maxDistance = %d, want %d", g.maxDistance, DefaultMaxDistance)
	}
}
