// Package similarity skips recognition of frames that look like the last one
package similarity

import (
	"image"
	"log/slog"

	"github.com/corona10/goimagehash"
)

// DefaultMaxDistance is the largest pHash Hamming distance still treated as
// the same frame.
const DefaultMaxDistance = 2

// Gate remembers the perceptual hash of the last frame that went through
// recognition. It is owned by the monitor loop and not safe for concurrent use.
type Gate struct {
	maxDistance int
	last        *goimagehash.ImageHash
}

// New creates a gate. A negative maxDistance falls back to DefaultMaxDistance.
func New(maxDistance int) *Gate {
	if maxDistance < 0 {
		maxDistance = DefaultMaxDistance
	}
	return &Gate{maxDistance: maxDistance}
}

// Similar reports whether img is within the distance threshold of the last
// accepted frame. Frames that are not similar become the new reference.
func (g *Gate) Similar(img image.Image) bool {
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return false
	}
	if g.last == nil {
		g.last = hash
		return false
	}

	dist, err := g.last.Distance(hash)
	if err != nil {
		g.last = hash
		return false
	}
	if dist <= g.maxDistance {
		slog.Debug("skipping recognition of similar frame", "distance", dist)
		return true
	}

	g.last = hash
	return false
}

// Reset forgets the reference frame so the next frame is always recognized.
func (g *Gate) Reset() {
	g.last = nil
}
