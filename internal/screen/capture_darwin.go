//go:build darwin

package screen

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

type darwinBackend struct{ tempDir string }

func (d *darwinBackend) captureRaw(ctx context.Context) ([]byte, error) {
	tmpFile := filepath.Join(d.tempDir, rawFileName)
	// -x: no sound, -m: main display only
	cmd := exec.CommandContext(ctx, "screencapture", "-x", "-t", "png", "-m", tmpFile)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("screencapture: %w: %s", err, stderr.String())
	}
	defer os.Remove(tmpFile)
	return os.ReadFile(tmpFile)
}

// New creates a platform-specific screen capturer
func New(timeout time.Duration) Capturer {
	dir := tempDir()
	return newBase(&darwinBackend{tempDir: dir}, dir, timeout)
}
