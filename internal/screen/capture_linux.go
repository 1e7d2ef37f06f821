//go:build linux

package screen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

var errNoTool = errors.New("no screenshot tool found (install gnome-screenshot, scrot or grim)")

type linuxBackend struct{ tempDir string }

func (l *linuxBackend) captureRaw(ctx context.Context) ([]byte, error) {
	tmpFile := filepath.Join(l.tempDir, rawFileName)
	var cmd *exec.Cmd
	switch {
	case lookPath("gnome-screenshot"):
		cmd = exec.CommandContext(ctx, "gnome-screenshot", "-f", tmpFile)
	case lookPath("scrot"):
		cmd = exec.CommandContext(ctx, "scrot", "-o", tmpFile)
	case lookPath("grim"):
		cmd = exec.CommandContext(ctx, "grim", tmpFile)
	default:
		return nil, errNoTool
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", filepath.Base(cmd.Path), err, stderr.String())
	}
	defer os.Remove(tmpFile)
	return os.ReadFile(tmpFile)
}

func lookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// New creates a platform-specific screen capturer
func New(timeout time.Duration) Capturer {
	dir := tempDir()
	return newBase(&linuxBackend{tempDir: dir}, dir, timeout)
}
