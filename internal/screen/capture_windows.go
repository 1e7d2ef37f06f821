//go:build windows

package screen

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// psCapture saves the virtual screen to the path given as {0}.
const psCapture = `Add-Type -AssemblyName System.Windows.Forms,System.Drawing
$b = [System.Windows.Forms.SystemInformation]::VirtualScreen
$bmp = New-Object System.Drawing.Bitmap $b.Width, $b.Height
$g = [System.Drawing.Graphics]::FromImage($bmp)
$g.CopyFromScreen($b.Left, $b.Top, 0, 0, $bmp.Size)
$bmp.Save('{0}', [System.Drawing.Imaging.ImageFormat]::Png)
$g.Dispose(); $bmp.Dispose()`

type windowsBackend struct{ tempDir string }

func (w *windowsBackend) captureRaw(ctx context.Context) ([]byte, error) {
	tmpFile := filepath.Join(w.tempDir, rawFileName)
	script := strings.ReplaceAll(psCapture, "{0}", strings.ReplaceAll(tmpFile, "'", "''"))

	cmd := exec.CommandContext(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("powershell: %w: %s", err, stderr.String())
	}
	defer os.Remove(tmpFile)
	return os.ReadFile(tmpFile)
}

// New creates a platform-specific screen capturer
func New(timeout time.Duration) Capturer {
	dir := tempDir()
	return newBase(&windowsBackend{tempDir: dir}, dir, timeout)
}
