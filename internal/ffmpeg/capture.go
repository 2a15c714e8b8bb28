package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Capturer records short clips off live streams without re-encoding.
type Capturer struct {
	ffmpegPath string
}

// NewCapturer creates a capturer using the given ffmpeg binary.
func NewCapturer(ffmpegPath string) *Capturer {
	return &Capturer{ffmpegPath: ffmpegPath}
}

// Capture copies duration seconds of the stream into outputPath. The copy
// codec keeps CPU cost near zero so captures can run alongside probes.
func (c *Capturer) Capture(ctx context.Context, url, outputPath string, duration time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("creating capture directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, duration+30*time.Second)
	defer cancel()

	args := []string{"-v", "error", "-y"}
	if strings.HasPrefix(url, "rtsp://") || strings.HasPrefix(url, "rtsps://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args,
		"-i", url,
		"-t", fmt.Sprintf("%.0f", duration.Seconds()),
		"-c", "copy",
		outputPath,
	)

	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(outputPath)
		return fmt.Errorf("capture failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
