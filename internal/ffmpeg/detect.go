package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Default detection windows. Each detector decodes a short slice of the
// stream through a filter and inspects ffmpeg's stderr for filter output.
const (
	DefaultAnalysisWindow = 10 * time.Second
	DefaultFreezeDuration = 5 * time.Second
	defaultBlackThreshold = "0.98"
	defaultSilenceNoise   = "-50dB"
	defaultFreezeNoise    = "-60dB"
)

// Detector runs short ffmpeg analysis passes against live streams.
type Detector struct {
	ffmpegPath string
	window     time.Duration
}

// NewDetector creates a detector using the given ffmpeg binary.
func NewDetector(ffmpegPath string, window time.Duration) *Detector {
	if window <= 0 {
		window = DefaultAnalysisWindow
	}
	return &Detector{ffmpegPath: ffmpegPath, window: window}
}

// DetectBlackScreen reports whether the stream shows a sustained black
// picture within the analysis window.
func (d *Detector) DetectBlackScreen(ctx context.Context, url string) (bool, error) {
	filter := fmt.Sprintf("blackdetect=d=%.1f:pic_th=%s", DefaultFreezeDuration.Seconds(), defaultBlackThreshold)
	stderr, err := d.runFilter(ctx, url, "-vf", filter)
	if err != nil {
		return false, err
	}
	return strings.Contains(stderr, "black_start"), nil
}

// DetectFreeze reports whether the picture froze for the freeze duration
// within the analysis window.
func (d *Detector) DetectFreeze(ctx context.Context, url string) (bool, error) {
	filter := fmt.Sprintf("freezedetect=n=%s:d=%.1f", defaultFreezeNoise, DefaultFreezeDuration.Seconds())
	stderr, err := d.runFilter(ctx, url, "-vf", filter)
	if err != nil {
		return false, err
	}
	return strings.Contains(stderr, "freeze_start"), nil
}

// DetectAudioSilence reports whether the audio track was silent for the
// freeze duration within the analysis window.
func (d *Detector) DetectAudioSilence(ctx context.Context, url string) (bool, error) {
	filter := fmt.Sprintf("silencedetect=noise=%s:d=%.1f", defaultSilenceNoise, DefaultFreezeDuration.Seconds())
	stderr, err := d.runFilter(ctx, url, "-af", filter)
	if err != nil {
		return false, err
	}
	return strings.Contains(stderr, "silence_start"), nil
}

// runFilter decodes the analysis window through one filter and returns
// ffmpeg's stderr. The filters print their findings there.
func (d *Detector) runFilter(ctx context.Context, url, filterFlag, filter string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.window+10*time.Second)
	defer cancel()

	args := []string{"-v", "info", "-nostats"}
	if strings.HasPrefix(url, "rtsp://") || strings.HasPrefix(url, "rtsps://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args,
		"-i", url,
		"-t", fmt.Sprintf("%.0f", d.window.Seconds()),
		filterFlag, filter,
		"-f", "null", "-",
	)

	cmd := exec.CommandContext(ctx, d.ffmpegPath, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("analysis timeout after %v", d.window)
		}
		// A decode error still produced filter output worth inspecting.
		if stderr.Len() > 0 {
			return stderr.String(), nil
		}
		return "", fmt.Errorf("ffmpeg analysis failed: %w", err)
	}

	return stderr.String(), nil
}
