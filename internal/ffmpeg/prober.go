// Package ffmpeg shells out to ffprobe and ffmpeg for stream inspection,
// artifact detection, and event clip capture.
package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// rawProbe is the wire shape of `ffprobe -print_format json`.
type rawProbe struct {
	Format  rawFormat   `json:"format"`
	Streams []rawStream `json:"streams"`
}

type rawFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

type rawStream struct {
	Index         int    `json:"index"`
	CodecName     string `json:"codec_name"`
	CodecType     string `json:"codec_type"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	PixFmt        string `json:"pix_fmt,omitempty"`
	SampleRate    string `json:"sample_rate,omitempty"`
	Channels      int    `json:"channels,omitempty"`
	RFrameRate    string `json:"r_frame_rate,omitempty"`
	AvgFrameRate  string `json:"avg_frame_rate,omitempty"`
	BitRate       string `json:"bit_rate,omitempty"`
	ChannelLayout string `json:"channel_layout,omitempty"`
}

// VideoTrack describes one video stream in a probe report.
type VideoTrack struct {
	Index       int     `json:"index"`
	Codec       string  `json:"codec"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	PixFmt      string  `json:"pix_fmt,omitempty"`
	DeclaredFPS float64 `json:"declared_fps"`
	MeasuredFPS float64 `json:"measured_fps"`
	BitrateKbps float64 `json:"bitrate_kbps,omitempty"`
}

// FPS returns the best framerate estimate, preferring the measured rate.
func (v VideoTrack) FPS() float64 {
	if v.MeasuredFPS > 0 {
		return v.MeasuredFPS
	}
	return v.DeclaredFPS
}

// AudioTrack describes one audio stream in a probe report.
type AudioTrack struct {
	Index      int    `json:"index"`
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels"`
	Layout     string `json:"layout,omitempty"`
}

// Report is the normalized result of probing a stream URL.
type Report struct {
	Container   string       `json:"container"`
	BitrateKbps float64      `json:"bitrate_kbps,omitempty"`
	Video       []VideoTrack `json:"video"`
	Audio       []AudioTrack `json:"audio"`
}

// HasVideo reports whether the stream carries at least one video track.
func (r *Report) HasVideo() bool { return len(r.Video) > 0 }

// HasAudio reports whether the stream carries at least one audio track.
func (r *Report) HasAudio() bool { return len(r.Audio) > 0 }

// PrimaryVideo returns the first video track, or nil.
func (r *Report) PrimaryVideo() *VideoTrack {
	if len(r.Video) == 0 {
		return nil
	}
	return &r.Video[0]
}

// Prober runs ffprobe against stream URLs.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a prober using the given ffprobe binary.
func NewProber(ffprobePath string, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Prober{ffprobePath: ffprobePath, timeout: timeout}
}

// Probe inspects a stream URL and returns its track layout and rates.
func (p *Prober) Probe(ctx context.Context, url string) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := probeArgs(url, p.timeout)
	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var raw rawProbe
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	return buildReport(&raw), nil
}

// probeArgs builds the ffprobe argument list for a stream URL. RTSP sources
// are forced onto TCP because UDP probes through NAT silently hang.
func probeArgs(url string, timeout time.Duration) []string {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
	}

	switch {
	case strings.HasPrefix(url, "rtsp://"), strings.HasPrefix(url, "rtsps://"):
		args = append(args, "-rtsp_transport", "tcp")
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}

	args = append(args, "-timeout", strconv.FormatInt(timeout.Microseconds(), 10))
	return append(args, url)
}

func buildReport(raw *rawProbe) *Report {
	report := &Report{Container: raw.Format.FormatName}

	if raw.Format.BitRate != "" {
		if br, err := strconv.ParseFloat(raw.Format.BitRate, 64); err == nil {
			report.BitrateKbps = br / 1000
		}
	}

	for _, stream := range raw.Streams {
		switch stream.CodecType {
		case "video":
			track := VideoTrack{
				Index:       stream.Index,
				Codec:       stream.CodecName,
				Width:       stream.Width,
				Height:      stream.Height,
				PixFmt:      stream.PixFmt,
				DeclaredFPS: parseFramerate(stream.RFrameRate),
				MeasuredFPS: parseFramerate(stream.AvgFrameRate),
			}
			if stream.BitRate != "" {
				if br, err := strconv.ParseFloat(stream.BitRate, 64); err == nil {
					track.BitrateKbps = br / 1000
				}
			}
			report.Video = append(report.Video, track)

		case "audio":
			track := AudioTrack{
				Index:    stream.Index,
				Codec:    stream.CodecName,
				Channels: stream.Channels,
				Layout:   stream.ChannelLayout,
			}
			if stream.SampleRate != "" {
				if sr, err := strconv.Atoi(stream.SampleRate); err == nil {
					track.SampleRate = sr
				}
			}
			report.Audio = append(report.Audio, track)
		}
	}

	return report
}

// parseFramerate parses a rational framerate like "30000/1001" or "25/1".
// A zero denominator means the rate is unknown.
func parseFramerate(fr string) float64 {
	if fr == "" {
		return 0
	}

	parts := strings.Split(fr, "/")
	if len(parts) != 2 {
		if f, err := strconv.ParseFloat(fr, 64); err == nil {
			return f
		}
		return 0
	}

	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
