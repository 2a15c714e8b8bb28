package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFramerate(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"25/1", 25},
		{"30000/1001", 29.97002997002997},
		{"30", 30},
		{"0/0", 0},
		{"25/0", 0},
		{"", 0},
		{"garbage", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.InDelta(t, tt.want, parseFramerate(tt.input), 0.0001)
		})
	}
}

func TestBuildReport(t *testing.T) {
	raw := &rawProbe{
		Format: rawFormat{FormatName: "rtsp", BitRate: "2500000"},
		Streams: []rawStream{
			{
				Index: 0, CodecType: "video", CodecName: "h264",
				Width: 1920, Height: 1080, PixFmt: "yuv420p",
				RFrameRate: "25/1", AvgFrameRate: "24/1", BitRate: "2000000",
			},
			{
				Index: 1, CodecType: "audio", CodecName: "aac",
				SampleRate: "48000", Channels: 2, ChannelLayout: "stereo",
			},
			{Index: 2, CodecType: "data", CodecName: "bin_data"},
		},
	}

	report := buildReport(raw)
	assert.Equal(t, "rtsp", report.Container)
	assert.InDelta(t, 2500.0, report.BitrateKbps, 0.01)

	require.True(t, report.HasVideo())
	video := report.PrimaryVideo()
	require.NotNil(t, video)
	assert.Equal(t, "h264", video.Codec)
	assert.Equal(t, 1920, video.Width)
	assert.InDelta(t, 25.0, video.DeclaredFPS, 0.01)
	assert.InDelta(t, 24.0, video.MeasuredFPS, 0.01)
	assert.InDelta(t, 24.0, video.FPS(), 0.01)
	assert.InDelta(t, 2000.0, video.BitrateKbps, 0.01)

	require.True(t, report.HasAudio())
	assert.Equal(t, 48000, report.Audio[0].SampleRate)
	assert.Equal(t, 2, report.Audio[0].Channels)

	// Data streams are not tracks.
	assert.Len(t, report.Video, 1)
	assert.Len(t, report.Audio, 1)
}

func TestVideoTrackFPS_FallsBackToDeclared(t *testing.T) {
	track := VideoTrack{DeclaredFPS: 25, MeasuredFPS: 0}
	assert.InDelta(t, 25.0, track.FPS(), 0.01)
}

func TestProbeArgs(t *testing.T) {
	t.Run("rtsp forces tcp transport", func(t *testing.T) {
		args := probeArgs("rtsp://cam1.local/stream", 10*time.Second)
		assert.Contains(t, args, "-rtsp_transport")
		assert.Contains(t, args, "tcp")
		assert.Equal(t, "rtsp://cam1.local/stream", args[len(args)-1])
	})

	t.Run("http gets reconnect flags", func(t *testing.T) {
		args := probeArgs("https://origin.example.com/live.m3u8", 10*time.Second)
		assert.Contains(t, args, "-reconnect")
		assert.NotContains(t, args, "-rtsp_transport")
	})

	t.Run("srt gets neither", func(t *testing.T) {
		args := probeArgs("srt://node:8890?streamid=read:cam1", 10*time.Second)
		assert.NotContains(t, args, "-rtsp_transport")
		assert.NotContains(t, args, "-reconnect")
	})
}

func TestProbe_SurfacesStderrOnFailure(t *testing.T) {
	// A stand-in binary that fails the way ffprobe does on a dead source:
	// diagnostics on stderr, nothing on stdout.
	bin := filepath.Join(t.TempDir(), "ffprobe")
	require.NoError(t, os.WriteFile(bin,
		[]byte("#!/bin/sh\necho 'Connection to tcp://cam1.local:554 failed: Connection refused' >&2\nexit 1\n"),
		0o755))

	p := NewProber(bin, time.Second)
	_, err := p.Probe(context.Background(), "rtsp://cam1.local/stream")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffprobe failed")
	assert.Contains(t, err.Error(), "Connection refused")
}
