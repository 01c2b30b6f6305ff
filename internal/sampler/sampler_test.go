package sampler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardianai/api/internal/config"
	"github.com/guardianai/api/internal/model"
)

func TestSampleTimestamps_EvenSpacing(t *testing.T) {
	// 60s video: window [6s, 54s], 8 points, spacing 48/7.
	timestamps := sampleTimestamps(60, 8)
	require.Len(t, timestamps, 8)

	assert.InDelta(t, 6.0, timestamps[0], 1e-9)
	assert.InDelta(t, 54.0, timestamps[7], 1e-9)

	spacing := 48.0 / 7.0
	for i := 1; i < len(timestamps); i++ {
		assert.InDelta(t, spacing, timestamps[i]-timestamps[i-1], 1e-9)
	}
}

func TestSampleTimestamps_ZeroDuration(t *testing.T) {
	timestamps := sampleTimestamps(0, 8)
	require.Len(t, timestamps, 8)
	for _, ts := range timestamps {
		assert.Zero(t, ts)
	}
}

func TestSampleTimestamps_NegativeDuration(t *testing.T) {
	for _, ts := range sampleTimestamps(-3, 8) {
		assert.Zero(t, ts)
	}
}

func TestSampleTimestamps_SinglePoint(t *testing.T) {
	timestamps := sampleTimestamps(100, 1)
	require.Len(t, timestamps, 1)
	assert.InDelta(t, 10.0, timestamps[0], 1e-9)
}

func TestSampleTimestamps_NoPoints(t *testing.T) {
	assert.Nil(t, sampleTimestamps(60, 0))
}

func TestScaleFilter(t *testing.T) {
	filter := scaleFilter(512)
	assert.Contains(t, filter, "min(512,iw)")
	assert.Contains(t, filter, "min(512,ih)")
	assert.Contains(t, filter, "-2")
}

func TestLastReportedTime(t *testing.T) {
	output := `frame=  100 fps= 25 time=00:00:04.00 bitrate=N/A
frame=  200 fps= 25 time=00:01:02.50 bitrate=N/A speed=1x`

	duration, ok := lastReportedTime(output)
	require.True(t, ok)
	assert.InDelta(t, 62.5, duration, 1e-9)
}

func TestLastReportedTime_NoMarker(t *testing.T) {
	_, ok := lastReportedTime("no progress lines here")
	assert.False(t, ok)
}

func TestSample_MissingFileIsDecodeError(t *testing.T) {
	s := NewFFmpegSampler(&config.SamplerConfig{
		FrameCount:  8,
		MaxEdge:     512,
		JPEGQuality: 6,
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := s.Sample(context.Background(), "/does/not/exist.mp4")
	require.Error(t, err)

	var aerr *model.AnalysisError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, model.ErrKindDecode, aerr.Kind)
}

func TestNewFFmpegSampler_Defaults(t *testing.T) {
	s := NewFFmpegSampler(&config.SamplerConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, 8, s.FrameCount())
	assert.Equal(t, 512, s.maxEdge)
	assert.Equal(t, 6, s.jpegQuality)
}
