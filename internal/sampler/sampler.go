package sampler

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/guardianai/api/internal/config"
	"github.com/guardianai/api/internal/model"
)

// Sampling covers the middle of the video to avoid intro and credit
// segments.
const (
	windowStart = 0.1
	windowEnd   = 0.9
)

// FFmpegSampler extracts a fixed number of downscaled JPEG frames from
// a video file using ffmpeg/ffprobe.
type FFmpegSampler struct {
	frameCount  int
	maxEdge     int
	jpegQuality int
	ffmpegPath  string
	ffprobePath string
	logger      *slog.Logger
}

// NewFFmpegSampler creates a sampler from configuration.
func NewFFmpegSampler(cfg *config.SamplerConfig, logger *slog.Logger) *FFmpegSampler {
	frameCount := cfg.FrameCount
	if frameCount <= 0 {
		frameCount = 8
	}
	maxEdge := cfg.MaxEdge
	if maxEdge <= 0 {
		maxEdge = 512
	}
	quality := cfg.JPEGQuality
	if quality <= 0 {
		quality = 6
	}
	return &FFmpegSampler{
		frameCount:  frameCount,
		maxEdge:     maxEdge,
		jpegQuality: quality,
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobePath,
		logger:      logger,
	}
}

// Sample extracts frames evenly spaced across the 10%-90% window of the
// video's duration, in increasing timestamp order. It fails with a
// decode error when the source cannot be opened or probed and with a
// render error when a frame cannot be produced.
func (s *FFmpegSampler) Sample(ctx context.Context, path string) ([]model.Frame, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, model.NewAnalysisError(model.ErrKindDecode,
			fmt.Sprintf("video file not readable at %q", path), err)
	}

	duration, err := s.probeDuration(ctx, path)
	if err != nil {
		return nil, err
	}

	timestamps := sampleTimestamps(duration, s.frameCount)
	s.logger.Debug("sampling frames", "path", path, "duration", duration, "timestamps", timestamps)

	frames := make([]model.Frame, 0, len(timestamps))
	for _, ts := range timestamps {
		image, err := s.extractFrame(ctx, path, ts)
		if err != nil {
			return nil, err
		}
		frames = append(frames, model.Frame{Image: image, Timestamp: ts})
	}
	return frames, nil
}

// FrameCount returns the fixed number of frames per sampled video.
func (s *FFmpegSampler) FrameCount() int {
	return s.frameCount
}

// probeDuration resolves the video duration in seconds. ffprobe reads it
// from container metadata; when the container doesn't carry one (e.g. a
// live-captured fragment) the stream is decoded to the end instead.
func (s *FFmpegSampler) probeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, s.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, model.NewAnalysisError(model.ErrKindDecode,
			fmt.Sprintf("ffprobe failed: %s", strings.TrimSpace(string(output))), err)
	}

	raw := strings.TrimSpace(string(output))
	if raw == "" || raw == "N/A" {
		return s.decodeDuration(ctx, path)
	}

	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return s.decodeDuration(ctx, path)
	}
	return duration, nil
}

var timeProgressRe = regexp.MustCompile(`time=(\d+):(\d{2}):(\d{2})(?:\.(\d+))?`)

// decodeDuration decodes the whole stream with a null muxer and takes
// the last progress timestamp ffmpeg reports. Slow, but it yields the
// true duration for sources whose metadata doesn't state one.
func (s *FFmpegSampler) decodeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, s.ffmpegPath,
		"-v", "info",
		"-i", path,
		"-f", "null", "-",
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, model.NewAnalysisError(model.ErrKindDecode,
			fmt.Sprintf("duration probe failed: %s", lastLine(output)), err)
	}

	duration, ok := lastReportedTime(string(output))
	if !ok {
		return 0, model.NewAnalysisError(model.ErrKindDecode,
			"could not determine video duration", nil)
	}
	return duration, nil
}

// extractFrame renders a single frame at the given offset, downscaled so
// the longer edge does not exceed maxEdge, encoded as JPEG on stdout.
func (s *FFmpegSampler) extractFrame(ctx context.Context, path string, timestamp float64) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.ffmpegPath,
		"-v", "error",
		"-ss", fmt.Sprintf("%.3f", timestamp),
		"-i", path,
		"-frames:v", "1",
		"-vf", scaleFilter(s.maxEdge),
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(s.jpegQuality),
		"-f", "image2",
		"pipe:1",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, model.NewAnalysisError(model.ErrKindRender,
			fmt.Sprintf("frame at %s could not be rendered: %s",
				model.FormatTimestamp(timestamp), lastLine(stderr.Bytes())), err)
	}
	if stdout.Len() == 0 {
		return nil, model.NewAnalysisError(model.ErrKindRender,
			fmt.Sprintf("frame at %s produced no image data", model.FormatTimestamp(timestamp)), nil)
	}
	return stdout.Bytes(), nil
}

// scaleFilter caps the longer edge at maxEdge without upscaling and
// keeps the aspect ratio (-2 rounds the short edge to an even value).
func scaleFilter(maxEdge int) string {
	return fmt.Sprintf("scale='if(gt(iw,ih),min(%d,iw),-2)':'if(gt(iw,ih),-2,min(%d,ih))'", maxEdge, maxEdge)
}

// sampleTimestamps spreads n samples evenly across the 10%-90% window.
// A degenerate duration collapses every sample onto the window start so
// the spacing never divides by zero.
func sampleTimestamps(duration float64, n int) []float64 {
	if n <= 0 {
		return nil
	}

	start := duration * windowStart
	end := duration * windowEnd
	span := end - start
	if span <= 0 {
		if start < 0 {
			start = 0
		}
		timestamps := make([]float64, n)
		for i := range timestamps {
			timestamps[i] = start
		}
		return timestamps
	}

	timestamps := make([]float64, n)
	if n == 1 {
		timestamps[0] = start
		return timestamps
	}
	step := span / float64(n-1)
	for i := range timestamps {
		timestamps[i] = start + float64(i)*step
	}
	return timestamps
}

// lastReportedTime parses the final time=HH:MM:SS.cc progress marker
// from ffmpeg output.
func lastReportedTime(output string) (float64, bool) {
	matches := timeProgressRe.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return 0, false
	}
	m := matches[len(matches)-1]
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, _ := strconv.Atoi(m[3])
	total := float64(hours*3600 + minutes*60 + seconds)
	if m[4] != "" {
		if frac, err := strconv.ParseFloat("0."+m[4], 64); err == nil {
			total += frac
		}
	}
	return total, true
}

func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
