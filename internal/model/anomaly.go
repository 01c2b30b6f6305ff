package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Anomaly is a single detected event of concern.
type Anomaly struct {
	Timestamp   string       `json:"timestamp"` // MM:SS
	Description string       `json:"description"`
	BoundingBox *BoundingBox `json:"boundingBox,omitempty"`
}

// BoundingBox is [xMin, yMin, xMax, yMax], normalized to [0,1]
// relative to the rendered frame.
type BoundingBox [4]float64

// Valid reports whether all coordinates are in range and the box has
// positive extent on both axes.
func (b BoundingBox) Valid() bool {
	for _, v := range b {
		if v < 0 || v > 1 {
			return false
		}
	}
	return b[0] < b[2] && b[1] < b[3]
}

// Frame is one sampled still image from a video.
type Frame struct {
	Image     []byte  // JPEG bytes
	Timestamp float64 // seconds from the start of the video
}

// FormatTimestamp renders a nonnegative second offset as MM:SS.
// Negative offsets are clamped to zero.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// ParseTimestamp converts an MM:SS timestamp to a second offset.
func ParseTimestamp(ts string) (int, error) {
	parts := strings.Split(ts, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid timestamp %q: want MM:SS", ts)
	}
	minutes, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", ts, err)
	}
	seconds, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", ts, err)
	}
	if minutes < 0 || seconds < 0 || seconds > 59 {
		return 0, fmt.Errorf("invalid timestamp %q: out of range", ts)
	}
	return minutes*60 + seconds, nil
}
