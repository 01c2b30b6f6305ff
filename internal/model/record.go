package model

import "time"

// RecordStatus is the lifecycle state of one submitted video.
type RecordStatus string

const (
	StatusPending        RecordStatus = "pending"
	StatusAwaitingUpload RecordStatus = "awaiting_upload"
	StatusProcessing     RecordStatus = "processing"
	StatusCompleted      RecordStatus = "completed"
	StatusError          RecordStatus = "error"
)

// AnalysisRecord tracks the analysis lifecycle of a single submitted
// file or URL. Key is the display identity (file name or URL) and is
// unique across the active result set; ID is the route identity.
type AnalysisRecord struct {
	ID          string       `json:"id"`
	Key         string       `json:"key"`
	Status      RecordStatus `json:"status"`
	Anomalies   []Anomaly    `json:"anomalies"`
	Error       *string      `json:"error,omitempty"`
	ErrorKind   ErrorKind    `json:"errorKind,omitempty"`
	PreviewURL  string       `json:"previewUrl,omitempty"`
	SubmittedAt time.Time    `json:"submittedAt"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

// Terminal reports whether the record can no longer advance on its own.
// AwaitingUpload counts: it only moves through a fresh submission of
// actual source bytes.
func (s RecordStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusAwaitingUpload
}
