package model

import "fmt"

// ErrorKind classifies an analysis failure. The kinds are stable and
// surfaced on the record so callers don't have to parse message text.
type ErrorKind string

const (
	// Sampling failures
	ErrKindDecode ErrorKind = "decode" // source cannot be opened or decoded
	ErrKindRender ErrorKind = "render" // a frame could not be rendered

	// Analysis failures
	ErrKindBlocked ErrorKind = "blocked" // response withheld for safety-policy reasons
	ErrKindFormat  ErrorKind = "format"  // response did not match the expected structure
	ErrKindService ErrorKind = "service" // transport or service-level failure
)

// AnalysisError is a classified failure from the sampler or the
// analyzer client.
type AnalysisError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// NewAnalysisError builds a classified error wrapping an optional cause.
func NewAnalysisError(kind ErrorKind, message string, err error) *AnalysisError {
	return &AnalysisError{Kind: kind, Message: message, Err: err}
}
