package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardianai/api/internal/config"
	"github.com/guardianai/api/internal/model"
)

func testClient(baseURL string) *GeminiClient {
	return NewGeminiClient(&config.GeminiConfig{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Model:   "gemini-2.5-flash",
		Timeout: 5,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func candidateResponse(text string) string {
	resp := map[string]interface{}{
		"candidates": []map[string]interface{}{{
			"content": map[string]interface{}{
				"parts": []map[string]string{{"text": text}},
			},
			"finishReason": "STOP",
		}},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func testFrames() []model.Frame {
	return []model.Frame{
		{Image: []byte("frame-a"), Timestamp: 6},
		{Image: []byte("frame-b"), Timestamp: 54},
	}
}

func analysisErr(t *testing.T, err error) *model.AnalysisError {
	t.Helper()
	var aerr *model.AnalysisError
	require.True(t, errors.As(err, &aerr), "expected classified analysis error, got %v", err)
	return aerr
}

func TestAnalyze_ParsesAnomalies(t *testing.T) {
	var gotReq GenerateContentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		io.WriteString(w, candidateResponse(`[{"timestamp":"00:54","description":"shove"},{"timestamp":"00:06","description":"push"}]`))
	}))
	defer srv.Close()

	anomalies, err := testClient(srv.URL).Analyze(context.Background(), testFrames(), "a.mp4")
	require.NoError(t, err)
	require.Len(t, anomalies, 2)

	// Sorted by timestamp for the player.
	assert.Equal(t, "00:06", anomalies[0].Timestamp)
	assert.Equal(t, "push", anomalies[0].Description)
	assert.Equal(t, "00:54", anomalies[1].Timestamp)

	// The request carries the schema, the instruction, and every frame
	// with its timestamp label.
	require.NotNil(t, gotReq.GenerationConfig)
	assert.Equal(t, "application/json", gotReq.GenerationConfig.ResponseMIMEType)
	require.NotNil(t, gotReq.GenerationConfig.ResponseSchema)
	assert.Equal(t, "ARRAY", gotReq.GenerationConfig.ResponseSchema.Type)
	require.NotNil(t, gotReq.SystemInstruction)

	require.Len(t, gotReq.Contents, 1)
	parts := gotReq.Contents[0].Parts
	require.Len(t, parts, 5) // prompt + 2 * (label, image)
	assert.Contains(t, parts[0].Text, "a.mp4")
	assert.Contains(t, parts[0].Text, "00:06, 00:54")
	assert.Contains(t, parts[1].Text, "00:06")
	require.NotNil(t, parts[2].InlineData)
	assert.Equal(t, "image/jpeg", parts[2].InlineData.MIMEType)
}

func TestAnalyze_EmptyArrayIsZeroAnomalies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, candidateResponse("[]"))
	}))
	defer srv.Close()

	anomalies, err := testClient(srv.URL).Analyze(context.Background(), nil, "a.mp4")
	require.NoError(t, err)
	require.NotNil(t, anomalies)
	assert.Empty(t, anomalies)
}

func TestAnalyze_EmptyBodyIsZeroAnomalies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	anomalies, err := testClient(srv.URL).Analyze(context.Background(), testFrames(), "a.mp4")
	require.NoError(t, err)
	assert.Empty(t, anomalies)
}

func TestAnalyze_PromptBlockIsBlockedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"promptFeedback":{"blockReason":"SAFETY"}}`)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Analyze(context.Background(), testFrames(), "a.mp4")
	aerr := analysisErr(t, err)
	assert.Equal(t, model.ErrKindBlocked, aerr.Kind)
}

func TestAnalyze_SafetyFinishIsBlockedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Analyze(context.Background(), testFrames(), "a.mp4")
	aerr := analysisErr(t, err)
	assert.Equal(t, model.ErrKindBlocked, aerr.Kind)
}

func TestAnalyze_MalformedPayloadIsFormatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, candidateResponse(`{"not":"an array"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Analyze(context.Background(), testFrames(), "a.mp4")
	aerr := analysisErr(t, err)
	assert.Equal(t, model.ErrKindFormat, aerr.Kind)
}

func TestAnalyze_BadTimestampIsFormatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, candidateResponse(`[{"timestamp":"five seconds in","description":"push"}]`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Analyze(context.Background(), testFrames(), "a.mp4")
	aerr := analysisErr(t, err)
	assert.Equal(t, model.ErrKindFormat, aerr.Kind)
}

func TestAnalyze_InvalidBoundingBoxIsFormatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, candidateResponse(`[{"timestamp":"00:05","description":"push","boundingBox":[0.9,0.1,0.2,0.4]}]`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Analyze(context.Background(), testFrames(), "a.mp4")
	aerr := analysisErr(t, err)
	assert.Equal(t, model.ErrKindFormat, aerr.Kind)
}

func TestAnalyze_ServerErrorIsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Analyze(context.Background(), testFrames(), "a.mp4")
	aerr := analysisErr(t, err)
	assert.Equal(t, model.ErrKindService, aerr.Kind)
	assert.Contains(t, aerr.Message, "503")
}

func TestAnalyze_TransportFailureIsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	_, err := testClient(srv.URL).Analyze(context.Background(), testFrames(), "a.mp4")
	aerr := analysisErr(t, err)
	assert.Equal(t, model.ErrKindService, aerr.Kind)
}

func TestAnalyze_UnconfiguredReturnsMock(t *testing.T) {
	c := NewGeminiClient(&config.GeminiConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.False(t, c.IsConfigured())

	anomalies, err := c.Analyze(context.Background(), testFrames(), "a.mp4")
	require.NoError(t, err)
	assert.Empty(t, anomalies)
}
