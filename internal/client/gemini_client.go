package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/guardianai/api/internal/config"
	"github.com/guardianai/api/internal/model"
)

const systemInstruction = "You are 'Guardian AI', an advanced AI system for child safety monitoring. " +
	"Your task is to analyze video surveillance footage and identify potential instances of violence " +
	"or anomalous behavior. Respond ONLY with the requested JSON format."

// GeminiClient handles communication with the Gemini API
type GeminiClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	logger     *slog.Logger
}

// Content represents a content block in a generateContent request
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is either a text part or an inline image part
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData carries base64-encoded media
type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Schema is the subset of the Gemini response schema language we use
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// GenerationConfig requests a structured JSON response
type GenerationConfig struct {
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
	ResponseSchema   *Schema `json:"responseSchema,omitempty"`
}

// GenerateContentRequest represents the request body for generateContent
type GenerateContentRequest struct {
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	Contents          []Content         `json:"contents"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

// GenerateContentResponse represents the response from generateContent
type GenerateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// anomalySchema is the structured response shape requested from the model:
// an array of {timestamp, description} objects.
var anomalySchema = &Schema{
	Type: "ARRAY",
	Items: &Schema{
		Type: "OBJECT",
		Properties: map[string]*Schema{
			"timestamp": {
				Type:        "STRING",
				Description: "Timestamp of the event in MM:SS format.",
			},
			"description": {
				Type:        "STRING",
				Description: "A brief, clear description of the detected anomalous behavior.",
			},
		},
		Required: []string{"timestamp", "description"},
	},
}

// NewGeminiClient creates a new Gemini API client
func NewGeminiClient(cfg *config.GeminiConfig, logger *slog.Logger) *GeminiClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &GeminiClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		logger:  logger,
	}
}

// Analyze sends the sampled frames to Gemini in a single request and
// returns the validated anomaly list, sorted by timestamp. An empty
// response body counts as zero anomalies; a safety block, a malformed
// body, and a transport failure map to blocked/format/service errors.
func (c *GeminiClient) Analyze(ctx context.Context, frames []model.Frame, sourceName string) ([]model.Anomaly, error) {
	if !c.IsConfigured() {
		c.logger.Warn("gemini api key not set, returning mock analysis", "source", sourceName)
		return []model.Anomaly{}, nil
	}

	reqBody := GenerateContentRequest{
		SystemInstruction: &Content{
			Parts: []Part{{Text: systemInstruction}},
		},
		Contents: []Content{{
			Role:  "user",
			Parts: c.buildParts(frames, sourceName),
		}},
		GenerationConfig: &GenerationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   anomalySchema,
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, model.NewAnalysisError(model.ErrKindService, "failed to marshal request", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, model.NewAnalysisError(model.ErrKindService, "failed to create request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.NewAnalysisError(model.ErrKindService, "failed to send request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewAnalysisError(model.ErrKindService, "failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewAnalysisError(model.ErrKindService,
			fmt.Sprintf("gemini API error (status %d): %s", resp.StatusCode, string(respBody)), nil)
	}

	var genResp GenerateContentResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return nil, model.NewAnalysisError(model.ErrKindFormat, "failed to unmarshal response envelope", err)
	}

	if genResp.PromptFeedback != nil && genResp.PromptFeedback.BlockReason != "" {
		return nil, model.NewAnalysisError(model.ErrKindBlocked,
			fmt.Sprintf("response withheld by safety policy: %s", genResp.PromptFeedback.BlockReason), nil)
	}

	text := ""
	if len(genResp.Candidates) > 0 {
		cand := genResp.Candidates[0]
		if cand.FinishReason == "SAFETY" {
			return nil, model.NewAnalysisError(model.ErrKindBlocked, "candidate withheld by safety policy", nil)
		}
		for _, p := range cand.Content.Parts {
			text += p.Text
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		// No findings — the model returns an empty body when nothing matched.
		return []model.Anomaly{}, nil
	}

	return parseAnomalies(text)
}

// buildParts assembles the analysis instruction followed by each frame's
// timestamp label and image data, in increasing timestamp order.
func (c *GeminiClient) buildParts(frames []model.Frame, sourceName string) []Part {
	timestamps := make([]string, 0, len(frames))
	for _, f := range frames {
		timestamps = append(timestamps, model.FormatTimestamp(f.Timestamp))
	}

	prompt := fmt.Sprintf(`Analyze these still frames sampled from the video file named %q from an early childhood development center in Singapore.
Generate a log of detected anomalies.
Focus on actions that constitute violence or aggressive behavior, such as:
- Shoving or pushing a child to the ground.
- Grabbing, shaking, or lifting a child by their limbs or body in a forceful manner.
- Throwing objects at children.
- Any other forceful physical contact that could be harmful.

Each frame is labeled with its timestamp. Only use timestamps from this set: %s.
If no anomalies are detected, return an empty array.
The output must be a JSON array of objects, each with a "timestamp" and "description".`,
		sourceName, strings.Join(timestamps, ", "))

	parts := make([]Part, 0, 2*len(frames)+1)
	parts = append(parts, Part{Text: prompt})
	for _, f := range frames {
		parts = append(parts, Part{Text: fmt.Sprintf("Frame at %s:", model.FormatTimestamp(f.Timestamp))})
		parts = append(parts, Part{InlineData: &InlineData{
			MIMEType: "image/jpeg",
			Data:     base64.StdEncoding.EncodeToString(f.Image),
		}})
	}
	return parts
}

// parseAnomalies validates the model's JSON payload against the
// requested structure.
func parseAnomalies(text string) ([]model.Anomaly, error) {
	var anomalies []model.Anomaly
	if err := json.Unmarshal([]byte(text), &anomalies); err != nil {
		return nil, model.NewAnalysisError(model.ErrKindFormat, "response is not a valid anomaly array", err)
	}

	for _, a := range anomalies {
		if _, err := model.ParseTimestamp(a.Timestamp); err != nil {
			return nil, model.NewAnalysisError(model.ErrKindFormat, "anomaly has malformed timestamp", err)
		}
		if a.Description == "" {
			return nil, model.NewAnalysisError(model.ErrKindFormat, "anomaly has empty description", nil)
		}
		if a.BoundingBox != nil && !a.BoundingBox.Valid() {
			return nil, model.NewAnalysisError(model.ErrKindFormat,
				fmt.Sprintf("anomaly has invalid bounding box %v", *a.BoundingBox), nil)
		}
	}

	// The player seeks to the first finding, so keep them ordered.
	sort.SliceStable(anomalies, func(i, j int) bool {
		ti, _ := model.ParseTimestamp(anomalies[i].Timestamp)
		tj, _ := model.ParseTimestamp(anomalies[j].Timestamp)
		return ti < tj
	})

	if anomalies == nil {
		anomalies = []model.Anomaly{}
	}
	return anomalies, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GeminiClient) IsConfigured() bool {
	return c.apiKey != ""
}
