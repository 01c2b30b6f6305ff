package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/guardianai/api/internal/config"
	"github.com/guardianai/api/internal/handler"
	"github.com/guardianai/api/internal/model"
	"github.com/guardianai/api/internal/queue"
	"github.com/guardianai/api/internal/storage"
)

// testApp holds all components needed for testing
type testApp struct {
	app      *fiber.App
	queue    *queue.Queue
	analyzer *scriptedAnalyzer
}

// passSampler stands in for the ffmpeg sampler so e2e runs need no
// external binaries.
type passSampler struct{}

func (passSampler) Sample(ctx context.Context, path string) ([]model.Frame, error) {
	return []model.Frame{
		{Image: []byte("jpeg-1"), Timestamp: 6},
		{Image: []byte("jpeg-2"), Timestamp: 54},
	}, nil
}

// scriptedAnalyzer returns per-source anomalies or errors.
type scriptedAnalyzer struct {
	mu      sync.Mutex
	results map[string][]model.Anomaly
	errs    map[string]error
}

func (a *scriptedAnalyzer) Analyze(ctx context.Context, frames []model.Frame, sourceName string) ([]model.Anomaly, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.errs[sourceName]; err != nil {
		return nil, err
	}
	return a.results[sourceName], nil
}

func (a *scriptedAnalyzer) script(sourceName string, anomalies []model.Anomaly) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.results == nil {
		a.results = make(map[string][]model.Anomaly)
	}
	a.results[sourceName] = anomalies
}

func (a *scriptedAnalyzer) scriptErr(sourceName string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.errs == nil {
		a.errs = make(map[string]error)
	}
	a.errs[sourceName] = err
}

// setupApp creates a Fiber app wired like main.go but with a stub
// sampler and a scripted analyzer instead of ffmpeg and Gemini.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.NewLocalStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("failed to create preview store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	analyzer := &scriptedAnalyzer{}
	q := queue.New(passSampler{}, analyzer, store, nil, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go q.Run(ctx)
	t.Cleanup(func() {
		cancel()
		q.Close()
	})

	cfg := &config.Config{
		Sampler: config.SamplerConfig{FrameCount: 8},
		Upload:  config.UploadConfig{MaxSizeMB: 50},
		Overlay: config.OverlayConfig{LeadSeconds: 0.5, LagSeconds: 1.5},
	}

	validate := validator.New()
	analysisHandler := handler.NewAnalysisHandler(q, validate, cfg)
	videoHandler := handler.NewVideoHandler(q)

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": time.Now().Unix()})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"gemini": false,
			},
			"busy": q.IsBusy(),
		})
	})

	api := app.Group("/api")
	analysis := api.Group("/analysis")
	analysis.Post("/videos", analysisHandler.Videos)
	analysis.Post("/url", analysisHandler.URL)
	analysis.Get("/reports", analysisHandler.Reports)
	analysis.Get("/reports/:id", analysisHandler.Report)
	analysis.Get("/settings", analysisHandler.Settings)
	api.Get("/videos/:id", videoHandler.Serve)

	return &testApp{app: app, queue: q, analyzer: analyzer}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// uploadVideos performs a multipart upload of named fake video files.
func uploadVideos(t *testing.T, app *fiber.App, names ...string) (*http.Response, error) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, name := range names {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="files"; filename="`+name+`"`)
		header.Set("Content-Type", "video/mp4")
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("failed to create form part: %v", err)
		}
		if _, err := part.Write([]byte("fake-video-bytes")); err != nil {
			t.Fatalf("failed to write form part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, "/api/analysis/videos", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// fetchReports returns the decoded reports list and busy flag.
func fetchReports(t *testing.T, app *fiber.App) ([]map[string]interface{}, bool) {
	t.Helper()

	resp, err := doRequest(app, http.MethodGet, "/api/analysis/reports", "", nil)
	if err != nil {
		t.Fatalf("reports request failed: %v", err)
	}
	body := parseJSON(t, resp)

	raw, ok := body["reports"].([]interface{})
	if !ok {
		t.Fatalf("expected 'reports' array, got %v", body["reports"])
	}
	reports := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		reports = append(reports, r.(map[string]interface{}))
	}
	busy, _ := body["busy"].(bool)
	return reports, busy
}

// waitForStatus polls the reports endpoint until the keyed record
// reaches the wanted status.
func waitForStatus(t *testing.T, app *fiber.App, key, status string) map[string]interface{} {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		reports, _ := fetchReports(t, app)
		for _, rep := range reports {
			if rep["key"] == key && rep["status"] == status {
				return rep
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("record %q never reached status %q", key, status)
	return nil
}
