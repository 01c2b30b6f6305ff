package handler

import (
	"fmt"
	"mime/multipart"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/guardianai/api/internal/config"
	"github.com/guardianai/api/internal/model"
	"github.com/guardianai/api/internal/queue"
	"github.com/guardianai/api/pkg/response"
)

// youtubeRe accepts the same URL shapes as the submission UI. Anything
// else is rejected before a record exists.
var youtubeRe = regexp.MustCompile(`^(https?://)?(www\.)?(youtube\.com|youtu\.?be)/.+$`)

// AnalyzeURLRequest is the body of POST /api/analysis/url.
type AnalyzeURLRequest struct {
	URL string `json:"url" validate:"required"`
}

// AnalysisHandler exposes the processing queue over HTTP.
type AnalysisHandler struct {
	queue         *queue.Queue
	validator     *validator.Validate
	maxUploadSize int64
	frameCount    int
	overlay       config.OverlayConfig
}

func NewAnalysisHandler(q *queue.Queue, v *validator.Validate, cfg *config.Config) *AnalysisHandler {
	return &AnalysisHandler{
		queue:         q,
		validator:     v,
		maxUploadSize: int64(cfg.Upload.MaxSizeMB) * 1024 * 1024,
		frameCount:    cfg.Sampler.FrameCount,
		overlay:       cfg.Overlay,
	}
}

// Videos handles POST /api/analysis/videos: multipart upload of one or
// more video files, each becoming a pending record. Duplicates of keys
// already in the result set are silently dropped.
func (h *AnalysisHandler) Videos(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return response.ValidationError(c, "Multipart form is required", nil)
	}

	files := form.File["files"]
	if len(files) == 0 {
		return response.ValidationError(c, "At least one file is required", nil)
	}

	var subs []queue.Submission
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()

	for _, file := range files {
		if file.Size > h.maxUploadSize {
			return response.PayloadTooLarge(c,
				fmt.Sprintf("File %q exceeds the upload limit", file.Filename),
				map[string]interface{}{
					"maxSize":  h.maxUploadSize,
					"fileSize": file.Size,
				})
		}

		contentType := file.Header.Get("Content-Type")
		if !validVideoTypes[contentType] {
			return response.ValidationError(c, "Invalid file type. Supported: MP4, WebM, QuickTime, Matroska, AVI",
				map[string]interface{}{
					"file":        file.Filename,
					"contentType": contentType,
				})
		}

		f, err := file.Open()
		if err != nil {
			return response.ServiceError(c, "Failed to open uploaded file")
		}
		opened = append(opened, f)

		subs = append(subs, queue.Submission{
			Key:         file.Filename,
			Source:      f,
			ContentType: contentType,
		})
	}

	accepted := h.queue.Submit(subs)
	if accepted == nil {
		accepted = []model.AnalysisRecord{}
	}

	return response.Accepted(c, fiber.Map{
		"accepted": accepted,
		"busy":     h.queue.IsBusy(),
	})
}

// URL handles POST /api/analysis/url: a single YouTube link. The video
// can't be fetched in-process, so a matching URL becomes an
// awaiting_upload record that the analyzer never sees.
func (h *AnalysisHandler) URL(c *fiber.Ctx) error {
	var req AnalyzeURLRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "url is required", nil)
	}

	if !youtubeRe.MatchString(req.URL) {
		return response.ValidationError(c, "Please enter a valid YouTube URL", nil)
	}

	accepted := h.queue.Submit([]queue.Submission{{Key: req.URL}})
	if accepted == nil {
		accepted = []model.AnalysisRecord{}
	}

	return response.Accepted(c, fiber.Map{
		"accepted": accepted,
		"busy":     h.queue.IsBusy(),
	})
}

// Reports handles GET /api/analysis/reports: the full result set,
// newest submission first, plus the busy hint for the upload surface.
func (h *AnalysisHandler) Reports(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{
		"reports": h.queue.Records(),
		"busy":    h.queue.IsBusy(),
	})
}

// Report handles GET /api/analysis/reports/:id.
func (h *AnalysisHandler) Report(c *fiber.Ctx) error {
	id := c.Params("id")
	rec, ok := h.queue.Record(id)
	if !ok {
		return response.NotFound(c, "Report not found")
	}
	return response.OK(c, rec)
}

// Settings handles GET /api/analysis/settings: sampling and overlay
// parameters the player needs for rendering findings.
func (h *AnalysisHandler) Settings(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{
		"frameCount": h.frameCount,
		"overlay": fiber.Map{
			"leadSeconds": h.overlay.LeadSeconds,
			"lagSeconds":  h.overlay.LagSeconds,
		},
	})
}

var validVideoTypes = map[string]bool{
	"video/mp4":        true,
	"video/webm":       true,
	"video/quicktime":  true,
	"video/x-matroska": true,
	"video/avi":        true,
	"video/x-msvideo":  true,
	"video/mpeg":       true,
}
