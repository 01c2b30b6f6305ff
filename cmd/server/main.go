package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guardianai/api/internal/client"
	"github.com/guardianai/api/internal/config"
	"github.com/guardianai/api/internal/handler"
	"github.com/guardianai/api/internal/metrics"
	"github.com/guardianai/api/internal/queue"
	"github.com/guardianai/api/internal/sampler"
	"github.com/guardianai/api/internal/storage"
	ws "github.com/guardianai/api/internal/websocket"
	"github.com/guardianai/api/pkg/response"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Configure logger
	slogLevel := slog.LevelInfo
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	}
	slogger := slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slogLevel,
			TimeFormat: "15:04:05",
		}),
	)

	// Initialize preview storage (session-scoped, removed on shutdown)
	store, err := storage.NewLocalStore(cfg.Storage.Dir, slogger)
	if err != nil {
		log.Fatalf("Failed to initialize preview storage: %v", err)
	}

	// Initialize metrics registry
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub(slogger)
	go hub.Run()

	// Initialize external client and sampler
	geminiClient := client.NewGeminiClient(&cfg.Gemini, slogger)
	if !geminiClient.IsConfigured() {
		slogger.Warn("gemini api key not configured, analyses return mock results")
	}
	frameSampler := sampler.NewFFmpegSampler(&cfg.Sampler, slogger)

	// Initialize processing queue and start the driver
	q := queue.New(frameSampler, geminiClient, store, hub, m, slogger)
	driverCtx, stopDriver := context.WithCancel(context.Background())
	go q.Run(driverCtx)

	// Initialize handlers
	analysisHandler := handler.NewAnalysisHandler(q, validate, cfg)
	videoHandler := handler.NewVideoHandler(q)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    cfg.Upload.MaxSizeMB * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams}\n"
		slogger.Debug("debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"gemini": geminiClient.IsConfigured(),
			},
			"busy": q.IsBusy(),
		})
	})

	// Prometheus metrics
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// API routes
	api := app.Group("/api")

	analysis := api.Group("/analysis")
	analysis.Post("/videos", analysisHandler.Videos)
	analysis.Post("/url", analysisHandler.URL)
	analysis.Get("/reports", analysisHandler.Reports)
	analysis.Get("/reports/:id", analysisHandler.Report)
	analysis.Get("/settings", analysisHandler.Settings)

	api.Get("/videos/:id", videoHandler.Serve)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/reports", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c)
	}))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slogger.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			slogger.Error("server shutdown error", "error", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	slogger.Info("server starting", "addr", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	// Teardown: stop the driver, then release every preview handle.
	stopDriver()
	q.Close()
	if err := store.Close(); err != nil {
		slogger.Error("preview store cleanup error", "error", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(response.ErrorResponse{
		Error: response.ErrorDetail{
			Code:    response.CodeServiceError,
			Message: message,
		},
	})
}
