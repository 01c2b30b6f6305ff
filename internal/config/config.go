package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server  ServerConfig
	Gemini  GeminiConfig
	Sampler SamplerConfig
	Storage StorageConfig
	Upload  UploadConfig
	Overlay OverlayConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout int // seconds
}

type SamplerConfig struct {
	FrameCount  int // frames extracted per video
	MaxEdge     int // longest edge of an extracted frame, pixels
	JPEGQuality int // ffmpeg -q:v, 2 (best) .. 31 (worst)
	FFmpegPath  string
	FFprobePath string
}

type StorageConfig struct {
	Dir string // directory for uploaded preview media
}

type UploadConfig struct {
	MaxSizeMB int
}

// OverlayConfig is the bounding-box display window around an anomaly
// timestamp, surfaced to the UI via the settings endpoint.
type OverlayConfig struct {
	LeadSeconds float64 // show boxes this long before the timestamp
	LagSeconds  float64 // keep boxes this long after the timestamp
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("GEMINI_API_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	_ = viper.BindEnv("gemini.base_url", "GEMINI_BASE_URL")
	_ = viper.BindEnv("gemini.model", "GEMINI_MODEL")
	_ = viper.BindEnv("gemini.timeout", "GEMINI_TIMEOUT")
	_ = viper.BindEnv("sampler.frame_count", "SAMPLER_FRAME_COUNT")
	_ = viper.BindEnv("sampler.max_edge", "SAMPLER_MAX_EDGE")
	_ = viper.BindEnv("sampler.jpeg_quality", "SAMPLER_JPEG_QUALITY")
	_ = viper.BindEnv("sampler.ffmpeg_path", "FFMPEG_PATH")
	_ = viper.BindEnv("sampler.ffprobe_path", "FFPROBE_PATH")
	_ = viper.BindEnv("storage.dir", "STORAGE_DIR")
	_ = viper.BindEnv("upload.max_size_mb", "UPLOAD_MAX_SIZE_MB")
	_ = viper.BindEnv("overlay.lead_seconds", "OVERLAY_LEAD_SECONDS")
	_ = viper.BindEnv("overlay.lag_seconds", "OVERLAY_LAG_SECONDS")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")

	// Gemini defaults
	viper.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	viper.SetDefault("gemini.model", "gemini-2.5-flash")
	viper.SetDefault("gemini.timeout", 120)

	// Sampler defaults
	viper.SetDefault("sampler.frame_count", 8)
	viper.SetDefault("sampler.max_edge", 512)
	viper.SetDefault("sampler.jpeg_quality", 6)
	viper.SetDefault("sampler.ffmpeg_path", "ffmpeg")
	viper.SetDefault("sampler.ffprobe_path", "ffprobe")

	// Storage defaults
	viper.SetDefault("storage.dir", "")

	// Upload defaults
	viper.SetDefault("upload.max_size_mb", 200)

	// Overlay defaults
	viper.SetDefault("overlay.lead_seconds", 0.5)
	viper.SetDefault("overlay.lag_seconds", 1.5)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Gemini: GeminiConfig{
			APIKey:  viper.GetString("gemini.api_key"),
			BaseURL: viper.GetString("gemini.base_url"),
			Model:   viper.GetString("gemini.model"),
			Timeout: viper.GetInt("gemini.timeout"),
		},
		Sampler: SamplerConfig{
			FrameCount:  viper.GetInt("sampler.frame_count"),
			MaxEdge:     viper.GetInt("sampler.max_edge"),
			JPEGQuality: viper.GetInt("sampler.jpeg_quality"),
			FFmpegPath:  viper.GetString("sampler.ffmpeg_path"),
			FFprobePath: viper.GetString("sampler.ffprobe_path"),
		},
		Storage: StorageConfig{
			Dir: viper.GetString("storage.dir"),
		},
		Upload: UploadConfig{
			MaxSizeMB: viper.GetInt("upload.max_size_mb"),
		},
		Overlay: OverlayConfig{
			LeadSeconds: viper.GetFloat64("overlay.lead_seconds"),
			LagSeconds:  viper.GetFloat64("overlay.lag_seconds"),
		},
	}

	return cfg, nil
}
