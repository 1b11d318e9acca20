package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  int
	Password              string // empty disables the login middleware
	ModelPath             string
	NamesPath             string // optional, one class name per line
	ModelBackend          string // cpu or cuda
	InputSize             int    // square network input, 640 for YOLOv8
	ConfidenceThreshold   float64
	TrackerIoU            float64
	TrackerMaxAge         int // frames a lost track is kept before its id is retired
	WorkDirectory         string
	DatabasePath          string
	LogDirectory          string
	StaticDirectory       string
	ProcessingWorkers     int
	QueueSize             int
	JobTimeout            time.Duration
	ArtifactTTL           time.Duration
	ArtifactSweepInterval time.Duration
	MaxUploadSize         int64 // MB
	Transcode             bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:                  getEnvAsInt("PORT", 8080),
		Password:              getEnv("PASSWORD", ""),
		ModelPath:             getEnv("MODEL_PATH", filepath.Join(".", "model", "best.onnx")),
		NamesPath:             getEnv("NAMES_PATH", ""),
		ModelBackend:          strings.ToLower(getEnv("MODEL_BACKEND", "cpu")),
		InputSize:             getEnvAsInt("MODEL_INPUT_SIZE", 640),
		ConfidenceThreshold:   getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.25),
		TrackerIoU:            getEnvAsFloat("TRACKER_IOU", 0.3),
		TrackerMaxAge:         getEnvAsInt("TRACKER_MAX_AGE", 30),
		WorkDirectory:         getEnv("WORK_DIR", filepath.Join(".", "runs")),
		DatabasePath:          getEnv("DB_PATH", filepath.Join(".", "data", "results.db")),
		LogDirectory:          getEnv("LOG_DIR", filepath.Join(".", "logs")),
		StaticDirectory:       getEnv("STATIC_DIR", filepath.Join(".", "static")),
		ProcessingWorkers:     getEnvAsInt("PROCESSING_WORKERS", 2),
		QueueSize:             getEnvAsInt("QUEUE_SIZE", 16),
		JobTimeout:            getEnvAsDuration("JOB_TIMEOUT", 10*time.Minute),
		ArtifactTTL:           getEnvAsDuration("ARTIFACT_TTL", time.Hour),
		ArtifactSweepInterval: getEnvAsDuration("ARTIFACT_SWEEP_INTERVAL", 5*time.Minute),
		MaxUploadSize:         getEnvAsInt64("MAX_UPLOAD_SIZE", 512),
		Transcode:             getEnvAsBool("TRANSCODE", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s", "5m") or plain seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
