// Package config centralises environment configuration for the service.
// Only cmd/server imports it; every other package receives its own small
// config struct built here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Brownie44l1/clip-api/internal/logger"
	"github.com/Brownie44l1/clip-api/internal/metrics"
	"github.com/Brownie44l1/clip-api/internal/tracer"
)

// ServiceName identifies the service in logs, metrics and traces.
const ServiceName = "clip-encoder"

// Version is the service version reported by /health. Overridden at build
// time with -ldflags "-X github.com/Brownie44l1/clip-api/internal/config.Version=...".
var Version = "1.0.0"

// Config holds every runtime option the server needs.
type Config struct {
	// Network
	Port string

	// Model
	ModelPath    string
	MetadataPath string
	OrtLibPath   string
	Device       string

	// Request handling
	RequestTimeout          time.Duration
	ReadTimeout             time.Duration
	WriteTimeout            time.Duration
	MaxConcurrentInferences int
	CORSAllowOrigin         string

	// Observability
	LogLevel       string
	MetricsEnabled bool
	MetricsAddress string
	TracingEnabled bool
	AppEnv         string
}

// Load reads an optional .env file and then the environment. Malformed values
// are reported as errors so a misconfigured process never starts serving.
func Load() (Config, error) {
	// no-op when .env is absent
	_ = godotenv.Load()

	modelPath := getEnv("MODEL_PATH", filepath.Join("models", "clip-vit-b32-visual.onnx"))

	cfg := Config{
		Port:            getEnv("PORT", "8000"),
		ModelPath:       modelPath,
		MetadataPath:    getEnv("MODEL_METADATA_PATH", filepath.Join(filepath.Dir(modelPath), "model_metadata.json")),
		OrtLibPath:      os.Getenv("ONNXRUNTIME_LIB"),
		Device:          strings.ToLower(getEnv("DEVICE", "auto")),
		CORSAllowOrigin: getEnv("CORS_ALLOW_ORIGIN", "*"),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", logger.Info)),
		MetricsAddress:  getEnv("METRICS_ADDRESS", metrics.DefaultMetricsAddress),
		AppEnv:          getEnv("APP_ENV", "production"),
	}

	var err error
	if cfg.RequestTimeout, err = getDuration("REQUEST_TIMEOUT_SEC", 60); err != nil {
		return Config{}, err
	}
	if cfg.ReadTimeout, err = getDuration("READ_TIMEOUT_SEC", 30); err != nil {
		return Config{}, err
	}
	if cfg.WriteTimeout, err = getDuration("WRITE_TIMEOUT_SEC", 90); err != nil {
		return Config{}, err
	}
	if cfg.MaxConcurrentInferences, err = getInt("MAX_CONCURRENT_INFERENCES", runtime.NumCPU()); err != nil {
		return Config{}, err
	}
	if cfg.MetricsEnabled, err = getBool("METRICS_ENABLED", true); err != nil {
		return Config{}, err
	}
	if cfg.TracingEnabled, err = getBool("TRACING_ENABLED", false); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port)
	}
	switch c.Device {
	case "auto", "cpu", "cuda":
	default:
		return fmt.Errorf("DEVICE must be one of auto, cpu, cuda, got %q", c.Device)
	}
	if c.MaxConcurrentInferences < 1 {
		return fmt.Errorf("MAX_CONCURRENT_INFERENCES must be at least 1, got %d", c.MaxConcurrentInferences)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_SEC must be positive")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("READ_TIMEOUT_SEC must be positive")
	}
	// the write deadline covers the whole handler, so it must outlast the
	// request timeout or the timeout response is never delivered
	if c.WriteTimeout <= c.RequestTimeout {
		return fmt.Errorf("WRITE_TIMEOUT_SEC (%s) must be greater than REQUEST_TIMEOUT_SEC (%s)", c.WriteTimeout, c.RequestTimeout)
	}
	if c.ModelPath == "" {
		return fmt.Errorf("MODEL_PATH must not be empty")
	}
	return nil
}

// Addr is the listen address of the API server.
func (c Config) Addr() string {
	return ":" + c.Port
}

// Logger returns the logger configuration.
func (c Config) Logger() logger.Config {
	return logger.Config{Level: c.LogLevel, ServiceName: ServiceName}
}

// Metrics returns the metrics configuration.
func (c Config) Metrics() metrics.Config {
	return metrics.Config{
		Enabled:                 c.MetricsEnabled,
		Address:                 c.MetricsAddress,
		EnableDefaultCollectors: true,
		ServiceName:             ServiceName,
	}
}

// Tracer returns the tracing configuration.
func (c Config) Tracer() tracer.Config {
	return tracer.Config{ServiceName: ServiceName, AppEnv: c.AppEnv, EnableExport: c.TracingEnabled}
}

// getEnv returns env[key] if set, otherwise defaultVal.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getDuration reads an integer number of seconds.
func getDuration(key string, defaultSec int) (time.Duration, error) {
	sec, err := getInt(key, defaultSec)
	if err != nil {
		return 0, err
	}
	return time.Duration(sec) * time.Second, nil
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return n, nil
}

func getBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return b, nil
}
