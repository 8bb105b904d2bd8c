package profile

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// Profile is configuration to start the conductor service.
type Profile struct {
	// Service configuration
	Mode    string // demo, dev, or prod
	Addr    string // HTTP bind address for metrics and health
	Port    int    // HTTP port
	Version string

	// Orchestration configuration
	MaxConcurrent       int     // Global permit pool size (0 = derive from host)
	ThreadPoolSize      int     // Dedicated pool size for compute-heavy tasks (0 = host CPUs)
	SequentialThreshold int     // Batch size at or below which auto mode runs sequentially
	CPUBoundFraction    float64 // cpu_bound share above which auto mode uses the thread pool
	DefaultTimeout      int     // Per-task timeout in seconds
	MinConfidence       float64 // Routing score below which the default worker is used
	DefaultWorker       string  // Worker receiving low-confidence tasks
	EnableRouteCache    bool    // Cache routing decisions by task text

	// Retry configuration
	RetryEnabled  bool
	RetryAttempts int // Total attempts including the first

	// Logging
	LogLevel string // debug, info, warn, error
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultFloat returns environment variable value as float or default value.
func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.Mode = getEnvOrDefault("CONDUCTOR_MODE", "demo")
	p.Addr = getEnvOrDefault("CONDUCTOR_ADDR", "")
	p.Port = getEnvOrDefaultInt("CONDUCTOR_PORT", 8230)

	p.MaxConcurrent = getEnvOrDefaultInt("CONDUCTOR_MAX_CONCURRENT", 0)
	p.ThreadPoolSize = getEnvOrDefaultInt("CONDUCTOR_THREAD_POOL_SIZE", 0)
	p.SequentialThreshold = getEnvOrDefaultInt("CONDUCTOR_SEQUENTIAL_THRESHOLD", 2)
	p.CPUBoundFraction = getEnvOrDefaultFloat("CONDUCTOR_CPU_BOUND_FRACTION", 0.5)
	p.DefaultTimeout = getEnvOrDefaultInt("CONDUCTOR_DEFAULT_TIMEOUT_SECONDS", 300)
	p.MinConfidence = getEnvOrDefaultFloat("CONDUCTOR_MIN_CONFIDENCE", 0.3)
	p.DefaultWorker = getEnvOrDefault("CONDUCTOR_DEFAULT_WORKER", "")
	p.EnableRouteCache = getEnvOrDefault("CONDUCTOR_ENABLE_ROUTE_CACHE", "false") == "true"

	p.RetryEnabled = getEnvOrDefault("CONDUCTOR_RETRY_ENABLED", "false") == "true"
	p.RetryAttempts = getEnvOrDefaultInt("CONDUCTOR_RETRY_ATTEMPTS", 3)

	p.LogLevel = getEnvOrDefault("CONDUCTOR_LOG_LEVEL", "info")
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Port < 0 || p.Port > 65535 {
		return errors.Errorf("invalid port %d", p.Port)
	}
	if p.MaxConcurrent < 0 {
		return errors.Errorf("max concurrent must not be negative, got %d", p.MaxConcurrent)
	}
	if p.SequentialThreshold < 0 {
		return errors.Errorf("sequential threshold must not be negative, got %d", p.SequentialThreshold)
	}
	if p.CPUBoundFraction < 0 || p.CPUBoundFraction > 1 {
		return errors.Errorf("cpu bound fraction must be in [0,1], got %f", p.CPUBoundFraction)
	}
	if p.DefaultTimeout <= 0 {
		return errors.Errorf("default timeout must be positive, got %d", p.DefaultTimeout)
	}
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return errors.Errorf("min confidence must be in [0,1], got %f", p.MinConfidence)
	}
	if p.RetryAttempts < 1 {
		p.RetryAttempts = 1
	}

	switch p.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		p.LogLevel = "info"
	}
	return nil
}
