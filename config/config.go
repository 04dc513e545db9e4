package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every runtime setting of synscope. Values come from the
// environment (optionally seeded from a .env file); the CLI overrides the scan
// settings with flags.
type Config struct {
	RedisAddr       string
	HTTPAddr        string
	APIKey          string
	APIWorkers      int
	RateLimit       int64
	RateLimitWindow time.Duration

	ScanTimeout  time.Duration
	ScanWorkers  int
	Capture      string
	ServicesFile string

	GeoAPIURL   string
	HostInfoTTL time.Duration
	LogLevel    string
}

const (
	// MaxTimeout bounds the per-probe timeout.
	MaxTimeout = 100 * time.Second
	// DefaultTimeout is the per-probe timeout used when nothing is configured.
	DefaultTimeout = 100 * time.Millisecond
)

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		RedisAddr:    getenv("REDIS_ADDR", "localhost:6379"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		APIKey:       os.Getenv("API_KEY"),
		Capture:      getenv("SCAN_CAPTURE", "raw"),
		ServicesFile: os.Getenv("SCAN_SERVICES_FILE"),
		GeoAPIURL:    getenv("GEO_API_URL", "http://ip-api.com"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.APIWorkers, err = getenvInt("API_WORKERS", 5); err != nil {
		return nil, err
	}
	if cfg.ScanWorkers, err = getenvInt("SCAN_WORKERS", 50); err != nil {
		return nil, err
	}
	limit, err := getenvInt("RATE_LIMIT", 60)
	if err != nil {
		return nil, err
	}
	cfg.RateLimit = int64(limit)
	if cfg.RateLimitWindow, err = getenvDuration("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	if cfg.HostInfoTTL, err = getenvDuration("HOSTINFO_CACHE_TTL", time.Hour); err != nil {
		return nil, err
	}

	seconds, err := getenvFloat("SCAN_TIMEOUT", DefaultTimeout.Seconds())
	if err != nil {
		return nil, err
	}
	if cfg.ScanTimeout, err = TimeoutFromSeconds(seconds); err != nil {
		return nil, err
	}

	return cfg, nil
}

// TimeoutFromSeconds converts a fractional number of seconds into a probe
// timeout, rejecting values outside [0, MaxTimeout].
func TimeoutFromSeconds(seconds float64) (time.Duration, error) {
	if seconds < 0 || seconds > MaxTimeout.Seconds() {
		return 0, fmt.Errorf("timeout must be within 0-%v seconds, got %v", MaxTimeout.Seconds(), seconds)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s is not a number: %s", key, raw)
	}
	return v, nil
}

func getenvFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s is not a number: %s", key, raw)
	}
	return v, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s is not a duration: %s", key, raw)
	}
	return v, nil
}
