package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the router's process configuration. All of it comes from the
// environment; there is no file-based configuration channel.
type Config struct {
	// BackendIPs is the static set of backend addresses, in selection order.
	BackendIPs []string
	// MaxRequestsPerBackend is the soft cap on live sessions per backend.
	MaxRequestsPerBackend int
	// RedisURL is the coordination store URL, password in the user-info.
	RedisURL string
	// Port is the router's HTTP bind port.
	Port string
	// MappingTTL applies to the forward mapping and the liveness window.
	MappingTTL time.Duration
	// AllowOrigin is the comma-separated CORS allow-list; "*" allows any.
	AllowOrigin string
	// LogLevel is the zap level string.
	LogLevel string
}

// Load reads and validates the configuration from the environment.
// A .env file is loaded first if present; its absence is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        "8080",
		MappingTTL:  time.Hour,
		AllowOrigin: "*",
		LogLevel:    "info",
	}

	backendIPs, err := parseBackendIPs(os.Getenv("BACKEND_IPS"))
	if err != nil {
		return nil, err
	}
	cfg.BackendIPs = backendIPs

	maxStr := os.Getenv("MAX_REQUESTS_PER_BACKEND")
	if maxStr == "" {
		return nil, fmt.Errorf("MAX_REQUESTS_PER_BACKEND environment variable is not set")
	}
	cfg.MaxRequestsPerBackend, err = strconv.Atoi(maxStr)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_REQUESTS_PER_BACKEND value: %w", err)
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL environment variable is not set")
	}
	if _, err := url.Parse(cfg.RedisURL); err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	if ttlStr := os.Getenv("MAPPING_TTL_IN_S"); ttlStr != "" {
		ttlSecs, err := strconv.Atoi(ttlStr)
		if err != nil {
			return nil, fmt.Errorf("invalid MAPPING_TTL_IN_S value: %w", err)
		}
		cfg.MappingTTL = time.Duration(ttlSecs) * time.Second
	}

	if origin := os.Getenv("ALLOW_ORIGIN"); origin != "" {
		cfg.AllowOrigin = origin
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	return cfg, nil
}

func parseBackendIPs(raw string) ([]string, error) {
	if raw == "" {
		return nil, fmt.Errorf("BACKEND_IPS environment variable is not set")
	}

	parts := strings.Split(raw, ",")
	ips := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("BACKEND_IPS contains an empty entry: %q", raw)
		}
		ips = append(ips, p)
	}
	return ips, nil
}
