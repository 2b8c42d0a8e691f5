package otlphttp

import (
	"fmt"
	"net/url"
	"time"
)

const (
	// DefaultEndpoint is the conventional local OTLP/HTTP listener.
	DefaultEndpoint = "http://localhost:4318"

	tracesPath = "/v1/traces"
)

// Config defines settings for the OTLP/HTTP exporter.
type Config struct {
	// Endpoint is the collector base URL; the traces path is appended.
	// Defaults to DefaultEndpoint when empty.
	Endpoint string

	// Timeout bounds each export request, retries included.
	Timeout time.Duration

	// RetryCount is the number of retries after a failed attempt.
	RetryCount int

	// Headers are added to every export request, e.g. auth tokens.
	Headers map[string]string
}

// Validate checks if the exporter configuration is usable.
func (cfg *Config) Validate() error {
	if cfg.Endpoint != "" {
		u, err := url.Parse(cfg.Endpoint)
		if err != nil {
			return fmt.Errorf("invalid endpoint: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("endpoint scheme must be http or https, got %q", u.Scheme)
		}
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", cfg.Timeout)
	}
	if cfg.RetryCount < 0 {
		return fmt.Errorf("retry_count must not be negative, got %d", cfg.RetryCount)
	}
	return nil
}

func (cfg *Config) endpoint() string {
	if cfg.Endpoint == "" {
		return DefaultEndpoint
	}
	return cfg.Endpoint
}
