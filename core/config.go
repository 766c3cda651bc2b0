package core

import (
	"fmt"
	"net/url"
	"strings"
)

// Config is the explicit per-service configuration. It is passed into
// constructors as a value; nothing here is process-wide state, so concurrent
// services and tests can each carry their own copy.
type Config struct {
	ServiceName       string   `koanf:"service_name" mapstructure:"service_name"`
	BaseURL           string   `koanf:"base_url" mapstructure:"base_url"`
	Country           string   `koanf:"country" mapstructure:"country"`
	DocumentType      string   `koanf:"document_type" mapstructure:"document_type"`
	Threshold         float64  `koanf:"threshold" mapstructure:"threshold"`
	TimeoutSeconds    int      `koanf:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxCaptureRetries int      `koanf:"max_capture_retries" mapstructure:"max_capture_retries"`
	Subvalidations    []string `koanf:"subvalidations" mapstructure:"subvalidations"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:       "verify",
		Threshold:         0.85,
		TimeoutSeconds:    60,
		MaxCaptureRetries: 2,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if trimmed := strings.TrimSpace(c.BaseURL); trimmed != "" {
		parsed, err := url.Parse(trimmed)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("core: base_url %q is not an absolute url", c.BaseURL)
		}
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("core: threshold must be within [0, 1], got %v", c.Threshold)
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("core: timeout_seconds must not be negative")
	}
	if c.MaxCaptureRetries < 0 {
		return fmt.Errorf("core: max_capture_retries must not be negative")
	}
	return nil
}
