package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	pkgconfig "contentpipe/internal/pkg/config"
)

// CMSConfig configures internal/cms.Client: collaborator_base_url and
// collaborator_service_token from spec.md §6. These two have no safe
// default (an empty base URL or token means "talk to nothing"), so
// loadCMSConfig returns an error rather than falling back, matching the
// ConfigError taxonomy's "fail fast at startup" rule.
type CMSConfig struct {
	BaseURL      string
	ServiceToken string
	ServiceName  string
	Timeout      time.Duration
}

func loadCMSConfig(logger *slog.Logger, metrics *pkgconfig.ConfigMetrics) (CMSConfig, error) {
	baseURL := os.Getenv("CMS_BASE_URL")
	if baseURL == "" {
		baseURL = os.Getenv("COLLABORATOR_BASE_URL")
	}
	if baseURL == "" {
		return CMSConfig{}, fmt.Errorf("CMS_BASE_URL (collaborator_base_url) is required")
	}

	token := os.Getenv("CMS_SERVICE_TOKEN")
	if token == "" {
		token = os.Getenv("COLLABORATOR_SERVICE_TOKEN")
	}
	if token == "" {
		return CMSConfig{}, fmt.Errorf("CMS_SERVICE_TOKEN (collaborator_service_token) is required")
	}

	result := pkgconfig.LoadEnvDuration("CMS_TIMEOUT", 10*time.Second, durationInRange(time.Second, 2*time.Minute))
	timeout := result.Value.(time.Duration)
	if result.FallbackApplied {
		warnFallback(logger, metrics, "cms_timeout", result.Warnings)
	}

	return CMSConfig{
		BaseURL:      baseURL,
		ServiceToken: token,
		ServiceName:  pkgconfig.LoadEnvString("CMS_SERVICE_NAME", "contentpipe-worker"),
		Timeout:      timeout,
	}, nil
}
