package config

import (
	"log/slog"
	"os"
	"time"

	pkgconfig "contentpipe/internal/pkg/config"
)

// AdminConfig configures cmd/admin: its listen port and the static
// bearer token operators must present (SPEC_FULL.md §1.1's "single-
// operator tooling behind a static bearer token", mirroring the
// collaborator auth scheme of spec.md §6 rather than a
// multi-user JWT stack, which has no fit here). An empty token disables
// auth entirely, which is only acceptable for local development — a
// warning is logged once at startup so that's never silently true in a
// deployed environment.
type AdminConfig struct {
	Port           int
	BearerToken    string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
}

func loadAdminConfig(logger *slog.Logger, metrics *pkgconfig.ConfigMetrics) AdminConfig {
	load := func(field, env string, def, min, max int) int {
		r := pkgconfig.LoadEnvInt(env, def, intInRange(min, max))
		if r.FallbackApplied {
			warnFallback(logger, metrics, field, r.Warnings)
		}
		return r.Value.(int)
	}

	port := load("admin_port", "ADMIN_PORT", 9090, 1024, 65535)
	token := os.Getenv("ADMIN_BEARER_TOKEN")
	if token == "" {
		logger.Warn("ADMIN_BEARER_TOKEN not set, admin API auth is disabled")
	}

	readTimeout := pkgconfig.LoadEnvDuration("ADMIN_READ_TIMEOUT", 5*time.Second, durationInRange(time.Second, time.Minute))
	if readTimeout.FallbackApplied {
		warnFallback(logger, metrics, "admin_read_timeout", readTimeout.Warnings)
	}
	writeTimeout := pkgconfig.LoadEnvDuration("ADMIN_WRITE_TIMEOUT", 10*time.Second, durationInRange(time.Second, time.Minute))
	if writeTimeout.FallbackApplied {
		warnFallback(logger, metrics, "admin_write_timeout", writeTimeout.Warnings)
	}
	requestTimeout := pkgconfig.LoadEnvDuration("ADMIN_REQUEST_TIMEOUT", 8*time.Second, durationInRange(time.Second, time.Minute))
	if requestTimeout.FallbackApplied {
		warnFallback(logger, metrics, "admin_request_timeout", requestTimeout.Warnings)
	}

	return AdminConfig{
		Port:           port,
		BearerToken:    token,
		ReadTimeout:    readTimeout.Value.(time.Duration),
		WriteTimeout:   writeTimeout.Value.(time.Duration),
		RequestTimeout: requestTimeout.Value.(time.Duration),
	}
}
