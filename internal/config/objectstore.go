package config

import (
	"log/slog"
	"os"

	pkgconfig "contentpipe/internal/pkg/config"
)

// ObjectStoreConfig configures internal/objectstore.Client (spec.md §6
// "Object store" / §6 config keys object_store_endpoint, bucket,
// access_key, secret_key, public_url, region).
type ObjectStoreConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	PublicURL string
	Region    string
}

func loadObjectStoreConfig(logger *slog.Logger, metrics *pkgconfig.ConfigMetrics) ObjectStoreConfig {
	return ObjectStoreConfig{
		Endpoint:  os.Getenv("OBJECT_STORE_ENDPOINT"),
		Bucket:    pkgconfig.LoadEnvString("OBJECT_STORE_BUCKET", "content"),
		AccessKey: os.Getenv("OBJECT_STORE_ACCESS_KEY"),
		SecretKey: os.Getenv("OBJECT_STORE_SECRET_KEY"),
		PublicURL: os.Getenv("OBJECT_STORE_PUBLIC_URL"),
		Region:    pkgconfig.LoadEnvString("OBJECT_STORE_REGION", "us-east-1"),
	}
}
