package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// WithEnv reads the environment into the config. Unset variables take
// their documented defaults:
//
//	PORT, ENVIRONMENT                         server
//	DATABASE_URL, DB_SCHEMA                   memory | postgres://... | sqlite://path
//	STORAGE_URL, S3_*                         memory:// | file:///path | s3://bucket
//	PRESIGN_EXPIRES, PUBLIC_ASSET_BASE_URL    uploads
//	UPLOAD_SIGNING_KEY, AUTH_JWT_SECRET       secrets
//	SIMILARITY_THRESHOLD                      smart save routing
//	AUTOSAVE_DELAY, SNAPSHOT_DELAY            autosave debounce
//	GC_SCHEDULE, GC_BATCH_SIZE                asset garbage collection
//	REDIS_URL, CACHE_TTL                      published view cache
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return nil
	}
}

// WithDotEnv loads .env.local and .env when present before WithEnv runs.
// Variables already set in the process environment win.
func WithDotEnv(files ...string) Option {
	if len(files) == 0 {
		files = []string{".env.local", ".env"}
	}
	return func(c *ServerConfig) error {
		var found []string
		for _, f := range files {
			if _, err := os.Stat(f); err == nil {
				found = append(found, f)
			}
		}
		if len(found) == 0 {
			return nil
		}
		if err := godotenv.Load(found...); err != nil {
			return fmt.Errorf("failed to load %v: %w", found, err)
		}
		return nil
	}
}

// Usage returns a description of every supported environment variable.
func Usage() string {
	var cfg ServerConfig
	usage, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return usage
}
