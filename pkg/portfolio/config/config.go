package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Database kinds selected by DATABASE_URL.
const (
	DatabaseMemory   = "memory"
	DatabasePostgres = "postgres"
	DatabaseSQLite   = "sqlite"
)

// Storage kinds selected by STORAGE_URL.
const (
	StorageMemory = "memory"
	StorageFS     = "fs"
	StorageS3     = "s3"
)

const insecureDevKey = "dev-insecure-key-change-me-000000"

// ServerConfig represents configuration for the portfolio server and CLI.
type ServerConfig struct {
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"` // development, production, testing

	// DATABASE_URL is "memory", "postgres://..." or "sqlite://path".
	DatabaseURL string `env:"DATABASE_URL" env-default:"memory"`
	DBSchema    string `env:"DB_SCHEMA" env-default:"portfolio"`

	// STORAGE_URL is "memory://", "file:///path" or "s3://bucket".
	StorageURL string `env:"STORAGE_URL" env-default:"memory://"`
	S3         S3Config

	PresignExpires     time.Duration `env:"PRESIGN_EXPIRES" env-default:"15m"`
	PublicAssetBaseURL string        `env:"PUBLIC_ASSET_BASE_URL" env-default:"http://localhost:8080/media"`
	UploadSigningKey   string        `env:"UPLOAD_SIGNING_KEY" env-default:"dev-insecure-key-change-me-000000"`
	AuthJWTSecret      string        `env:"AUTH_JWT_SECRET" env-default:"dev-insecure-key-change-me-000000"`

	SimilarityThreshold float64       `env:"SIMILARITY_THRESHOLD" env-default:"0.85"`
	AutosaveDelay       time.Duration `env:"AUTOSAVE_DELAY" env-default:"1s"`
	SnapshotDelay       time.Duration `env:"SNAPSHOT_DELAY" env-default:"1500ms"`

	GCSchedule  string `env:"GC_SCHEDULE" env-default:"@every 10m"`
	GCBatchSize int    `env:"GC_BATCH_SIZE" env-default:"50"`

	// Empty RedisURL selects the in-process published cache.
	RedisURL string        `env:"REDIS_URL"`
	CacheTTL time.Duration `env:"CACHE_TTL" env-default:"5m"`
}

// S3Config holds the S3 settings used when STORAGE_URL is s3://.
type S3Config struct {
	Region          string `env:"S3_REGION" env-default:"us-east-1"`
	Endpoint        string `env:"S3_ENDPOINT"`
	AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
	UsePathStyle    bool   `env:"S3_USE_PATH_STYLE" env-default:"false"`
}

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:                "8080",
		Environment:         "development",
		DatabaseURL:         DatabaseMemory,
		DBSchema:            "portfolio",
		StorageURL:          "memory://",
		S3:                  S3Config{Region: "us-east-1"},
		PresignExpires:      15 * time.Minute,
		PublicAssetBaseURL:  "http://localhost:8080/media",
		UploadSigningKey:    insecureDevKey,
		AuthJWTSecret:       insecureDevKey,
		SimilarityThreshold: 0.85,
		AutosaveDelay:       time.Second,
		SnapshotDelay:       1500 * time.Millisecond,
		GCSchedule:          "@every 10m",
		GCBatchSize:         50,
		CacheTTL:            5 * time.Minute,
	}
}

// IsProduction reports whether Environment is "production".
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// DatabaseType derives the repository kind from DatabaseURL.
func (c *ServerConfig) DatabaseType() (string, error) {
	switch {
	case c.DatabaseURL == "" || c.DatabaseURL == DatabaseMemory:
		return DatabaseMemory, nil
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return DatabasePostgres, nil
	case strings.HasPrefix(c.DatabaseURL, "sqlite://"):
		if sqliteDSN(c.DatabaseURL) == "" {
			return "", errors.New("sqlite path cannot be empty in DATABASE_URL")
		}
		return DatabaseSQLite, nil
	default:
		return "", fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory', 'postgres://...' or 'sqlite://...')", c.DatabaseURL)
	}
}

func sqliteDSN(databaseURL string) string {
	return strings.TrimPrefix(databaseURL, "sqlite://")
}

// StorageTarget is the parsed form of StorageURL.
type StorageTarget struct {
	Type   string
	Path   string // fs base directory
	Bucket string // s3 bucket
}

// Storage parses StorageURL.
func (c *ServerConfig) Storage() (StorageTarget, error) {
	raw := c.StorageURL
	switch {
	case raw == "" || raw == "memory" || raw == "memory://":
		return StorageTarget{Type: StorageMemory}, nil
	case strings.HasPrefix(raw, "file://"):
		path := strings.TrimPrefix(raw, "file://")
		if path == "" {
			return StorageTarget{}, errors.New("filesystem path cannot be empty in STORAGE_URL")
		}
		return StorageTarget{Type: StorageFS, Path: path}, nil
	case strings.HasPrefix(raw, "s3://"):
		u, err := url.Parse(raw)
		if err != nil {
			return StorageTarget{}, fmt.Errorf("invalid STORAGE_URL: %w", err)
		}
		if u.Host == "" {
			return StorageTarget{}, errors.New("S3 bucket name cannot be empty in STORAGE_URL")
		}
		return StorageTarget{Type: StorageS3, Bucket: u.Host}, nil
	default:
		return StorageTarget{}, fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", raw)
	}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if _, err := c.DatabaseType(); err != nil {
		return err
	}
	if _, err := c.Storage(); err != nil {
		return err
	}
	if _, err := url.ParseRequestURI(c.PublicAssetBaseURL); err != nil {
		return fmt.Errorf("invalid PUBLIC_ASSET_BASE_URL: %w", err)
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be within (0, 1], got %v", c.SimilarityThreshold)
	}
	if c.AutosaveDelay <= 0 || c.SnapshotDelay <= 0 {
		return errors.New("autosave and snapshot delays must be positive")
	}
	if c.PresignExpires <= 0 {
		return errors.New("presign expiration must be positive")
	}
	if c.GCBatchSize <= 0 {
		return errors.New("gc batch size must be positive")
	}
	if _, err := cron.ParseStandard(c.GCSchedule); err != nil {
		return fmt.Errorf("invalid GC_SCHEDULE %q: %w", c.GCSchedule, err)
	}
	if c.AuthJWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is required")
	}
	if c.UploadSigningKey == "" {
		return errors.New("UPLOAD_SIGNING_KEY is required")
	}
	if c.IsProduction() {
		if c.AuthJWTSecret == insecureDevKey || c.UploadSigningKey == insecureDevKey {
			return errors.New("AUTH_JWT_SECRET and UPLOAD_SIGNING_KEY must be set in production")
		}
	}
	return nil
}
