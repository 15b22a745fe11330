package config

import (
	"fmt"
	"time"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabaseURL selects the repository backend: "memory", "postgres://..." or "sqlite://path".
func WithDatabaseURL(databaseURL string) Option {
	return func(c *ServerConfig) error {
		c.DatabaseURL = databaseURL
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		if schema == "" {
			return fmt.Errorf("database schema cannot be empty")
		}
		c.DBSchema = schema
		return nil
	}
}

// WithStorageURL selects the blob store: "memory://", "file:///path" or "s3://bucket".
func WithStorageURL(storageURL string) Option {
	return func(c *ServerConfig) error {
		c.StorageURL = storageURL
		return nil
	}
}

// WithS3Endpoint points the S3 client at a compatible endpoint such as MinIO.
func WithS3Endpoint(endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		c.S3.Endpoint = endpoint
		c.S3.UsePathStyle = usePathStyle
		return nil
	}
}

// WithS3Credentials sets static S3 credentials.
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		if (accessKeyID == "") != (secretAccessKey == "") {
			return fmt.Errorf("both access key id and secret access key must be set")
		}
		c.S3.AccessKeyID = accessKeyID
		c.S3.SecretAccessKey = secretAccessKey
		return nil
	}
}

// WithSecrets sets the upload signing key and the admin JWT secret.
func WithSecrets(uploadSigningKey, jwtSecret string) Option {
	return func(c *ServerConfig) error {
		c.UploadSigningKey = uploadSigningKey
		c.AuthJWTSecret = jwtSecret
		return nil
	}
}

// WithSimilarityThreshold sets the smart save threshold.
func WithSimilarityThreshold(threshold float64) Option {
	return func(c *ServerConfig) error {
		c.SimilarityThreshold = threshold
		return nil
	}
}

// WithAutosaveDelays sets the content and snapshot debounce delays.
func WithAutosaveDelays(content, snapshot time.Duration) Option {
	return func(c *ServerConfig) error {
		c.AutosaveDelay = content
		c.SnapshotDelay = snapshot
		return nil
	}
}

// WithGC sets the sweep schedule and batch size.
func WithGC(schedule string, batchSize int) Option {
	return func(c *ServerConfig) error {
		c.GCSchedule = schedule
		c.GCBatchSize = batchSize
		return nil
	}
}

// WithRedis enables the Redis published cache.
func WithRedis(redisURL string, ttl time.Duration) Option {
	return func(c *ServerConfig) error {
		c.RedisURL = redisURL
		if ttl > 0 {
			c.CacheTTL = ttl
		}
		return nil
	}
}
