package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
	"github.com/tendant/simple-portfolio/pkg/portfolio/assetref"
	"github.com/tendant/simple-portfolio/pkg/portfolio/cache"
	"github.com/tendant/simple-portfolio/pkg/portfolio/presigned"
	"github.com/tendant/simple-portfolio/pkg/portfolio/repo/gormstore"
	"github.com/tendant/simple-portfolio/pkg/portfolio/repo/memory"
	repopg "github.com/tendant/simple-portfolio/pkg/portfolio/repo/postgres"
	fsstorage "github.com/tendant/simple-portfolio/pkg/portfolio/storage/fs"
	memorystorage "github.com/tendant/simple-portfolio/pkg/portfolio/storage/memory"
	s3storage "github.com/tendant/simple-portfolio/pkg/portfolio/storage/s3"
)

// Downloader is implemented by blob stores that can stream objects back,
// so the server can serve media itself.
type Downloader interface {
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)
}

// Runtime holds the collaborators built from a ServerConfig.
type Runtime struct {
	Service     portfolio.Service
	Repository  portfolio.Repository
	BlobStore   portfolio.BlobStore
	StorageType string
	// Signer validates direct uploads for memory and fs storage. Nil for s3.
	Signer   *presigned.Signer
	Resolver *assetref.Resolver
	Cache    portfolio.PublishedCache

	closers []func() error
}

// Close releases database and cache connections.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildService creates the portfolio service and its collaborators from
// the configuration.
func (c *ServerConfig) BuildService(ctx context.Context, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{}

	repo, err := c.BuildRepository(ctx, rt)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	rt.Repository = repo

	resolver, err := assetref.NewResolver(c.PublicAssetBaseURL)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Resolver = resolver

	if err := c.buildStorage(ctx, rt); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build storage backend: %w", err)
	}

	if err := c.buildCache(ctx, rt); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build published cache: %w", err)
	}

	svc, err := portfolio.New(
		portfolio.WithRepository(rt.Repository),
		portfolio.WithBlobStore(rt.StorageType, rt.BlobStore),
		portfolio.WithPublishedCache(rt.Cache),
		portfolio.WithAssetResolver(rt.Resolver),
		portfolio.WithEventSink(portfolio.NewLoggingEventSink(logger)),
		portfolio.WithSimilarityThreshold(c.SimilarityThreshold),
		portfolio.WithLogger(logger),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Service = svc
	return rt, nil
}

// BuildRepository opens the configured repository. Connections are
// registered on rt for Close. The sqlite schema is migrated on open.
func (c *ServerConfig) BuildRepository(ctx context.Context, rt *Runtime) (portfolio.Repository, error) {
	dbType, err := c.DatabaseType()
	if err != nil {
		return nil, err
	}
	switch dbType {
	case DatabaseMemory:
		return memory.New(), nil
	case DatabasePostgres:
		pool, err := c.OpenPostgres(ctx)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })
		return repopg.NewWithPool(pool), nil
	case DatabaseSQLite:
		db, err := gormstore.OpenSQLite(sqliteDSN(c.DatabaseURL))
		if err != nil {
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			rt.closers = append(rt.closers, sqlDB.Close)
		}
		repo := gormstore.New(db)
		if err := repo.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// OpenPostgres creates a pgx pool that sets search_path to DBSchema on
// every connection and verifies connectivity.
func (c *ServerConfig) OpenPostgres(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	schema := c.DBSchema
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if schema == "" {
			return nil
		}
		_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
		return err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}

func (c *ServerConfig) newSigner() *presigned.Signer {
	opts := []presigned.Option{presigned.WithExpiration(c.PresignExpires)}
	if u, err := url.Parse(c.PublicAssetBaseURL); err == nil {
		opts = append(opts, presigned.WithBaseURL(u.Scheme+"://"+u.Host))
	}
	return presigned.New(c.UploadSigningKey, opts...)
}

func (c *ServerConfig) buildStorage(ctx context.Context, rt *Runtime) error {
	target, err := c.Storage()
	if err != nil {
		return err
	}
	rt.StorageType = target.Type
	switch target.Type {
	case StorageMemory:
		rt.Signer = c.newSigner()
		rt.BlobStore = memorystorage.New(rt.Signer)
	case StorageFS:
		rt.Signer = c.newSigner()
		store, err := fsstorage.New(fsstorage.Config{BaseDir: target.Path, Signer: rt.Signer})
		if err != nil {
			return err
		}
		rt.BlobStore = store
	case StorageS3:
		store, err := s3storage.New(ctx, s3storage.Config{
			Region:          c.S3.Region,
			Bucket:          target.Bucket,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
			Endpoint:        c.S3.Endpoint,
			UsePathStyle:    c.S3.UsePathStyle,
			PresignDuration: c.PresignExpires,
		})
		if err != nil {
			return err
		}
		rt.BlobStore = store
	default:
		return fmt.Errorf("unsupported storage backend type: %s", target.Type)
	}
	return nil
}

func (c *ServerConfig) buildCache(ctx context.Context, rt *Runtime) error {
	if c.RedisURL == "" {
		rt.Cache = cache.NewMemory(c.CacheTTL)
		return nil
	}
	client, err := cache.NewRedisClient(ctx, c.RedisURL)
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, client.Close)
	rt.Cache = cache.NewRedis(client, "portfolio:", c.CacheTTL)
	return nil
}
