package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
)

// Redis caches published views as JSON under "{prefix}published:{type}:{slug}".
type Redis struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedis creates a Redis-backed cache. A ttl of zero uses DefaultTTL.
func NewRedis(client redis.Cmdable, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// NewRedisClient connects to the server addressed by a redis:// URL and
// checks it with PING.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (c *Redis) Get(ctx context.Context, itemType portfolio.ContentType, slug string) (*portfolio.PublishedView, bool, error) {
	data, err := c.client.Get(ctx, Key(c.prefix, itemType, slug)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var view portfolio.PublishedView
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, false, fmt.Errorf("decode cached view: %w", err)
	}
	return &view, true, nil
}

func (c *Redis) Set(ctx context.Context, view *portfolio.PublishedView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("encode view: %w", err)
	}
	if err := c.client.Set(ctx, Key(c.prefix, view.Type, view.Slug), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *Redis) Invalidate(ctx context.Context, itemType portfolio.ContentType, slug string) error {
	if err := c.client.Del(ctx, Key(c.prefix, itemType, slug)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

var _ portfolio.PublishedCache = (*Redis)(nil)
