// Package cache provides portfolio.PublishedCache implementations for
// reader views: an in-process TTL map and Redis.
package cache

import (
	"fmt"
	"time"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
)

// DefaultTTL bounds how long a reader view may be served after a write
// whose invalidation was lost.
const DefaultTTL = 5 * time.Minute

// Key returns the cache key for a published item.
func Key(prefix string, itemType portfolio.ContentType, slug string) string {
	return fmt.Sprintf("%spublished:%s:%s", prefix, itemType, slug)
}
