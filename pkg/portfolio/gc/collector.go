// Package gc drains the asset deletion queue: it claims due entries,
// re-checks that the asset is still unreferenced, deletes the stored
// object and then the asset row.
package gc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
)

const (
	// DefaultBatchSize bounds one Run when the caller passes zero.
	DefaultBatchSize = 50

	// DefaultStaleTimeout is how long an entry may stay in processing
	// before another run reclaims it.
	DefaultStaleTimeout = 15 * time.Minute

	baseBackoff = time.Minute
	maxBackoff  = time.Hour
)

// Result summarizes one collector run.
type Result struct {
	Processed         int `json:"processed"`
	Deleted           int `json:"deleted"`
	SkippedReferenced int `json:"skippedReferenced"`
	Failed            int `json:"failed"`
}

// Backoff returns the delay before retry number attempt (1-based):
// one minute doubled per attempt, capped at one hour.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 7 {
		return maxBackoff
	}
	d := baseBackoff << (attempt - 1)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Collector processes the asset deletion queue.
type Collector struct {
	repo         portfolio.Repository
	blobs        portfolio.BlobStore
	logger       *slog.Logger
	metrics      *Metrics
	staleTimeout time.Duration
	now          func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		c.logger = logger
	}
}

// WithMetrics records run outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Collector) {
		c.metrics = m
	}
}

// WithStaleTimeout overrides DefaultStaleTimeout.
func WithStaleTimeout(d time.Duration) Option {
	return func(c *Collector) {
		c.staleTimeout = d
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

// New creates a Collector over repo and blobs.
func New(repo portfolio.Repository, blobs portfolio.BlobStore, opts ...Option) (*Collector, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	c := &Collector{
		repo:         repo,
		blobs:        blobs,
		logger:       slog.Default(),
		staleTimeout: DefaultStaleTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type outcome int

const (
	outcomeDeleted outcome = iota
	outcomeSkipped
	outcomeFailed
)

// Run claims up to batchSize due entries and processes them one by one.
// A failing entry is requeued with backoff and does not stop the batch.
func (c *Collector) Run(ctx context.Context, batchSize int) (Result, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	var result Result
	now := c.now().UTC()

	claimed, err := c.repo.ClaimAssetDeletions(ctx, batchSize, now, now.Add(-c.staleTimeout))
	if err != nil {
		c.metrics.observeRun(result, err)
		return result, fmt.Errorf("claim asset deletions: %w", err)
	}

	for _, entry := range claimed {
		result.Processed++
		switch c.process(ctx, entry) {
		case outcomeDeleted:
			result.Deleted++
		case outcomeSkipped:
			result.SkippedReferenced++
		case outcomeFailed:
			result.Failed++
		}
	}

	c.metrics.observeRun(result, nil)
	if result.Processed > 0 {
		c.logger.InfoContext(ctx, "asset gc run finished",
			"processed", result.Processed,
			"deleted", result.Deleted,
			"skipped_referenced", result.SkippedReferenced,
			"failed", result.Failed)
	}
	return result, nil
}

func (c *Collector) process(ctx context.Context, entry *portfolio.DeletionQueueEntry) outcome {
	log := c.logger.With("entry_id", entry.ID, "asset_id", entry.AssetID, "object_key", entry.ObjectKey)

	refs, err := c.repo.CountAssetRefs(ctx, entry.AssetID)
	if err != nil {
		return c.fail(ctx, log, entry, fmt.Errorf("count refs: %w", err))
	}
	if refs > 0 {
		// Referenced again since it was queued.
		if err := c.repo.DeleteAssetDeletion(ctx, entry.ID); err != nil {
			return c.fail(ctx, log, entry, fmt.Errorf("drop queue entry: %w", err))
		}
		log.DebugContext(ctx, "asset referenced again, skipping deletion", "refs", refs)
		return outcomeSkipped
	}

	if err := c.blobs.Delete(ctx, entry.ObjectKey); err != nil {
		return c.fail(ctx, log, entry, fmt.Errorf("delete object: %w", err))
	}

	err = c.repo.WithTx(ctx, func(ctx context.Context, tx portfolio.Repository) error {
		if err := tx.DeleteAsset(ctx, entry.AssetID); err != nil && !errors.Is(err, portfolio.ErrAssetNotFound) {
			return fmt.Errorf("delete asset row: %w", err)
		}
		return tx.DeleteAssetDeletion(ctx, entry.ID)
	})
	if err != nil {
		return c.fail(ctx, log, entry, err)
	}
	log.DebugContext(ctx, "asset deleted")
	return outcomeDeleted
}

func (c *Collector) fail(ctx context.Context, log *slog.Logger, entry *portfolio.DeletionQueueEntry, cause error) outcome {
	attempt := entry.AttemptCount + 1
	next := c.now().UTC().Add(Backoff(attempt))
	log.WarnContext(ctx, "asset deletion failed, requeueing", "attempt", attempt, "next_attempt_at", next, "err", cause)

	if err := c.repo.RequeueAssetDeletion(ctx, entry.ID, attempt, next, cause.Error()); err != nil {
		// The entry stays in processing and is reclaimed after the stale timeout.
		log.ErrorContext(ctx, "failed to requeue asset deletion", "err", err)
	}
	return outcomeFailed
}
