package postgres_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
	"github.com/tendant/simple-portfolio/pkg/portfolio/repo/postgres"
)

// newTestRepository connects to POSTGRES_TEST_URL and migrates a fresh
// schema that is dropped when the test ends.
func newTestRepository(t *testing.T) *postgres.Repository {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_URL")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}
	ctx := context.Background()
	schema := "portfolio_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

	conn, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = conn.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		_ = conn.Close(context.Background())
	})

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.Migrate(ctx, pool))
	return postgres.NewWithPool(pool)
}

func newItem(slug string) *portfolio.ContentItem {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &portfolio.ContentItem{
		ID:        uuid.New(),
		Type:      portfolio.TypePost,
		Title:     slug,
		Slug:      slug,
		OwnerID:   uuid.New(),
		Status:    portfolio.ItemStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newVersion(itemID uuid.UUID, n int) *portfolio.ContentVersion {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &portfolio.ContentVersion{
		ID:             uuid.New(),
		ContentItemID:  itemID,
		VersionNumber:  n,
		Title:          fmt.Sprintf("v%d", n),
		SnapshotStatus: portfolio.SnapshotDraft,
		CreatedBy:      uuid.New(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestRepository_Items(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	item := newItem("hello")
	require.NoError(t, repo.CreateItem(ctx, item))

	got, err := repo.GetItemBySlug(ctx, portfolio.TypePost, "hello")
	require.NoError(t, err)
	assert.Equal(t, item.ID, got.ID)
	assert.Nil(t, got.CurrentVersionID)

	dup := newItem("hello")
	assert.ErrorIs(t, repo.CreateItem(ctx, dup), portfolio.ErrSlugTaken)

	_, err = repo.GetItem(ctx, uuid.New())
	assert.ErrorIs(t, err, portfolio.ErrItemNotFound)
}

func TestRepository_VersionNumbering(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	item := newItem("numbered")
	require.NoError(t, repo.CreateItem(ctx, item))

	for i := 1; i <= 3; i++ {
		v := newVersion(item.ID, 0)
		require.NoError(t, repo.CreateVersion(ctx, v))
		assert.Equal(t, i, v.VersionNumber)
	}
	assert.ErrorIs(t, repo.CreateVersion(ctx, newVersion(item.ID, 7)), portfolio.ErrVersionConflict)

	latest, err := repo.GetLatestVersion(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.VersionNumber)

	versions, err := repo.ListVersions(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, 3, versions[0].VersionNumber)
}

func TestRepository_WithTxRollsBack(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	item := newItem("atomic")
	require.NoError(t, repo.CreateItem(ctx, item))

	err := repo.WithTx(ctx, func(ctx context.Context, tx portfolio.Repository) error {
		v := newVersion(item.ID, 0)
		if err := tx.CreateVersion(ctx, v); err != nil {
			return err
		}
		item.CurrentVersionID = &v.ID
		if err := tx.UpdateItem(ctx, item); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	got, err := repo.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CurrentVersionID)
	_, err = repo.GetLatestVersion(ctx, item.ID)
	assert.ErrorIs(t, err, portfolio.ErrVersionNotFound)
}

func TestRepository_DeletionQueue(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	entry := &portfolio.DeletionQueueEntry{
		ID:            uuid.New(),
		AssetID:       uuid.New(),
		ObjectKey:     "posts/x/a.png",
		Status:        portfolio.DeletionPending,
		NextAttemptAt: now.Add(-time.Minute),
		CreatedAt:     now,
	}
	require.NoError(t, repo.EnqueueAssetDeletion(ctx, entry))
	dup := *entry
	dup.ID = uuid.New()
	require.NoError(t, repo.EnqueueAssetDeletion(ctx, &dup))

	claimed, err := repo.ClaimAssetDeletions(ctx, 10, now, now.Add(-15*time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, portfolio.DeletionProcessing, claimed[0].Status)

	again, err := repo.ClaimAssetDeletions(ctx, 10, now, now.Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, repo.RequeueAssetDeletion(ctx, entry.ID, 1, now.Add(time.Minute), "boom"))
	entries, err := repo.ListAssetDeletions(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, portfolio.DeletionFailed, entries[0].Status)
	assert.Equal(t, "boom", entries[0].LastError)
	assert.Nil(t, entries[0].LockedAt)

	require.NoError(t, repo.DeleteAssetDeletion(ctx, entry.ID))
	entries, err = repo.ListAssetDeletions(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
