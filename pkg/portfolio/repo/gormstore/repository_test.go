package gormstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
	"github.com/tendant/simple-portfolio/pkg/portfolio/repo/gormstore"
)

func setupTestRepo(t *testing.T) *gormstore.Repository {
	t.Helper()
	db, err := gormstore.OpenSQLite(":memory:")
	require.NoError(t, err)
	repo := gormstore.New(db)
	require.NoError(t, repo.AutoMigrate())
	return repo
}

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newItem(slug string) *portfolio.ContentItem {
	return &portfolio.ContentItem{
		ID:        uuid.New(),
		Type:      portfolio.TypePost,
		Title:     slug,
		Slug:      slug,
		OwnerID:   uuid.New(),
		Status:    portfolio.ItemStatusDraft,
		CreatedAt: epoch,
		UpdatedAt: epoch,
	}
}

func newVersion(itemID uuid.UUID) *portfolio.ContentVersion {
	return &portfolio.ContentVersion{
		ID:             uuid.New(),
		ContentItemID:  itemID,
		Title:          "title",
		BodyJSON:       `[]`,
		SnapshotStatus: portfolio.SnapshotDraft,
		CreatedBy:      uuid.New(),
		CreatedAt:      epoch,
		UpdatedAt:      epoch,
	}
}

func TestItemRoundTrip(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	item := newItem("round-trip")
	require.NoError(t, repo.CreateItem(ctx, item))

	v := newVersion(item.ID)
	require.NoError(t, repo.CreateVersion(ctx, v))
	publishedAt := epoch.Add(time.Hour)
	item.CurrentVersionID = &v.ID
	item.PublishedVersionID = &v.ID
	item.PublishedAt = &publishedAt
	item.Status = portfolio.ItemStatusPublished
	require.NoError(t, repo.UpdateItem(ctx, item))

	got, err := repo.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, v.ID, *got.CurrentVersionID)
	assert.Equal(t, v.ID, *got.PublishedVersionID)
	assert.True(t, publishedAt.Equal(*got.PublishedAt))
	assert.True(t, epoch.Equal(got.CreatedAt))

	bySlug, err := repo.GetItemBySlug(ctx, portfolio.TypePost, "round-trip")
	require.NoError(t, err)
	assert.Equal(t, item.ID, bySlug.ID)

	_, err = repo.GetItemBySlug(ctx, portfolio.TypeProject, "round-trip")
	assert.ErrorIs(t, err, portfolio.ErrItemNotFound)
}

func TestSlugUniquePerType(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateItem(ctx, newItem("same")))
	assert.ErrorIs(t, repo.CreateItem(ctx, newItem("same")), portfolio.ErrSlugTaken)

	project := newItem("same")
	project.Type = portfolio.TypeProject
	assert.NoError(t, repo.CreateItem(ctx, project))

	other := newItem("other")
	require.NoError(t, repo.CreateItem(ctx, other))
	other.Slug = "same"
	assert.ErrorIs(t, repo.UpdateItem(ctx, other), portfolio.ErrSlugTaken)
}

func TestVersionNumbering(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	item := newItem("numbers")
	require.NoError(t, repo.CreateItem(ctx, item))

	for want := 1; want <= 3; want++ {
		v := newVersion(item.ID)
		require.NoError(t, repo.CreateVersion(ctx, v))
		assert.Equal(t, want, v.VersionNumber)
	}

	explicit := newVersion(item.ID)
	explicit.VersionNumber = 3
	assert.ErrorIs(t, repo.CreateVersion(ctx, explicit), portfolio.ErrVersionConflict)

	orphan := newVersion(uuid.New())
	assert.ErrorIs(t, repo.CreateVersion(ctx, orphan), portfolio.ErrItemNotFound)

	latest, err := repo.GetLatestVersion(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.VersionNumber)

	second, err := repo.GetVersionByNumber(ctx, item.ID, 2)
	require.NoError(t, err)
	second.Title = "edited"
	second.VersionNumber = 99
	require.NoError(t, repo.UpdateVersion(ctx, second))
	reloaded, err := repo.GetVersion(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", reloaded.Title)
	assert.Equal(t, 2, reloaded.VersionNumber)

	versions, err := repo.ListVersions(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, []int{3, 2, 1}, []int{versions[0].VersionNumber, versions[1].VersionNumber, versions[2].VersionNumber})
}

func TestWithTxRollsBack(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	item := newItem("tx")
	require.NoError(t, repo.CreateItem(ctx, item))

	boom := errors.New("boom")
	err := repo.WithTx(ctx, func(ctx context.Context, tx portfolio.Repository) error {
		v := newVersion(item.ID)
		require.NoError(t, tx.CreateVersion(ctx, v))
		item.CurrentVersionID = &v.ID
		require.NoError(t, tx.UpdateItem(ctx, item))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CurrentVersionID)
	versions, err := repo.ListVersions(ctx, item.ID)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestTagsAndListing(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	goTag, err := repo.UpsertTag(ctx, &portfolio.Tag{ID: uuid.New(), Name: "Go", Slug: "go"})
	require.NoError(t, err)
	again, err := repo.UpsertTag(ctx, &portfolio.Tag{ID: uuid.New(), Name: "golang", Slug: "go"})
	require.NoError(t, err)
	assert.Equal(t, goTag.ID, again.ID)

	tagged := newItem("tagged")
	plain := newItem("plain")
	plain.UpdatedAt = epoch.Add(time.Minute)
	require.NoError(t, repo.CreateItem(ctx, tagged))
	require.NoError(t, repo.CreateItem(ctx, plain))
	require.NoError(t, repo.SetItemTags(ctx, tagged.ID, []uuid.UUID{goTag.ID}))

	tags, err := repo.ListItemTags(ctx, tagged.ID)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "go", tags[0].Slug)

	all, err := repo.ListItems(ctx, portfolio.ItemFilter{Type: portfolio.TypePost})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, plain.ID, all[0].ID, "newest first")

	byTag, err := repo.ListItems(ctx, portfolio.ItemFilter{TagSlug: "go"})
	require.NoError(t, err)
	require.Len(t, byTag, 1)
	assert.Equal(t, tagged.ID, byTag[0].ID)

	published := true
	none, err := repo.ListItems(ctx, portfolio.ItemFilter{Published: &published})
	require.NoError(t, err)
	assert.Empty(t, none)

	paged, err := repo.ListItems(ctx, portfolio.ItemFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, tagged.ID, paged[0].ID)
}

func TestDeleteItemCascades(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	item := newItem("doomed")
	require.NoError(t, repo.CreateItem(ctx, item))
	v := newVersion(item.ID)
	require.NoError(t, repo.CreateVersion(ctx, v))
	asset := &portfolio.Asset{ID: uuid.New(), OwnerID: item.OwnerID, ObjectKey: "posts/doomed/a.png", PublicURL: "https://cdn/a.png", AssetType: "image", CreatedAt: epoch}
	require.NoError(t, repo.CreateAsset(ctx, asset))
	require.NoError(t, repo.AddVersionAssetRef(ctx, portfolio.VersionAssetRef{ContentVersionID: v.ID, AssetID: asset.ID, UsageType: portfolio.UsageEmbedded}))

	require.NoError(t, repo.DeleteItem(ctx, item.ID))
	assert.ErrorIs(t, repo.DeleteItem(ctx, item.ID), portfolio.ErrItemNotFound)

	_, err := repo.GetVersion(ctx, v.ID)
	assert.ErrorIs(t, err, portfolio.ErrVersionNotFound)
	count, err := repo.CountAssetRefs(ctx, asset.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAssetRefs(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	item := newItem("assets")
	require.NoError(t, repo.CreateItem(ctx, item))
	v := newVersion(item.ID)
	require.NoError(t, repo.CreateVersion(ctx, v))

	a := &portfolio.Asset{ID: uuid.New(), OwnerID: item.OwnerID, ObjectKey: "posts/x/a.png", PublicURL: "u", AssetType: "image", SizeBytes: 12, CreatedAt: epoch}
	b := &portfolio.Asset{ID: uuid.New(), OwnerID: item.OwnerID, ObjectKey: "posts/y/b.png", PublicURL: "u", AssetType: "image", CreatedAt: epoch}
	require.NoError(t, repo.CreateAsset(ctx, a))
	require.NoError(t, repo.CreateAsset(ctx, b))
	dup := *a
	dup.ID = uuid.New()
	assert.ErrorIs(t, repo.CreateAsset(ctx, &dup), portfolio.ErrConflict)

	byKey, err := repo.GetAssetByObjectKey(ctx, "posts/x/a.png")
	require.NoError(t, err)
	assert.Equal(t, int64(12), byKey.SizeBytes)

	prefixed, err := repo.ListAssetsByKeyPrefix(ctx, "posts/x/")
	require.NoError(t, err)
	require.Len(t, prefixed, 1)
	assert.Equal(t, a.ID, prefixed[0].ID)

	ref := portfolio.VersionAssetRef{ContentVersionID: v.ID, AssetID: a.ID, UsageType: portfolio.UsageEmbedded}
	require.NoError(t, repo.AddVersionAssetRef(ctx, ref))
	require.NoError(t, repo.AddVersionAssetRef(ctx, ref))
	count, err := repo.CountAssetRefs(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	refs, err := repo.ListVersionAssetRefs(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, []portfolio.VersionAssetRef{ref}, refs)

	require.NoError(t, repo.RemoveVersionAssetRef(ctx, ref))
	count, err = repo.CountAssetRefs(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	missing := portfolio.VersionAssetRef{ContentVersionID: v.ID, AssetID: uuid.New(), UsageType: portfolio.UsageCover}
	assert.ErrorIs(t, repo.AddVersionAssetRef(ctx, missing), portfolio.ErrAssetNotFound)

	require.NoError(t, repo.DeleteAsset(ctx, b.ID))
	_, err = repo.GetAsset(ctx, b.ID)
	assert.ErrorIs(t, err, portfolio.ErrAssetNotFound)
}

func TestProfiles(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, repo.UpsertProfile(ctx, &portfolio.Profile{ID: id, DisplayName: "Ada"}))
	require.NoError(t, repo.UpsertProfile(ctx, &portfolio.Profile{ID: id, DisplayName: "Ada L."}))

	profiles, err := repo.GetProfiles(ctx, []uuid.UUID{id, uuid.New()})
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "Ada L.", profiles[id].DisplayName)
}

func TestDeletionQueueClaim(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	now := epoch.Add(24 * time.Hour)

	due := &portfolio.DeletionQueueEntry{ID: uuid.New(), AssetID: uuid.New(), ObjectKey: "due", Status: portfolio.DeletionPending, NextAttemptAt: now.Add(-time.Minute), CreatedAt: epoch}
	later := &portfolio.DeletionQueueEntry{ID: uuid.New(), AssetID: uuid.New(), ObjectKey: "later", Status: portfolio.DeletionPending, NextAttemptAt: now.Add(time.Hour), CreatedAt: epoch}
	staleLock := now.Add(-time.Hour)
	stale := &portfolio.DeletionQueueEntry{ID: uuid.New(), AssetID: uuid.New(), ObjectKey: "stale", Status: portfolio.DeletionProcessing, NextAttemptAt: now.Add(-2 * time.Hour), LockedAt: &staleLock, CreatedAt: epoch}
	for _, e := range []*portfolio.DeletionQueueEntry{due, later, stale} {
		require.NoError(t, repo.EnqueueAssetDeletion(ctx, e))
	}
	again := *due
	again.ID = uuid.New()
	require.NoError(t, repo.EnqueueAssetDeletion(ctx, &again))

	claimed, err := repo.ClaimAssetDeletions(ctx, 10, now, now.Add(-15*time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "stale", claimed[0].ObjectKey)
	assert.Equal(t, "due", claimed[1].ObjectKey)
	for _, c := range claimed {
		assert.Equal(t, portfolio.DeletionProcessing, c.Status)
		require.NotNil(t, c.LockedAt)
		assert.True(t, now.Equal(*c.LockedAt))
	}

	none, err := repo.ClaimAssetDeletions(ctx, 10, now, now.Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, repo.RequeueAssetDeletion(ctx, due.ID, 1, now.Add(time.Minute), "timeout"))
	retried, err := repo.ClaimAssetDeletions(ctx, 10, now.Add(2*time.Minute), now)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	assert.Equal(t, 1, retried[0].AttemptCount)
	assert.Equal(t, "timeout", retried[0].LastError)

	assert.ErrorIs(t, repo.RequeueAssetDeletion(ctx, uuid.New(), 1, now, "x"), portfolio.ErrNotFound)

	require.NoError(t, repo.DeleteAssetDeletion(ctx, due.ID))
	entries, err := repo.ListAssetDeletions(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

// TestPublishWorkflowOnSQLite runs the service against the SQL store so
// transactions and pointer updates go through real statements.
func TestPublishWorkflowOnSQLite(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	svc, err := portfolio.New(portfolio.WithRepository(repo))
	require.NoError(t, err)

	owner := uuid.New()
	item, err := svc.CreateItem(ctx, portfolio.CreateItemRequest{Type: portfolio.TypeProject, Title: "Compiler", OwnerID: owner, Tags: []string{"Go"}})
	require.NoError(t, err)

	body := func(text string) string {
		b, err := json.Marshal([]map[string]any{{"type": "paragraph", "content": text}})
		require.NoError(t, err)
		return string(b)
	}

	_, err = svc.Autosave(ctx, owner, portfolio.DraftInput{ItemID: item.ID, Title: "Compiler", Body: body("lexer parser")})
	require.NoError(t, err)
	res, err := svc.SmartSaveVersion(ctx, owner, portfolio.SmartSaveRequest{
		Draft: portfolio.DraftInput{ItemID: item.ID, Title: "Compiler", Body: body("lexer parser codegen optimizer")},
	})
	require.NoError(t, err)
	assert.True(t, res.Created)

	published, err := svc.Publish(ctx, owner, portfolio.PublishRequest{ItemID: item.ID})
	require.NoError(t, err)
	assert.Equal(t, res.Version.ID, *published.PublishedVersionID)

	view, err := svc.GetPublished(ctx, portfolio.TypeProject, "compiler")
	require.NoError(t, err)
	assert.Equal(t, 2, view.VersionNumber)
	require.Len(t, view.Tags, 1)

	restored, err := svc.RestoreVersion(ctx, owner, item.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, restored.VersionNumber)

	changed, err := svc.HasDraftChanges(ctx, owner, item.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	_, err = svc.Unpublish(ctx, owner, item.ID)
	require.NoError(t, err)
	_, err = svc.GetPublished(ctx, portfolio.TypeProject, "compiler")
	assert.ErrorIs(t, err, portfolio.ErrNotPublished)
}
