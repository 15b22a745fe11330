package portfolio

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for items, versions, tags,
// profiles, assets and the asset deletion queue.
type Repository interface {
	// Content items
	CreateItem(ctx context.Context, item *ContentItem) error
	GetItem(ctx context.Context, id uuid.UUID) (*ContentItem, error)
	GetItemBySlug(ctx context.Context, itemType ContentType, slug string) (*ContentItem, error)
	UpdateItem(ctx context.Context, item *ContentItem) error
	DeleteItem(ctx context.Context, id uuid.UUID) error
	ListItems(ctx context.Context, filter ItemFilter) ([]*ContentItem, error)

	// Versions. CreateVersion assigns the next number when VersionNumber is 0
	// and returns ErrVersionConflict for any other non-sequential number.
	CreateVersion(ctx context.Context, version *ContentVersion) error
	GetVersion(ctx context.Context, id uuid.UUID) (*ContentVersion, error)
	GetVersionByNumber(ctx context.Context, itemID uuid.UUID, number int) (*ContentVersion, error)
	GetLatestVersion(ctx context.Context, itemID uuid.UUID) (*ContentVersion, error)
	ListVersions(ctx context.Context, itemID uuid.UUID) ([]*ContentVersion, error)
	UpdateVersion(ctx context.Context, version *ContentVersion) error

	// Tags
	UpsertTag(ctx context.Context, tag *Tag) (*Tag, error)
	SetItemTags(ctx context.Context, itemID uuid.UUID, tagIDs []uuid.UUID) error
	ListItemTags(ctx context.Context, itemID uuid.UUID) ([]*Tag, error)

	// Profiles
	UpsertProfile(ctx context.Context, profile *Profile) error
	GetProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Profile, error)

	// Assets and references
	CreateAsset(ctx context.Context, asset *Asset) error
	GetAsset(ctx context.Context, id uuid.UUID) (*Asset, error)
	GetAssetByObjectKey(ctx context.Context, objectKey string) (*Asset, error)
	ListAssetsByKeyPrefix(ctx context.Context, prefix string) ([]*Asset, error)
	DeleteAsset(ctx context.Context, id uuid.UUID) error
	AddVersionAssetRef(ctx context.Context, ref VersionAssetRef) error
	RemoveVersionAssetRef(ctx context.Context, ref VersionAssetRef) error
	ListVersionAssetRefs(ctx context.Context, versionID uuid.UUID) ([]VersionAssetRef, error)
	CountAssetRefs(ctx context.Context, assetID uuid.UUID) (int, error)

	// Asset deletion queue. EnqueueAssetDeletion is a no-op when the asset
	// is already queued. ClaimAssetDeletions moves due pending or failed
	// entries, and processing entries locked before staleBefore, to
	// processing.
	EnqueueAssetDeletion(ctx context.Context, entry *DeletionQueueEntry) error
	ClaimAssetDeletions(ctx context.Context, limit int, now, staleBefore time.Time) ([]*DeletionQueueEntry, error)
	RequeueAssetDeletion(ctx context.Context, id uuid.UUID, attempt int, nextAttemptAt time.Time, lastErr string) error
	DeleteAssetDeletion(ctx context.Context, id uuid.UUID) error
	ListAssetDeletions(ctx context.Context) ([]*DeletionQueueEntry, error)

	// WithTx runs fn against a repository bound to a single transaction.
	// The transaction commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}

// BlobStore defines the interface for media storage backends
type BlobStore interface {
	// GetUploadURL returns a URL the client can PUT the object to
	GetUploadURL(ctx context.Context, objectKey, contentType string) (string, error)

	// Upload stores an object directly
	Upload(ctx context.Context, objectKey, contentType string, reader io.Reader) error

	// GetObjectMeta returns metadata for a stored object
	GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectKey string) error
}

// PublishedCache caches reader views keyed by type and slug.
type PublishedCache interface {
	Get(ctx context.Context, itemType ContentType, slug string) (*PublishedView, bool, error)
	Set(ctx context.Context, view *PublishedView) error
	Invalidate(ctx context.Context, itemType ContentType, slug string) error
}

// EventSink receives lifecycle events after they are committed
type EventSink interface {
	ItemCreated(ctx context.Context, item *ContentItem) error
	ItemDeleted(ctx context.Context, itemID uuid.UUID) error
	VersionCreated(ctx context.Context, version *ContentVersion) error
	ItemPublished(ctx context.Context, item *ContentItem, version *ContentVersion) error
	ItemUnpublished(ctx context.Context, item *ContentItem) error
}
