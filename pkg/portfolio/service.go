package portfolio

import (
	"context"

	"github.com/google/uuid"

	"github.com/tendant/simple-portfolio/pkg/portfolio/diff"
)

// Service is the main interface for the portfolio content workflow. Every
// method taking an actor requires the actor to own the item; readers use
// GetPublished and ListPublished, which never expose draft content.
type Service interface {
	// Item operations
	CreateItem(ctx context.Context, req CreateItemRequest) (*ContentItem, error)
	GetDraft(ctx context.Context, actor, itemID uuid.UUID) (*Draft, error)
	ListItems(ctx context.Context, actor uuid.UUID, req ListItemsRequest) ([]*ContentItem, error)
	UpdateItemMeta(ctx context.Context, actor uuid.UUID, req UpdateItemMetaRequest) (*ContentItem, error)
	DeleteItem(ctx context.Context, actor, itemID uuid.UUID) error

	// Version store operations
	CreateVersion(ctx context.Context, actor uuid.UUID, req CreateVersionRequest) (*ContentVersion, error)
	UpdateVersionSnapshot(ctx context.Context, actor, versionID uuid.UUID, patch VersionPatch) (*ContentVersion, error)
	ListVersions(ctx context.Context, actor, itemID uuid.UUID) ([]*VersionWithCreator, error)
	GetVersion(ctx context.Context, actor, versionID uuid.UUID) (*ContentVersion, error)

	// Publish/draft transitions
	Autosave(ctx context.Context, actor uuid.UUID, draft DraftInput) (*ContentVersion, error)
	SmartSaveVersion(ctx context.Context, actor uuid.UUID, req SmartSaveRequest) (*SaveResult, error)
	Publish(ctx context.Context, actor uuid.UUID, req PublishRequest) (*ContentItem, error)
	Unpublish(ctx context.Context, actor, itemID uuid.UUID) (*ContentItem, error)
	RestoreVersion(ctx context.Context, actor, itemID uuid.UUID, versionNumber int) (*ContentVersion, error)
	HasDraftChanges(ctx context.Context, actor, itemID uuid.UUID) (bool, error)

	// Change review
	DiffVersions(ctx context.Context, actor, itemID uuid.UUID, fromNumber, toNumber int) (*diff.Result, error)
	DiffDraftAgainstPublished(ctx context.Context, actor, itemID uuid.UUID) (*diff.Result, error)

	// Reader operations
	GetPublished(ctx context.Context, itemType ContentType, slug string) (*PublishedView, error)
	ListPublished(ctx context.Context, req ListPublishedRequest) ([]*PublishedView, error)

	// Asset operations
	PresignUpload(ctx context.Context, actor uuid.UUID, req PresignUploadRequest) (*PresignedUpload, error)
	RecordImage(ctx context.Context, actor uuid.UUID, req RecordImageRequest) (*Asset, error)
}
