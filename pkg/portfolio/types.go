package portfolio

import (
	"time"

	"github.com/google/uuid"
)

// ContentType discriminates the kinds of content items.
type ContentType string

const (
	TypePost    ContentType = "post"
	TypeProject ContentType = "project"
)

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	return t == TypePost || t == TypeProject
}

// ItemStatus is the publication state of a content item.
type ItemStatus string

const (
	ItemStatusDraft     ItemStatus = "draft"
	ItemStatusPublished ItemStatus = "published"
)

// SnapshotStatus is informational bookkeeping on a version. Visibility is
// decided only by the item's PublishedVersionID.
type SnapshotStatus string

const (
	SnapshotDraft     SnapshotStatus = "draft"
	SnapshotPublished SnapshotStatus = "published"
	SnapshotArchived  SnapshotStatus = "archived"
)

// UsageType describes how a version uses an asset.
type UsageType string

const (
	UsageEmbedded UsageType = "embedded"
	UsageCover    UsageType = "cover"
)

// Valid reports whether u is a known usage type.
func (u UsageType) Valid() bool {
	return u == UsageEmbedded || u == UsageCover
}

// DeletionStatus is the state of an asset deletion queue entry.
type DeletionStatus string

const (
	DeletionPending    DeletionStatus = "pending"
	DeletionProcessing DeletionStatus = "processing"
	DeletionFailed     DeletionStatus = "failed"
)

// ContentItem is a blog post or project.
type ContentItem struct {
	ID                 uuid.UUID   `json:"id"`
	Type               ContentType `json:"type"`
	Title              string      `json:"title"`
	Slug               string      `json:"slug"`
	Summary            string      `json:"summary,omitempty"`
	CoverImage         string      `json:"cover_image,omitempty"`
	OwnerID            uuid.UUID   `json:"owner_id"`
	Status             ItemStatus  `json:"status"`
	CurrentVersionID   *uuid.UUID  `json:"current_version_id,omitempty"`
	PublishedVersionID *uuid.UUID  `json:"published_version_id,omitempty"`
	PublishedAt        *time.Time  `json:"published_at,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// IsPublished reports whether readers can see the item.
func (i *ContentItem) IsPublished() bool {
	return i.PublishedVersionID != nil
}

// IsPublishedVersion reports whether versionID is the live snapshot.
func (i *ContentItem) IsPublishedVersion(versionID uuid.UUID) bool {
	return i.PublishedVersionID != nil && *i.PublishedVersionID == versionID
}

// ContentVersion is one snapshot of an item's title, summary and body.
type ContentVersion struct {
	ID                uuid.UUID      `json:"id"`
	ContentItemID     uuid.UUID      `json:"content_item_id"`
	VersionNumber     int            `json:"version_number"`
	Title             string         `json:"title"`
	Summary           string         `json:"summary,omitempty"`
	BodyJSON          string         `json:"body_json"`
	SnapshotStatus    SnapshotStatus `json:"snapshot_status"`
	CreatedBy         uuid.UUID      `json:"created_by"`
	ChangeDescription string         `json:"change_description,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`

	// Baseline is the content as of the last snapshot save. Autosave
	// rewrites the draft fields above and leaves it alone.
	BaselineTitle   string `json:"-"`
	BaselineSummary string `json:"-"`
	BaselineBody    string `json:"-"`
}

// Profile is the lightweight identity of a version author.
type Profile struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
}

// VersionWithCreator pairs a version with its author's profile.
type VersionWithCreator struct {
	*ContentVersion
	Creator *Profile `json:"creator,omitempty"`
}

// Tag labels content items.
type Tag struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Slug string    `json:"slug"`
}

// Asset is an uploaded media object.
type Asset struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	ObjectKey string    `json:"object_key"`
	PublicURL string    `json:"public_url"`
	AssetType string    `json:"asset_type"`
	MimeType  string    `json:"mime_type,omitempty"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// VersionAssetRef records that a version uses an asset.
type VersionAssetRef struct {
	ContentVersionID uuid.UUID `json:"content_version_id"`
	AssetID          uuid.UUID `json:"asset_id"`
	UsageType        UsageType `json:"usage_type"`
}

// DeletionQueueEntry schedules an unreferenced asset for removal.
type DeletionQueueEntry struct {
	ID            uuid.UUID      `json:"id"`
	AssetID       uuid.UUID      `json:"asset_id"`
	ObjectKey     string         `json:"object_key"`
	Status        DeletionStatus `json:"status"`
	AttemptCount  int            `json:"attempt_count"`
	NextAttemptAt time.Time      `json:"next_attempt_at"`
	LastError     string         `json:"last_error,omitempty"`
	LockedAt      *time.Time     `json:"locked_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ItemFilter narrows ListItems.
type ItemFilter struct {
	Type      ContentType
	OwnerID   *uuid.UUID
	Published *bool
	TagSlug   string
	Limit     int
	Offset    int
}

// Draft is the owner's editable view of an item.
type Draft struct {
	Item    *ContentItem    `json:"item"`
	Version *ContentVersion `json:"version,omitempty"`
	Tags    []*Tag          `json:"tags"`
}

// PublishedView is what readers see. It is built only from the published
// version and item metadata, never from the draft.
type PublishedView struct {
	ItemID        uuid.UUID   `json:"item_id"`
	Type          ContentType `json:"type"`
	Slug          string      `json:"slug"`
	CoverImage    string      `json:"cover_image,omitempty"`
	VersionID     uuid.UUID   `json:"version_id"`
	VersionNumber int         `json:"version_number"`
	Title         string      `json:"title"`
	Summary       string      `json:"summary,omitempty"`
	BodyJSON      string      `json:"body_json"`
	Tags          []*Tag      `json:"tags"`
	PublishedAt   time.Time   `json:"published_at"`
}

// SaveResult reports how a smart save was routed.
type SaveResult struct {
	Version    *ContentVersion `json:"version"`
	Created    bool            `json:"created"`
	Similarity float64         `json:"similarity"`
}

// PresignedUpload is returned to an uploader before the bytes are PUT.
type PresignedUpload struct {
	URL       string `json:"url"`
	FileURL   string `json:"fileUrl"`
	ObjectKey string `json:"objectKey"`
}

// ObjectMeta describes a stored blob.
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
}
