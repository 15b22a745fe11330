package portfolio

import "github.com/google/uuid"

// CreateItemRequest contains parameters for creating a content item
type CreateItemRequest struct {
	Type    ContentType `json:"type"`
	Title   string      `json:"title"`
	Slug    string      `json:"slug,omitempty"`
	Summary string      `json:"summary,omitempty"`
	OwnerID uuid.UUID   `json:"owner_id"`
	Tags    []string    `json:"tags,omitempty"`
}

// UpdateItemMetaRequest changes item metadata. Nil fields are left unchanged.
type UpdateItemMetaRequest struct {
	ItemID     uuid.UUID `json:"item_id"`
	Slug       *string   `json:"slug,omitempty"`
	CoverImage *string   `json:"cover_image,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
}

// ListItemsRequest filters the owner's items
type ListItemsRequest struct {
	Type   ContentType `json:"type,omitempty"`
	Limit  int         `json:"limit,omitempty"`
	Offset int         `json:"offset,omitempty"`
}

// ListPublishedRequest filters the public listing
type ListPublishedRequest struct {
	Type    ContentType `json:"type"`
	TagSlug string      `json:"tag,omitempty"`
	Limit   int         `json:"limit,omitempty"`
	Offset  int         `json:"offset,omitempty"`
}

// DraftInput is the live editor state of an item
type DraftInput struct {
	ItemID  uuid.UUID `json:"item_id"`
	Title   string    `json:"title"`
	Summary string    `json:"summary,omitempty"`
	Body    string    `json:"body"`
}

// SmartSaveRequest contains parameters for a similarity-routed save
type SmartSaveRequest struct {
	Draft             DraftInput `json:"draft"`
	ForceNewVersion   bool       `json:"force_new_version,omitempty"`
	ChangeDescription string     `json:"change_description,omitempty"`
}

// PublishRequest publishes an item. When Draft is nil the current version
// is published as is.
type PublishRequest struct {
	ItemID            uuid.UUID   `json:"item_id"`
	Draft             *DraftInput `json:"draft,omitempty"`
	ChangeDescription string      `json:"change_description,omitempty"`
}

// CreateVersionRequest inserts a version directly. VersionNumber 0 lets
// the store assign the next number.
type CreateVersionRequest struct {
	ItemID            uuid.UUID      `json:"item_id"`
	VersionNumber     int            `json:"version_number,omitempty"`
	Title             string         `json:"title"`
	Summary           string         `json:"summary,omitempty"`
	Body              string         `json:"body"`
	ChangeDescription string         `json:"change_description,omitempty"`
	SnapshotStatus    SnapshotStatus `json:"snapshot_status,omitempty"`
}

// VersionPatch updates a version in place. Nil fields are left unchanged.
type VersionPatch struct {
	Title             *string `json:"title,omitempty"`
	Summary           *string `json:"summary,omitempty"`
	Body              *string `json:"body,omitempty"`
	ChangeDescription *string `json:"change_description,omitempty"`
}

// PresignUploadRequest asks for an upload URL in an item's namespace
type PresignUploadRequest struct {
	ItemID      uuid.UUID `json:"item_id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
}

// RecordImageRequest registers an uploaded file against an item
type RecordImageRequest struct {
	ItemID    uuid.UUID `json:"item_id"`
	FileURL   string    `json:"file_url"`
	UsageType UsageType `json:"usage_type"`
	AssetType string    `json:"asset_type,omitempty"`
	MimeType  string    `json:"mime_type,omitempty"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
}
