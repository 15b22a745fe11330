package gormstore

import (
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
)

// itemModel is the GORM model for a content item.
type itemModel struct {
	ID                 string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	Type               string     `gorm:"column:type;not null;uniqueIndex:idx_items_type_slug,priority:1"`
	Title              string     `gorm:"column:title;not null"`
	Slug               string     `gorm:"column:slug;not null;uniqueIndex:idx_items_type_slug,priority:2"`
	Summary            string     `gorm:"column:summary"`
	CoverImage         string     `gorm:"column:cover_image"`
	OwnerID            string     `gorm:"column:owner_id;type:varchar(36);not null;index"`
	Status             string     `gorm:"column:status;not null;default:draft"`
	CurrentVersionID   *string    `gorm:"column:current_version_id;type:varchar(36)"`
	PublishedVersionID *string    `gorm:"column:published_version_id;type:varchar(36)"`
	PublishedAt        *time.Time `gorm:"column:published_at"`
	CreatedAt          time.Time  `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

func (itemModel) TableName() string { return "content_items" }

type versionModel struct {
	ID                string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	ContentItemID     string    `gorm:"column:content_item_id;type:varchar(36);not null;uniqueIndex:idx_versions_item_number,priority:1"`
	VersionNumber     int       `gorm:"column:version_number;not null;uniqueIndex:idx_versions_item_number,priority:2"`
	Title             string    `gorm:"column:title;not null"`
	Summary           string    `gorm:"column:summary"`
	BodyJSON          string    `gorm:"column:body_json"`
	BaselineTitle     string    `gorm:"column:baseline_title"`
	BaselineSummary   string    `gorm:"column:baseline_summary"`
	BaselineBody      string    `gorm:"column:baseline_body"`
	SnapshotStatus    string    `gorm:"column:snapshot_status;not null;default:draft"`
	CreatedBy         string    `gorm:"column:created_by;type:varchar(36);not null"`
	ChangeDescription string    `gorm:"column:change_description"`
	CreatedAt         time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt         time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

func (versionModel) TableName() string { return "content_versions" }

type tagModel struct {
	ID   string `gorm:"primaryKey;column:id;type:varchar(36)"`
	Name string `gorm:"column:name;not null"`
	Slug string `gorm:"column:slug;not null;uniqueIndex"`
}

func (tagModel) TableName() string { return "tags" }

type itemTagModel struct {
	ContentItemID string `gorm:"primaryKey;column:content_item_id;type:varchar(36)"`
	TagID         string `gorm:"primaryKey;column:tag_id;type:varchar(36)"`
}

func (itemTagModel) TableName() string { return "content_item_tags" }

type profileModel struct {
	ID          string `gorm:"primaryKey;column:id;type:varchar(36)"`
	DisplayName string `gorm:"column:display_name"`
}

func (profileModel) TableName() string { return "profiles" }

type assetModel struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	OwnerID   string    `gorm:"column:owner_id;type:varchar(36);not null"`
	ObjectKey string    `gorm:"column:object_key;not null;uniqueIndex"`
	PublicURL string    `gorm:"column:public_url;not null"`
	AssetType string    `gorm:"column:asset_type;not null;default:image"`
	MimeType  string    `gorm:"column:mime_type"`
	SizeBytes int64     `gorm:"column:size_bytes"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
}

func (assetModel) TableName() string { return "assets" }

type assetRefModel struct {
	ContentVersionID string `gorm:"primaryKey;column:content_version_id;type:varchar(36)"`
	AssetID          string `gorm:"primaryKey;column:asset_id;type:varchar(36);index"`
	UsageType        string `gorm:"primaryKey;column:usage_type"`
}

func (assetRefModel) TableName() string { return "content_version_assets" }

type deletionModel struct {
	ID            string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	AssetID       string     `gorm:"column:asset_id;type:varchar(36);not null;uniqueIndex"`
	ObjectKey     string     `gorm:"column:object_key;not null"`
	Status        string     `gorm:"column:status;not null;default:pending;index:idx_deletion_due,priority:1"`
	AttemptCount  int        `gorm:"column:attempt_count;default:0"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at;not null;index:idx_deletion_due,priority:2"`
	LastError     string     `gorm:"column:last_error"`
	LockedAt      *time.Time `gorm:"column:locked_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null;autoCreateTime:false"`
}

func (deletionModel) TableName() string { return "asset_deletion_queue" }

func allModels() []any {
	return []any{
		&itemModel{}, &versionModel{}, &tagModel{}, &itemTagModel{},
		&profileModel{}, &assetModel{}, &assetRefModel{}, &deletionModel{},
	}
}

// Conversions. Times are stored in UTC so text-backed dialects order them correctly.

func idPtr(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func parseIDPtr(s *string) *uuid.UUID {
	if s == nil || *s == "" {
		return nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &id
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func toItemModel(item *portfolio.ContentItem) *itemModel {
	return &itemModel{
		ID:                 item.ID.String(),
		Type:               string(item.Type),
		Title:              item.Title,
		Slug:               item.Slug,
		Summary:            item.Summary,
		CoverImage:         item.CoverImage,
		OwnerID:            item.OwnerID.String(),
		Status:             string(item.Status),
		CurrentVersionID:   idPtr(item.CurrentVersionID),
		PublishedVersionID: idPtr(item.PublishedVersionID),
		PublishedAt:        utcPtr(item.PublishedAt),
		CreatedAt:          item.CreatedAt.UTC(),
		UpdatedAt:          item.UpdatedAt.UTC(),
	}
}

func (m *itemModel) toDomain() *portfolio.ContentItem {
	return &portfolio.ContentItem{
		ID:                 uuid.MustParse(m.ID),
		Type:               portfolio.ContentType(m.Type),
		Title:              m.Title,
		Slug:               m.Slug,
		Summary:            m.Summary,
		CoverImage:         m.CoverImage,
		OwnerID:            uuid.MustParse(m.OwnerID),
		Status:             portfolio.ItemStatus(m.Status),
		CurrentVersionID:   parseIDPtr(m.CurrentVersionID),
		PublishedVersionID: parseIDPtr(m.PublishedVersionID),
		PublishedAt:        utcPtr(m.PublishedAt),
		CreatedAt:          m.CreatedAt.UTC(),
		UpdatedAt:          m.UpdatedAt.UTC(),
	}
}

func toVersionModel(v *portfolio.ContentVersion) *versionModel {
	return &versionModel{
		ID:                v.ID.String(),
		ContentItemID:     v.ContentItemID.String(),
		VersionNumber:     v.VersionNumber,
		Title:             v.Title,
		Summary:           v.Summary,
		BodyJSON:          v.BodyJSON,
		BaselineTitle:     v.BaselineTitle,
		BaselineSummary:   v.BaselineSummary,
		BaselineBody:      v.BaselineBody,
		SnapshotStatus:    string(v.SnapshotStatus),
		CreatedBy:         v.CreatedBy.String(),
		ChangeDescription: v.ChangeDescription,
		CreatedAt:         v.CreatedAt.UTC(),
		UpdatedAt:         v.UpdatedAt.UTC(),
	}
}

func (m *versionModel) toDomain() *portfolio.ContentVersion {
	return &portfolio.ContentVersion{
		ID:                uuid.MustParse(m.ID),
		ContentItemID:     uuid.MustParse(m.ContentItemID),
		VersionNumber:     m.VersionNumber,
		Title:             m.Title,
		Summary:           m.Summary,
		BodyJSON:          m.BodyJSON,
		BaselineTitle:     m.BaselineTitle,
		BaselineSummary:   m.BaselineSummary,
		BaselineBody:      m.BaselineBody,
		SnapshotStatus:    portfolio.SnapshotStatus(m.SnapshotStatus),
		CreatedBy:         uuid.MustParse(m.CreatedBy),
		ChangeDescription: m.ChangeDescription,
		CreatedAt:         m.CreatedAt.UTC(),
		UpdatedAt:         m.UpdatedAt.UTC(),
	}
}

func (m *tagModel) toDomain() *portfolio.Tag {
	return &portfolio.Tag{ID: uuid.MustParse(m.ID), Name: m.Name, Slug: m.Slug}
}

func toAssetModel(a *portfolio.Asset) *assetModel {
	return &assetModel{
		ID:        a.ID.String(),
		OwnerID:   a.OwnerID.String(),
		ObjectKey: a.ObjectKey,
		PublicURL: a.PublicURL,
		AssetType: a.AssetType,
		MimeType:  a.MimeType,
		SizeBytes: a.SizeBytes,
		CreatedAt: a.CreatedAt.UTC(),
	}
}

func (m *assetModel) toDomain() *portfolio.Asset {
	return &portfolio.Asset{
		ID:        uuid.MustParse(m.ID),
		OwnerID:   uuid.MustParse(m.OwnerID),
		ObjectKey: m.ObjectKey,
		PublicURL: m.PublicURL,
		AssetType: m.AssetType,
		MimeType:  m.MimeType,
		SizeBytes: m.SizeBytes,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

func toDeletionModel(e *portfolio.DeletionQueueEntry) *deletionModel {
	return &deletionModel{
		ID:            e.ID.String(),
		AssetID:       e.AssetID.String(),
		ObjectKey:     e.ObjectKey,
		Status:        string(e.Status),
		AttemptCount:  e.AttemptCount,
		NextAttemptAt: e.NextAttemptAt.UTC(),
		LastError:     e.LastError,
		LockedAt:      utcPtr(e.LockedAt),
		CreatedAt:     e.CreatedAt.UTC(),
	}
}

func (m *deletionModel) toDomain() *portfolio.DeletionQueueEntry {
	return &portfolio.DeletionQueueEntry{
		ID:            uuid.MustParse(m.ID),
		AssetID:       uuid.MustParse(m.AssetID),
		ObjectKey:     m.ObjectKey,
		Status:        portfolio.DeletionStatus(m.Status),
		AttemptCount:  m.AttemptCount,
		NextAttemptAt: m.NextAttemptAt.UTC(),
		LastError:     m.LastError,
		LockedAt:      utcPtr(m.LockedAt),
		CreatedAt:     m.CreatedAt.UTC(),
	}
}
