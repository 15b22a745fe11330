// Package gormstore implements portfolio.Repository on GORM. It is used
// with the pure-Go SQLite driver for single-binary deployments and tests.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
)

// Repository provides database operations for the portfolio.
type Repository struct {
	db *gorm.DB
}

// New creates a new Repository.
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// OpenSQLite opens a SQLite database with the pure-Go driver. In-memory
// databases are pinned to one connection so every query sees the same data.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// AutoMigrate creates or updates the portfolio tables.
func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(allModels()...)
}

func (r *Repository) conn(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

// WithTx runs fn in a transaction. Nested calls use savepoints.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx portfolio.Repository) error) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &Repository{db: tx})
	})
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key")
}

func translate(op string, err error) error {
	if isDuplicate(err) {
		return fmt.Errorf("%s: duplicate entry: %w", op, portfolio.ErrConflict)
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) || strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return fmt.Errorf("%s: referenced record %w", op, portfolio.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Content item operations

func (r *Repository) slugTaken(ctx context.Context, item *portfolio.ContentItem) (bool, error) {
	var count int64
	err := r.conn(ctx).Model(&itemModel{}).
		Where("type = ? AND slug = ? AND id <> ?", string(item.Type), item.Slug, item.ID.String()).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) CreateItem(ctx context.Context, item *portfolio.ContentItem) error {
	taken, err := r.slugTaken(ctx, item)
	if err != nil {
		return translate("check slug", err)
	}
	if taken {
		return portfolio.ErrSlugTaken
	}
	if err := r.conn(ctx).Create(toItemModel(item)).Error; err != nil {
		return translate("create item", err)
	}
	return nil
}

func (r *Repository) getItem(ctx context.Context, query string, args ...any) (*portfolio.ContentItem, error) {
	var m itemModel
	err := r.conn(ctx).Where(query, args...).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, portfolio.ErrItemNotFound
	}
	if err != nil {
		return nil, translate("get item", err)
	}
	return m.toDomain(), nil
}

func (r *Repository) GetItem(ctx context.Context, id uuid.UUID) (*portfolio.ContentItem, error) {
	return r.getItem(ctx, "id = ?", id.String())
}

func (r *Repository) GetItemBySlug(ctx context.Context, itemType portfolio.ContentType, slug string) (*portfolio.ContentItem, error) {
	return r.getItem(ctx, "type = ? AND slug = ?", string(itemType), slug)
}

func (r *Repository) UpdateItem(ctx context.Context, item *portfolio.ContentItem) error {
	if _, err := r.GetItem(ctx, item.ID); err != nil {
		return err
	}
	taken, err := r.slugTaken(ctx, item)
	if err != nil {
		return translate("check slug", err)
	}
	if taken {
		return portfolio.ErrSlugTaken
	}
	if err := r.conn(ctx).Save(toItemModel(item)).Error; err != nil {
		return translate("update item", err)
	}
	return nil
}

// DeleteItem removes the item with its versions, their asset references
// and its tag links.
func (r *Repository) DeleteItem(ctx context.Context, id uuid.UUID) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id.String()).Delete(&itemModel{})
		if res.Error != nil {
			return translate("delete item", res.Error)
		}
		if res.RowsAffected == 0 {
			return portfolio.ErrItemNotFound
		}
		versions := tx.Model(&versionModel{}).Select("id").Where("content_item_id = ?", id.String())
		if err := tx.Where("content_version_id IN (?)", versions).Delete(&assetRefModel{}).Error; err != nil {
			return translate("delete asset refs", err)
		}
		if err := tx.Where("content_item_id = ?", id.String()).Delete(&versionModel{}).Error; err != nil {
			return translate("delete versions", err)
		}
		if err := tx.Where("content_item_id = ?", id.String()).Delete(&itemTagModel{}).Error; err != nil {
			return translate("delete item tags", err)
		}
		return nil
	})
}

func (r *Repository) ListItems(ctx context.Context, filter portfolio.ItemFilter) ([]*portfolio.ContentItem, error) {
	db := r.conn(ctx)
	q := db.Model(&itemModel{})
	if filter.Type != "" {
		q = q.Where("type = ?", string(filter.Type))
	}
	if filter.OwnerID != nil {
		q = q.Where("owner_id = ?", filter.OwnerID.String())
	}
	published := filter.Published != nil && *filter.Published
	if filter.Published != nil {
		if published {
			q = q.Where("published_version_id IS NOT NULL")
		} else {
			q = q.Where("published_version_id IS NULL")
		}
	}
	if filter.TagSlug != "" {
		tagged := db.Model(&itemTagModel{}).
			Select("content_item_tags.content_item_id").
			Joins("JOIN tags ON tags.id = content_item_tags.tag_id").
			Where("tags.slug = ?", filter.TagSlug)
		q = q.Where("id IN (?)", tagged)
	}
	if published {
		q = q.Order("COALESCE(published_at, updated_at) DESC").Order("id")
	} else {
		q = q.Order("updated_at DESC").Order("id")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var models []itemModel
	if err := q.Find(&models).Error; err != nil {
		return nil, translate("list items", err)
	}
	items := make([]*portfolio.ContentItem, 0, len(models))
	for i := range models {
		items = append(items, models[i].toDomain())
	}
	return items, nil
}

// Version operations

func (r *Repository) CreateVersion(ctx context.Context, version *portfolio.ContentVersion) error {
	if _, err := r.GetItem(ctx, version.ContentItemID); err != nil {
		return err
	}

	var highest int
	err := r.conn(ctx).Model(&versionModel{}).
		Where("content_item_id = ?", version.ContentItemID.String()).
		Select("COALESCE(MAX(version_number), 0)").
		Scan(&highest).Error
	if err != nil {
		return translate("next version number", err)
	}
	next := highest + 1
	if version.VersionNumber == 0 {
		version.VersionNumber = next
	} else if version.VersionNumber != next {
		return fmt.Errorf("%w: got %d, expected %d", portfolio.ErrVersionConflict, version.VersionNumber, next)
	}

	if err := r.conn(ctx).Create(toVersionModel(version)).Error; err != nil {
		if isDuplicate(err) {
			return portfolio.ErrVersionConflict
		}
		return translate("create version", err)
	}
	return nil
}

func (r *Repository) getVersion(q *gorm.DB) (*portfolio.ContentVersion, error) {
	var m versionModel
	err := q.First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, portfolio.ErrVersionNotFound
	}
	if err != nil {
		return nil, translate("get version", err)
	}
	return m.toDomain(), nil
}

func (r *Repository) GetVersion(ctx context.Context, id uuid.UUID) (*portfolio.ContentVersion, error) {
	return r.getVersion(r.conn(ctx).Where("id = ?", id.String()))
}

func (r *Repository) GetVersionByNumber(ctx context.Context, itemID uuid.UUID, number int) (*portfolio.ContentVersion, error) {
	return r.getVersion(r.conn(ctx).Where("content_item_id = ? AND version_number = ?", itemID.String(), number))
}

func (r *Repository) GetLatestVersion(ctx context.Context, itemID uuid.UUID) (*portfolio.ContentVersion, error) {
	return r.getVersion(r.conn(ctx).Where("content_item_id = ?", itemID.String()).Order("version_number DESC"))
}

func (r *Repository) ListVersions(ctx context.Context, itemID uuid.UUID) ([]*portfolio.ContentVersion, error) {
	var models []versionModel
	err := r.conn(ctx).Where("content_item_id = ?", itemID.String()).
		Order("version_number DESC").Find(&models).Error
	if err != nil {
		return nil, translate("list versions", err)
	}
	versions := make([]*portfolio.ContentVersion, 0, len(models))
	for i := range models {
		versions = append(versions, models[i].toDomain())
	}
	return versions, nil
}

// UpdateVersion rewrites the mutable fields. Identity and numbering never change.
func (r *Repository) UpdateVersion(ctx context.Context, version *portfolio.ContentVersion) error {
	res := r.conn(ctx).Model(&versionModel{}).Where("id = ?", version.ID.String()).
		Updates(map[string]any{
			"title":              version.Title,
			"summary":            version.Summary,
			"body_json":          version.BodyJSON,
			"baseline_title":     version.BaselineTitle,
			"baseline_summary":   version.BaselineSummary,
			"baseline_body":      version.BaselineBody,
			"snapshot_status":    string(version.SnapshotStatus),
			"change_description": version.ChangeDescription,
			"updated_at":         version.UpdatedAt.UTC(),
		})
	if res.Error != nil {
		return translate("update version", res.Error)
	}
	if res.RowsAffected == 0 {
		return portfolio.ErrVersionNotFound
	}
	return nil
}

// Tag operations

func (r *Repository) UpsertTag(ctx context.Context, tag *portfolio.Tag) (*portfolio.Tag, error) {
	var existing tagModel
	err := r.conn(ctx).Where("slug = ?", tag.Slug).First(&existing).Error
	if err == nil {
		return existing.toDomain(), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, translate("get tag", err)
	}
	m := tagModel{ID: tag.ID.String(), Name: tag.Name, Slug: tag.Slug}
	if err := r.conn(ctx).Create(&m).Error; err != nil {
		return nil, translate("create tag", err)
	}
	return m.toDomain(), nil
}

func (r *Repository) SetItemTags(ctx context.Context, itemID uuid.UUID, tagIDs []uuid.UUID) error {
	if _, err := r.GetItem(ctx, itemID); err != nil {
		return err
	}
	if err := r.conn(ctx).Where("content_item_id = ?", itemID.String()).Delete(&itemTagModel{}).Error; err != nil {
		return translate("clear item tags", err)
	}
	for _, tagID := range tagIDs {
		var count int64
		if err := r.conn(ctx).Model(&tagModel{}).Where("id = ?", tagID.String()).Count(&count).Error; err != nil {
			return translate("check tag", err)
		}
		if count == 0 {
			return fmt.Errorf("tag %s: %w", tagID, portfolio.ErrNotFound)
		}
		link := itemTagModel{ContentItemID: itemID.String(), TagID: tagID.String()}
		if err := r.conn(ctx).Create(&link).Error; err != nil {
			return translate("set item tag", err)
		}
	}
	return nil
}

func (r *Repository) ListItemTags(ctx context.Context, itemID uuid.UUID) ([]*portfolio.Tag, error) {
	var models []tagModel
	err := r.conn(ctx).Model(&tagModel{}).
		Joins("JOIN content_item_tags ON content_item_tags.tag_id = tags.id").
		Where("content_item_tags.content_item_id = ?", itemID.String()).
		Order("tags.name").Find(&models).Error
	if err != nil {
		return nil, translate("list item tags", err)
	}
	tags := make([]*portfolio.Tag, 0, len(models))
	for i := range models {
		tags = append(tags, models[i].toDomain())
	}
	return tags, nil
}

// Profile operations

func (r *Repository) UpsertProfile(ctx context.Context, profile *portfolio.Profile) error {
	m := profileModel{ID: profile.ID.String(), DisplayName: profile.DisplayName}
	if err := r.conn(ctx).Save(&m).Error; err != nil {
		return translate("upsert profile", err)
	}
	return nil
}

func (r *Repository) GetProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*portfolio.Profile, error) {
	result := make(map[uuid.UUID]*portfolio.Profile, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	var models []profileModel
	if err := r.conn(ctx).Where("id IN ?", keys).Find(&models).Error; err != nil {
		return nil, translate("get profiles", err)
	}
	for _, m := range models {
		id := uuid.MustParse(m.ID)
		result[id] = &portfolio.Profile{ID: id, DisplayName: m.DisplayName}
	}
	return result, nil
}

// Asset operations

func (r *Repository) CreateAsset(ctx context.Context, asset *portfolio.Asset) error {
	if err := r.conn(ctx).Create(toAssetModel(asset)).Error; err != nil {
		return translate("create asset", err)
	}
	return nil
}

func (r *Repository) getAsset(ctx context.Context, query string, arg any) (*portfolio.Asset, error) {
	var m assetModel
	err := r.conn(ctx).Where(query, arg).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, portfolio.ErrAssetNotFound
	}
	if err != nil {
		return nil, translate("get asset", err)
	}
	return m.toDomain(), nil
}

func (r *Repository) GetAsset(ctx context.Context, id uuid.UUID) (*portfolio.Asset, error) {
	return r.getAsset(ctx, "id = ?", id.String())
}

func (r *Repository) GetAssetByObjectKey(ctx context.Context, objectKey string) (*portfolio.Asset, error) {
	return r.getAsset(ctx, "object_key = ?", objectKey)
}

func (r *Repository) ListAssetsByKeyPrefix(ctx context.Context, prefix string) ([]*portfolio.Asset, error) {
	var models []assetModel
	err := r.conn(ctx).Where("substr(object_key, 1, ?) = ?", len(prefix), prefix).
		Order("object_key").Find(&models).Error
	if err != nil {
		return nil, translate("list assets", err)
	}
	assets := make([]*portfolio.Asset, 0, len(models))
	for i := range models {
		assets = append(assets, models[i].toDomain())
	}
	return assets, nil
}

// DeleteAsset removes the asset and any remaining references to it.
func (r *Repository) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id.String()).Delete(&assetModel{})
		if res.Error != nil {
			return translate("delete asset", res.Error)
		}
		if res.RowsAffected == 0 {
			return portfolio.ErrAssetNotFound
		}
		if err := tx.Where("asset_id = ?", id.String()).Delete(&assetRefModel{}).Error; err != nil {
			return translate("delete asset refs", err)
		}
		return nil
	})
}

func (r *Repository) AddVersionAssetRef(ctx context.Context, ref portfolio.VersionAssetRef) error {
	if _, err := r.GetVersion(ctx, ref.ContentVersionID); err != nil {
		return err
	}
	if _, err := r.GetAsset(ctx, ref.AssetID); err != nil {
		return err
	}
	m := assetRefModel{
		ContentVersionID: ref.ContentVersionID.String(),
		AssetID:          ref.AssetID.String(),
		UsageType:        string(ref.UsageType),
	}
	if err := r.conn(ctx).Where(&m).FirstOrCreate(&m).Error; err != nil {
		return translate("add asset ref", err)
	}
	return nil
}

func (r *Repository) RemoveVersionAssetRef(ctx context.Context, ref portfolio.VersionAssetRef) error {
	err := r.conn(ctx).
		Where("content_version_id = ? AND asset_id = ? AND usage_type = ?",
			ref.ContentVersionID.String(), ref.AssetID.String(), string(ref.UsageType)).
		Delete(&assetRefModel{}).Error
	if err != nil {
		return translate("remove asset ref", err)
	}
	return nil
}

func (r *Repository) ListVersionAssetRefs(ctx context.Context, versionID uuid.UUID) ([]portfolio.VersionAssetRef, error) {
	var models []assetRefModel
	err := r.conn(ctx).Where("content_version_id = ?", versionID.String()).
		Order("usage_type").Order("asset_id").Find(&models).Error
	if err != nil {
		return nil, translate("list asset refs", err)
	}
	refs := make([]portfolio.VersionAssetRef, 0, len(models))
	for _, m := range models {
		refs = append(refs, portfolio.VersionAssetRef{
			ContentVersionID: uuid.MustParse(m.ContentVersionID),
			AssetID:          uuid.MustParse(m.AssetID),
			UsageType:        portfolio.UsageType(m.UsageType),
		})
	}
	return refs, nil
}

func (r *Repository) CountAssetRefs(ctx context.Context, assetID uuid.UUID) (int, error) {
	var count int64
	if err := r.conn(ctx).Model(&assetRefModel{}).Where("asset_id = ?", assetID.String()).Count(&count).Error; err != nil {
		return 0, translate("count asset refs", err)
	}
	return int(count), nil
}

// Deletion queue operations

func (r *Repository) EnqueueAssetDeletion(ctx context.Context, entry *portfolio.DeletionQueueEntry) error {
	var count int64
	if err := r.conn(ctx).Model(&deletionModel{}).Where("asset_id = ?", entry.AssetID.String()).Count(&count).Error; err != nil {
		return translate("check deletion queue", err)
	}
	if count > 0 {
		return nil
	}
	if err := r.conn(ctx).Create(toDeletionModel(entry)).Error; err != nil {
		return translate("enqueue asset deletion", err)
	}
	return nil
}

// ClaimAssetDeletions selects due entries and moves them to processing.
// Each transition is guarded by the status it was read with, so an entry
// claimed concurrently by another collector is skipped.
func (r *Repository) ClaimAssetDeletions(ctx context.Context, limit int, now, staleBefore time.Time) ([]*portfolio.DeletionQueueEntry, error) {
	now, staleBefore = now.UTC(), staleBefore.UTC()
	var claimed []*portfolio.DeletionQueueEntry

	err := r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("(status IN ? AND next_attempt_at <= ?) OR (status = ? AND locked_at < ?)",
			[]string{string(portfolio.DeletionPending), string(portfolio.DeletionFailed)}, now,
			string(portfolio.DeletionProcessing), staleBefore).
			Order("next_attempt_at").Order("created_at")
		if limit > 0 {
			q = q.Limit(limit)
		}
		var due []deletionModel
		if err := q.Find(&due).Error; err != nil {
			return err
		}

		for i := range due {
			m := due[i]
			res := tx.Model(&deletionModel{}).
				Where("id = ? AND status = ?", m.ID, m.Status).
				Updates(map[string]any{
					"status":    string(portfolio.DeletionProcessing),
					"locked_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			m.Status = string(portfolio.DeletionProcessing)
			m.LockedAt = &now
			claimed = append(claimed, m.toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, translate("claim asset deletions", err)
	}
	if claimed == nil {
		claimed = []*portfolio.DeletionQueueEntry{}
	}
	return claimed, nil
}

func (r *Repository) RequeueAssetDeletion(ctx context.Context, id uuid.UUID, attempt int, nextAttemptAt time.Time, lastErr string) error {
	res := r.conn(ctx).Model(&deletionModel{}).Where("id = ?", id.String()).
		Updates(map[string]any{
			"status":          string(portfolio.DeletionFailed),
			"attempt_count":   attempt,
			"next_attempt_at": nextAttemptAt.UTC(),
			"last_error":      lastErr,
			"locked_at":       nil,
		})
	if res.Error != nil {
		return translate("requeue asset deletion", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("deletion entry %s: %w", id, portfolio.ErrNotFound)
	}
	return nil
}

func (r *Repository) DeleteAssetDeletion(ctx context.Context, id uuid.UUID) error {
	if err := r.conn(ctx).Where("id = ?", id.String()).Delete(&deletionModel{}).Error; err != nil {
		return translate("delete asset deletion", err)
	}
	return nil
}

func (r *Repository) ListAssetDeletions(ctx context.Context) ([]*portfolio.DeletionQueueEntry, error) {
	var models []deletionModel
	if err := r.conn(ctx).Order("next_attempt_at").Order("created_at").Find(&models).Error; err != nil {
		return nil, translate("list asset deletions", err)
	}
	entries := make([]*portfolio.DeletionQueueEntry, 0, len(models))
	for i := range models {
		entries = append(entries, models[i].toDomain())
	}
	return entries, nil
}

var _ portfolio.Repository = (*Repository)(nil)
