package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
)

//go:embed schema.sql
var schema string

// DBTX is an interface that allows us to use either a connection pool or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
}

// Repository implements portfolio.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Migrate creates the tables the repository needs. It is idempotent.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Schema returns the DDL applied by Migrate.
func Schema() string {
	return schema
}

// WithTx runs fn in a transaction. Called on a repository that is already
// bound to a transaction, it nests through a savepoint.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx portfolio.Repository) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &Repository{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			switch pgErr.ConstraintName {
			case "content_items_type_slug_key":
				return portfolio.ErrSlugTaken
			case "content_versions_item_number_key":
				return portfolio.ErrVersionConflict
			}
			return fmt.Errorf("%s: duplicate entry: %w", operation, portfolio.ErrConflict)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: referenced record %w", operation, portfolio.ErrNotFound)
		case "23502": // not_null_violation
			return fmt.Errorf("%s: required field %s is missing: %w", operation, pgErr.ColumnName, portfolio.ErrInvalidInput)
		case "42P01": // undefined_table
			return fmt.Errorf("%s: table does not exist - database migration required", operation)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Content item operations

const itemColumns = `id, type, title, slug, summary, cover_image, owner_id, status,
	current_version_id, published_version_id, published_at, created_at, updated_at`

func scanItem(row rowScanner) (*portfolio.ContentItem, error) {
	var item portfolio.ContentItem
	err := row.Scan(
		&item.ID, &item.Type, &item.Title, &item.Slug, &item.Summary, &item.CoverImage,
		&item.OwnerID, &item.Status, &item.CurrentVersionID, &item.PublishedVersionID,
		&item.PublishedAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) CreateItem(ctx context.Context, item *portfolio.ContentItem) error {
	query := `
		INSERT INTO content_items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.Exec(ctx, query,
		item.ID, item.Type, item.Title, item.Slug, item.Summary, item.CoverImage,
		item.OwnerID, item.Status, item.CurrentVersionID, item.PublishedVersionID,
		item.PublishedAt, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("create item", err)
	}
	return nil
}

func (r *Repository) GetItem(ctx context.Context, id uuid.UUID) (*portfolio.ContentItem, error) {
	query := `SELECT ` + itemColumns + ` FROM content_items WHERE id = $1`

	item, err := scanItem(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, portfolio.ErrItemNotFound
	}
	if err != nil {
		return nil, r.handlePostgresError("get item", err)
	}
	return item, nil
}

func (r *Repository) GetItemBySlug(ctx context.Context, itemType portfolio.ContentType, slug string) (*portfolio.ContentItem, error) {
	query := `SELECT ` + itemColumns + ` FROM content_items WHERE type = $1 AND slug = $2`

	item, err := scanItem(r.db.QueryRow(ctx, query, itemType, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, portfolio.ErrItemNotFound
	}
	if err != nil {
		return nil, r.handlePostgresError("get item by slug", err)
	}
	return item, nil
}

func (r *Repository) UpdateItem(ctx context.Context, item *portfolio.ContentItem) error {
	query := `
		UPDATE content_items SET
			type = $2, title = $3, slug = $4, summary = $5, cover_image = $6,
			owner_id = $7, status = $8, current_version_id = $9,
			published_version_id = $10, published_at = $11, updated_at = $12
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		item.ID, item.Type, item.Title, item.Slug, item.Summary, item.CoverImage,
		item.OwnerID, item.Status, item.CurrentVersionID, item.PublishedVersionID,
		item.PublishedAt, item.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("update item", err)
	}
	if tag.RowsAffected() == 0 {
		return portfolio.ErrItemNotFound
	}
	return nil
}

// DeleteItem removes the item. Versions, their asset references and tag
// links go with it through ON DELETE CASCADE.
func (r *Repository) DeleteItem(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM content_items WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete item", err)
	}
	if tag.RowsAffected() == 0 {
		return portfolio.ErrItemNotFound
	}
	return nil
}

func (r *Repository) ListItems(ctx context.Context, filter portfolio.ItemFilter) ([]*portfolio.ContentItem, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Type != "" {
		where = append(where, "i.type = "+arg(filter.Type))
	}
	if filter.OwnerID != nil {
		where = append(where, "i.owner_id = "+arg(*filter.OwnerID))
	}
	if filter.Published != nil {
		if *filter.Published {
			where = append(where, "i.published_version_id IS NOT NULL")
		} else {
			where = append(where, "i.published_version_id IS NULL")
		}
	}
	if filter.TagSlug != "" {
		where = append(where, `EXISTS (
			SELECT 1 FROM content_item_tags it JOIN tags t ON t.id = it.tag_id
			WHERE it.content_item_id = i.id AND t.slug = `+arg(filter.TagSlug)+`)`)
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + prefixColumns("i", itemColumns) + ` FROM content_items i`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	if filter.Published != nil && *filter.Published {
		b.WriteString(" ORDER BY COALESCE(i.published_at, i.updated_at) DESC, i.id::text")
	} else {
		b.WriteString(" ORDER BY i.updated_at DESC, i.id::text")
	}
	if filter.Limit > 0 {
		b.WriteString(" LIMIT " + arg(filter.Limit))
	}
	if filter.Offset > 0 {
		b.WriteString(" OFFSET " + arg(filter.Offset))
	}

	rows, err := r.db.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, r.handlePostgresError("list items", err)
	}
	defer rows.Close()

	items := []*portfolio.ContentItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan item", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// Version operations

const versionColumns = `id, content_item_id, version_number, title, summary, body_json,
	baseline_title, baseline_summary, baseline_body,
	snapshot_status, created_by, change_description, created_at, updated_at`

func scanVersion(row rowScanner) (*portfolio.ContentVersion, error) {
	var v portfolio.ContentVersion
	err := row.Scan(
		&v.ID, &v.ContentItemID, &v.VersionNumber, &v.Title, &v.Summary, &v.BodyJSON,
		&v.BaselineTitle, &v.BaselineSummary, &v.BaselineBody,
		&v.SnapshotStatus, &v.CreatedBy, &v.ChangeDescription, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// CreateVersion numbers the version MAX(version_number)+1 when it has no
// number. Concurrent writers racing for the same number hit the unique
// constraint and get ErrVersionConflict.
func (r *Repository) CreateVersion(ctx context.Context, version *portfolio.ContentVersion) error {
	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM content_items WHERE id = $1)`, version.ContentItemID).Scan(&exists); err != nil {
		return r.handlePostgresError("create version", err)
	}
	if !exists {
		return portfolio.ErrItemNotFound
	}

	var highest int
	if err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(version_number), 0) FROM content_versions WHERE content_item_id = $1`,
		version.ContentItemID).Scan(&highest); err != nil {
		return r.handlePostgresError("next version number", err)
	}
	next := highest + 1
	if version.VersionNumber == 0 {
		version.VersionNumber = next
	} else if version.VersionNumber != next {
		return fmt.Errorf("%w: got %d, expected %d", portfolio.ErrVersionConflict, version.VersionNumber, next)
	}

	query := `
		INSERT INTO content_versions (` + versionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.Exec(ctx, query,
		version.ID, version.ContentItemID, version.VersionNumber, version.Title, version.Summary,
		version.BodyJSON, version.BaselineTitle, version.BaselineSummary, version.BaselineBody,
		version.SnapshotStatus, version.CreatedBy, version.ChangeDescription,
		version.CreatedAt, version.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("create version", err)
	}
	return nil
}

func (r *Repository) getVersion(ctx context.Context, op, where string, args ...any) (*portfolio.ContentVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM content_versions WHERE ` + where

	v, err := scanVersion(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, portfolio.ErrVersionNotFound
	}
	if err != nil {
		return nil, r.handlePostgresError(op, err)
	}
	return v, nil
}

func (r *Repository) GetVersion(ctx context.Context, id uuid.UUID) (*portfolio.ContentVersion, error) {
	return r.getVersion(ctx, "get version", "id = $1", id)
}

func (r *Repository) GetVersionByNumber(ctx context.Context, itemID uuid.UUID, number int) (*portfolio.ContentVersion, error) {
	return r.getVersion(ctx, "get version by number", "content_item_id = $1 AND version_number = $2", itemID, number)
}

func (r *Repository) GetLatestVersion(ctx context.Context, itemID uuid.UUID) (*portfolio.ContentVersion, error) {
	return r.getVersion(ctx, "get latest version",
		"content_item_id = $1 ORDER BY version_number DESC LIMIT 1", itemID)
}

func (r *Repository) ListVersions(ctx context.Context, itemID uuid.UUID) ([]*portfolio.ContentVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM content_versions
		WHERE content_item_id = $1 ORDER BY version_number DESC`

	rows, err := r.db.Query(ctx, query, itemID)
	if err != nil {
		return nil, r.handlePostgresError("list versions", err)
	}
	defer rows.Close()

	versions := []*portfolio.ContentVersion{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan version", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// UpdateVersion rewrites the mutable fields. Identity and numbering never change.
func (r *Repository) UpdateVersion(ctx context.Context, version *portfolio.ContentVersion) error {
	query := `
		UPDATE content_versions SET
			title = $2, summary = $3, body_json = $4, snapshot_status = $5,
			change_description = $6, updated_at = $7,
			baseline_title = $8, baseline_summary = $9, baseline_body = $10
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		version.ID, version.Title, version.Summary, version.BodyJSON,
		version.SnapshotStatus, version.ChangeDescription, version.UpdatedAt,
		version.BaselineTitle, version.BaselineSummary, version.BaselineBody)
	if err != nil {
		return r.handlePostgresError("update version", err)
	}
	if tag.RowsAffected() == 0 {
		return portfolio.ErrVersionNotFound
	}
	return nil
}

// Tag operations

func (r *Repository) UpsertTag(ctx context.Context, tag *portfolio.Tag) (*portfolio.Tag, error) {
	query := `
		INSERT INTO tags (id, name, slug) VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET slug = EXCLUDED.slug
		RETURNING id, name, slug`

	var t portfolio.Tag
	if err := r.db.QueryRow(ctx, query, tag.ID, tag.Name, tag.Slug).Scan(&t.ID, &t.Name, &t.Slug); err != nil {
		return nil, r.handlePostgresError("upsert tag", err)
	}
	return &t, nil
}

func (r *Repository) SetItemTags(ctx context.Context, itemID uuid.UUID, tagIDs []uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM content_item_tags WHERE content_item_id = $1`, itemID); err != nil {
		return r.handlePostgresError("clear item tags", err)
	}
	for _, tagID := range tagIDs {
		_, err := r.db.Exec(ctx,
			`INSERT INTO content_item_tags (content_item_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			itemID, tagID)
		if err != nil {
			return r.handlePostgresError("set item tag", err)
		}
	}
	return nil
}

func (r *Repository) ListItemTags(ctx context.Context, itemID uuid.UUID) ([]*portfolio.Tag, error) {
	query := `
		SELECT t.id, t.name, t.slug FROM tags t
		JOIN content_item_tags it ON it.tag_id = t.id
		WHERE it.content_item_id = $1
		ORDER BY t.name`

	rows, err := r.db.Query(ctx, query, itemID)
	if err != nil {
		return nil, r.handlePostgresError("list item tags", err)
	}
	defer rows.Close()

	tags := []*portfolio.Tag{}
	for rows.Next() {
		var t portfolio.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug); err != nil {
			return nil, r.handlePostgresError("scan tag", err)
		}
		tags = append(tags, &t)
	}
	return tags, rows.Err()
}

// Profile operations

func (r *Repository) UpsertProfile(ctx context.Context, profile *portfolio.Profile) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO profiles (id, display_name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name`,
		profile.ID, profile.DisplayName)
	if err != nil {
		return r.handlePostgresError("upsert profile", err)
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

	rows, err := r.db.Query(ctx, `SELECT id, display_name FROM profiles WHERE id = ANY($1::uuid[])`, keys)
	if err != nil {
		return nil, r.handlePostgresError("get profiles", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p portfolio.Profile
		if err := rows.Scan(&p.ID, &p.DisplayName); err != nil {
			return nil, r.handlePostgresError("scan profile", err)
		}
		result[p.ID] = &p
	}
	return result, rows.Err()
}

// Asset operations

const assetColumns = `id, owner_id, object_key, public_url, asset_type, mime_type, size_bytes, created_at`

func scanAsset(row rowScanner) (*portfolio.Asset, error) {
	var a portfolio.Asset
	err := row.Scan(&a.ID, &a.OwnerID, &a.ObjectKey, &a.PublicURL, &a.AssetType, &a.MimeType, &a.SizeBytes, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repository) CreateAsset(ctx context.Context, asset *portfolio.Asset) error {
	query := `INSERT INTO assets (` + assetColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		asset.ID, asset.OwnerID, asset.ObjectKey, asset.PublicURL,
		asset.AssetType, asset.MimeType, asset.SizeBytes, asset.CreatedAt)
	if err != nil {
		return r.handlePostgresError("create asset", err)
	}
	return nil
}

func (r *Repository) getAsset(ctx context.Context, op, where string, arg any) (*portfolio.Asset, error) {
	a, err := scanAsset(r.db.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, portfolio.ErrAssetNotFound
	}
	if err != nil {
		return nil, r.handlePostgresError(op, err)
	}
	return a, nil
}

func (r *Repository) GetAsset(ctx context.Context, id uuid.UUID) (*portfolio.Asset, error) {
	return r.getAsset(ctx, "get asset", "id = $1", id)
}

func (r *Repository) GetAssetByObjectKey(ctx context.Context, objectKey string) (*portfolio.Asset, error) {
	return r.getAsset(ctx, "get asset by key", "object_key = $1", objectKey)
}

func (r *Repository) ListAssetsByKeyPrefix(ctx context.Context, prefix string) ([]*portfolio.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets
		WHERE starts_with(object_key, $1) ORDER BY object_key`

	rows, err := r.db.Query(ctx, query, prefix)
	if err != nil {
		return nil, r.handlePostgresError("list assets", err)
	}
	defer rows.Close()

	assets := []*portfolio.Asset{}
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan asset", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// DeleteAsset removes the asset. Remaining references cascade.
func (r *Repository) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete asset", err)
	}
	if tag.RowsAffected() == 0 {
		return portfolio.ErrAssetNotFound
	}
	return nil
}

func (r *Repository) AddVersionAssetRef(ctx context.Context, ref portfolio.VersionAssetRef) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO content_version_assets (content_version_id, asset_id, usage_type)
		VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		ref.ContentVersionID, ref.AssetID, ref.UsageType)
	if err != nil {
		return r.handlePostgresError("add asset ref", err)
	}
	return nil
}

func (r *Repository) RemoveVersionAssetRef(ctx context.Context, ref portfolio.VersionAssetRef) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM content_version_assets
		WHERE content_version_id = $1 AND asset_id = $2 AND usage_type = $3`,
		ref.ContentVersionID, ref.AssetID, ref.UsageType)
	if err != nil {
		return r.handlePostgresError("remove asset ref", err)
	}
	return nil
}

func (r *Repository) ListVersionAssetRefs(ctx context.Context, versionID uuid.UUID) ([]portfolio.VersionAssetRef, error) {
	rows, err := r.db.Query(ctx, `
		SELECT content_version_id, asset_id, usage_type FROM content_version_assets
		WHERE content_version_id = $1 ORDER BY usage_type, asset_id::text`, versionID)
	if err != nil {
		return nil, r.handlePostgresError("list asset refs", err)
	}
	defer rows.Close()

	refs := []portfolio.VersionAssetRef{}
	for rows.Next() {
		var ref portfolio.VersionAssetRef
		if err := rows.Scan(&ref.ContentVersionID, &ref.AssetID, &ref.UsageType); err != nil {
			return nil, r.handlePostgresError("scan asset ref", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *Repository) CountAssetRefs(ctx context.Context, assetID uuid.UUID) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM content_version_assets WHERE asset_id = $1`, assetID).Scan(&count); err != nil {
		return 0, r.handlePostgresError("count asset refs", err)
	}
	return count, nil
}

// Deletion queue operations

const queueColumns = `id, asset_id, object_key, status, attempt_count, next_attempt_at, last_error, locked_at, created_at`

func scanEntry(row rowScanner) (*portfolio.DeletionQueueEntry, error) {
	var e portfolio.DeletionQueueEntry
	err := row.Scan(&e.ID, &e.AssetID, &e.ObjectKey, &e.Status, &e.AttemptCount,
		&e.NextAttemptAt, &e.LastError, &e.LockedAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *Repository) EnqueueAssetDeletion(ctx context.Context, entry *portfolio.DeletionQueueEntry) error {
	query := `INSERT INTO asset_deletion_queue (` + queueColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (asset_id) DO NOTHING`

	_, err := r.db.Exec(ctx, query,
		entry.ID, entry.AssetID, entry.ObjectKey, entry.Status, entry.AttemptCount,
		entry.NextAttemptAt, entry.LastError, entry.LockedAt, entry.CreatedAt)
	if err != nil {
		return r.handlePostgresError("enqueue asset deletion", err)
	}
	return nil
}

// ClaimAssetDeletions locks due entries with FOR UPDATE SKIP LOCKED so
// concurrent collectors never claim the same row.
func (r *Repository) ClaimAssetDeletions(ctx context.Context, limit int, now, staleBefore time.Time) ([]*portfolio.DeletionQueueEntry, error) {
	var limitArg *int
	if limit > 0 {
		limitArg = &limit
	}
	query := `
		UPDATE asset_deletion_queue q SET status = 'processing', locked_at = $1
		FROM (
			SELECT id FROM asset_deletion_queue
			WHERE (status IN ('pending', 'failed') AND next_attempt_at <= $1)
			   OR (status = 'processing' AND locked_at < $2)
			ORDER BY next_attempt_at, created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		) due
		WHERE q.id = due.id
		RETURNING ` + prefixColumns("q", queueColumns)

	rows, err := r.db.Query(ctx, query, now, staleBefore, limitArg)
	if err != nil {
		return nil, r.handlePostgresError("claim asset deletions", err)
	}
	defer rows.Close()

	claimed := []*portfolio.DeletionQueueEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan deletion entry", err)
		}
		claimed = append(claimed, e)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("claim asset deletions", err)
	}
	sort.Slice(claimed, func(i, j int) bool {
		if claimed[i].NextAttemptAt.Equal(claimed[j].NextAttemptAt) {
			return claimed[i].CreatedAt.Before(claimed[j].CreatedAt)
		}
		return claimed[i].NextAttemptAt.Before(claimed[j].NextAttemptAt)
	})
	return claimed, nil
}

func (r *Repository) RequeueAssetDeletion(ctx context.Context, id uuid.UUID, attempt int, nextAttemptAt time.Time, lastErr string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE asset_deletion_queue SET
			status = 'failed', attempt_count = $2, next_attempt_at = $3, last_error = $4, locked_at = NULL
		WHERE id = $1`, id, attempt, nextAttemptAt, lastErr)
	if err != nil {
		return r.handlePostgresError("requeue asset deletion", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deletion entry %s: %w", id, portfolio.ErrNotFound)
	}
	return nil
}

func (r *Repository) DeleteAssetDeletion(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM asset_deletion_queue WHERE id = $1`, id); err != nil {
		return r.handlePostgresError("delete asset deletion", err)
	}
	return nil
}

func (r *Repository) ListAssetDeletions(ctx context.Context) ([]*portfolio.DeletionQueueEntry, error) {
	rows, err := r.db.Query(ctx, `SELECT `+queueColumns+` FROM asset_deletion_queue ORDER BY next_attempt_at, created_at`)
	if err != nil {
		return nil, r.handlePostgresError("list asset deletions", err)
	}
	defer rows.Close()

	entries := []*portfolio.DeletionQueueEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan deletion entry", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ portfolio.Repository = (*Repository)(nil)
