package portfolio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// reconcileAssets brings the version's embedded and cover references in
// line with its body and the item's cover image, then queues any asset in
// the item's namespace that is no longer referenced by any version.
func (s *service) reconcileAssets(ctx context.Context, repo Repository, item *ContentItem, v *ContentVersion) error {
	if s.resolver == nil {
		return nil
	}
	namespace := s.keyGenerator.Namespace(string(item.Type), item.ID)

	keys, err := s.resolver.Scan(v.BodyJSON, namespace)
	if err != nil {
		// Unparseable bodies keep their previous references.
		s.logger.WarnContext(ctx, "skipping asset reconciliation for unparseable body",
			"item_id", item.ID, "version_id", v.ID, "err", err)
	} else if err := s.reconcileEmbedded(ctx, repo, v.ID, keys); err != nil {
		return err
	}

	if err := s.reconcileCover(ctx, repo, item, v.ID); err != nil {
		return err
	}
	return nil
}

func (s *service) reconcileEmbedded(ctx context.Context, repo Repository, versionID uuid.UUID, keys []string) error {
	want := make(map[uuid.UUID]struct{}, len(keys))
	for _, key := range keys {
		asset, err := repo.GetAssetByObjectKey(ctx, key)
		if errors.Is(err, ErrAssetNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("resolve asset %s: %w", key, err)
		}
		want[asset.ID] = struct{}{}
	}

	refs, err := repo.ListVersionAssetRefs(ctx, versionID)
	if err != nil {
		return fmt.Errorf("list asset refs: %w", err)
	}
	have := make(map[uuid.UUID]struct{}, len(refs))
	for _, ref := range refs {
		if ref.UsageType != UsageEmbedded {
			continue
		}
		have[ref.AssetID] = struct{}{}
		if _, ok := want[ref.AssetID]; !ok {
			if err := repo.RemoveVersionAssetRef(ctx, ref); err != nil {
				return fmt.Errorf("remove stale asset ref: %w", err)
			}
		}
	}
	for assetID := range want {
		if _, ok := have[assetID]; ok {
			continue
		}
		ref := VersionAssetRef{ContentVersionID: versionID, AssetID: assetID, UsageType: UsageEmbedded}
		if err := repo.AddVersionAssetRef(ctx, ref); err != nil {
			return fmt.Errorf("add asset ref: %w", err)
		}
	}
	return nil
}

// reconcileCover replaces the version's single cover reference with the
// asset addressed by the item's cover image, if any, and sweeps the namespace.
func (s *service) reconcileCover(ctx context.Context, repo Repository, item *ContentItem, versionID uuid.UUID) error {
	if s.resolver == nil {
		return nil
	}

	var coverID uuid.UUID
	if key, ok := s.resolver.ObjectKey(item.CoverImage); ok {
		asset, err := repo.GetAssetByObjectKey(ctx, key)
		switch {
		case err == nil:
			coverID = asset.ID
		case !errors.Is(err, ErrAssetNotFound):
			return fmt.Errorf("resolve cover asset: %w", err)
		}
	}

	refs, err := repo.ListVersionAssetRefs(ctx, versionID)
	if err != nil {
		return fmt.Errorf("list asset refs: %w", err)
	}
	hasCover := false
	for _, ref := range refs {
		if ref.UsageType != UsageCover {
			continue
		}
		if ref.AssetID == coverID {
			hasCover = true
			continue
		}
		if err := repo.RemoveVersionAssetRef(ctx, ref); err != nil {
			return fmt.Errorf("remove cover ref: %w", err)
		}
	}
	if coverID != uuid.Nil && !hasCover {
		ref := VersionAssetRef{ContentVersionID: versionID, AssetID: coverID, UsageType: UsageCover}
		if err := repo.AddVersionAssetRef(ctx, ref); err != nil {
			return fmt.Errorf("add cover ref: %w", err)
		}
	}
	return s.sweepNamespace(ctx, repo, item)
}

// sweepNamespace queues every unreferenced asset under the item's namespace.
func (s *service) sweepNamespace(ctx context.Context, repo Repository, item *ContentItem) error {
	namespace := s.keyGenerator.Namespace(string(item.Type), item.ID)
	assets, err := repo.ListAssetsByKeyPrefix(ctx, namespace)
	if err != nil {
		return fmt.Errorf("list namespace assets: %w", err)
	}
	now := s.clock()
	for _, asset := range assets {
		count, err := repo.CountAssetRefs(ctx, asset.ID)
		if err != nil {
			return fmt.Errorf("count asset refs: %w", err)
		}
		if count > 0 {
			continue
		}
		entry := &DeletionQueueEntry{
			ID:            uuid.New(),
			AssetID:       asset.ID,
			ObjectKey:     asset.ObjectKey,
			Status:        DeletionPending,
			NextAttemptAt: now.Add(s.deletionGrace),
			CreatedAt:     now,
		}
		if err := repo.EnqueueAssetDeletion(ctx, entry); err != nil {
			return fmt.Errorf("enqueue asset deletion: %w", err)
		}
		s.logger.DebugContext(ctx, "queued unreferenced asset", "asset_id", asset.ID, "object_key", asset.ObjectKey)
	}
	return nil
}

func (s *service) PresignUpload(ctx context.Context, actor uuid.UUID, req PresignUploadRequest) (*PresignedUpload, error) {
	if s.blobStore == nil || s.resolver == nil {
		return nil, fmt.Errorf("%w: uploads are not configured", ErrInvalidInput)
	}
	if strings.TrimSpace(req.ContentType) == "" {
		return nil, fmt.Errorf("%w: content type is required", ErrInvalidInput)
	}
	item, err := s.ownedItem(ctx, s.repository, actor, req.ItemID)
	if err != nil {
		return nil, err
	}

	key := s.keyGenerator.GenerateKey(string(item.Type), item.ID, uuid.New(), req.FileName)
	url, err := s.blobStore.GetUploadURL(ctx, key, req.ContentType)
	if err != nil {
		return nil, &StorageError{Backend: s.blobBackend, Key: key, Op: "presign_upload", Err: err}
	}
	return &PresignedUpload{URL: url, FileURL: s.resolver.PublicURL(key), ObjectKey: key}, nil
}

// RecordImage registers an uploaded file as an asset, idempotently by
// object key, and attaches it to the item's current version. Cover usage
// also sets the item's cover image.
func (s *service) RecordImage(ctx context.Context, actor uuid.UUID, req RecordImageRequest) (*Asset, error) {
	if s.resolver == nil {
		return nil, fmt.Errorf("%w: uploads are not configured", ErrInvalidInput)
	}
	usage := req.UsageType
	if usage == "" {
		usage = UsageEmbedded
	}
	if !usage.Valid() {
		return nil, fmt.Errorf("%w: unknown usage type %q", ErrInvalidInput, req.UsageType)
	}

	var (
		asset *Asset
		item  *ContentItem
	)
	err := s.repository.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		item, err = s.ownedItem(ctx, tx, actor, req.ItemID)
		if err != nil {
			return err
		}
		key, ok := s.resolver.ObjectKey(req.FileURL)
		if !ok || !strings.HasPrefix(key, s.keyGenerator.Namespace(string(item.Type), item.ID)) {
			return fmt.Errorf("%w: %s is not an upload of this item", ErrInvalidInput, req.FileURL)
		}

		asset, err = s.ensureAsset(ctx, tx, item, key, req)
		if err != nil {
			return err
		}

		if usage == UsageCover {
			item.CoverImage = asset.PublicURL
			item.UpdatedAt = s.clock()
			if err := tx.UpdateItem(ctx, item); err != nil {
				return &ItemError{ItemID: item.ID, Op: "set_cover", Err: err}
			}
			if item.CurrentVersionID == nil {
				return nil
			}
			return s.reconcileCover(ctx, tx, item, *item.CurrentVersionID)
		}

		if item.CurrentVersionID == nil {
			return nil
		}
		return tx.AddVersionAssetRef(ctx, VersionAssetRef{
			ContentVersionID: *item.CurrentVersionID,
			AssetID:          asset.ID,
			UsageType:        UsageEmbedded,
		})
	})
	if err != nil {
		return nil, err
	}
	if usage == UsageCover {
		s.invalidate(ctx, item.Type, item.Slug)
	}
	return asset, nil
}

func (s *service) ensureAsset(ctx context.Context, repo Repository, item *ContentItem, key string, req RecordImageRequest) (*Asset, error) {
	existing, err := repo.GetAssetByObjectKey(ctx, key)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrAssetNotFound) {
		return nil, err
	}

	asset := &Asset{
		ID:        uuid.New(),
		OwnerID:   item.OwnerID,
		ObjectKey: key,
		PublicURL: s.resolver.PublicURL(key),
		AssetType: req.AssetType,
		MimeType:  req.MimeType,
		SizeBytes: req.SizeBytes,
		CreatedAt: s.clock(),
	}
	if asset.AssetType == "" {
		asset.AssetType = "image"
	}
	if s.blobStore != nil && (asset.MimeType == "" || asset.SizeBytes == 0) {
		meta, err := s.blobStore.GetObjectMeta(ctx, key)
		if err != nil {
			return nil, &StorageError{Backend: s.blobBackend, Key: key, Op: "get_object_meta", Err: err}
		}
		if asset.MimeType == "" {
			asset.MimeType = meta.ContentType
		}
		if asset.SizeBytes == 0 {
			asset.SizeBytes = meta.Size
		}
	}
	if err := repo.CreateAsset(ctx, asset); err != nil {
		return nil, fmt.Errorf("create asset: %w", err)
	}
	return asset, nil
}
