package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-portfolio/pkg/portfolio/assetref"
	"github.com/tendant/simple-portfolio/pkg/portfolio/objectkey"
	"github.com/tendant/simple-portfolio/pkg/portfolio/similarity"
)

// DefaultDeletionGrace delays garbage collection of newly unreferenced
// assets so an upload can be embedded before it is swept.
const DefaultDeletionGrace = 15 * time.Minute

// service implements the Service interface
type service struct {
	repository    Repository
	blobStore     BlobStore
	blobBackend   string
	eventSink     EventSink
	cache         PublishedCache
	resolver      *assetref.Resolver
	keyGenerator  objectkey.Generator
	threshold     float64
	deletionGrace time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore sets the media storage backend and the name reported in storage errors
func WithBlobStore(name string, store BlobStore) Option {
	return func(s *service) {
		s.blobBackend = name
		s.blobStore = store
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithPublishedCache sets the cache used for reader views
func WithPublishedCache(cache PublishedCache) Option {
	return func(s *service) {
		s.cache = cache
	}
}

// WithAssetResolver sets the resolver between public asset URLs and object keys
func WithAssetResolver(resolver *assetref.Resolver) Option {
	return func(s *service) {
		s.resolver = resolver
	}
}

// WithKeyGenerator sets the object key generator for uploads
func WithKeyGenerator(g objectkey.Generator) Option {
	return func(s *service) {
		s.keyGenerator = g
	}
}

// WithSimilarityThreshold overrides similarity.DefaultThreshold
func WithSimilarityThreshold(threshold float64) Option {
	return func(s *service) {
		s.threshold = threshold
	}
}

// WithDeletionGrace sets how long a newly unreferenced asset waits before it is due for deletion
func WithDeletionGrace(d time.Duration) Option {
	return func(s *service) {
		s.deletionGrace = d
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithClock overrides time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		eventSink:     NewNoopEventSink(),
		keyGenerator:  objectkey.NewItemNamespaceGenerator(),
		threshold:     similarity.DefaultThreshold,
		deletionGrace: DefaultDeletionGrace,
		logger:        slog.Default(),
		now:           time.Now,
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.threshold <= 0 || s.threshold > 1 {
		return nil, fmt.Errorf("similarity threshold must be in (0, 1], got %v", s.threshold)
	}

	return s, nil
}

func (s *service) clock() time.Time {
	return s.now().UTC()
}

// ownedItem loads an item and checks that actor owns it.
func (s *service) ownedItem(ctx context.Context, repo Repository, actor, itemID uuid.UUID) (*ContentItem, error) {
	item, err := repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, &ItemError{ItemID: itemID, Op: "get", Err: err}
	}
	if item.OwnerID != actor {
		return nil, &ItemError{ItemID: itemID, Op: "get", Err: notOwnedError{ErrItemNotFound}}
	}
	return item, nil
}

// ownedVersion loads a version and checks that actor owns its item.
func (s *service) ownedVersion(ctx context.Context, repo Repository, actor, versionID uuid.UUID) (*ContentVersion, *ContentItem, error) {
	v, err := repo.GetVersion(ctx, versionID)
	if err != nil {
		return nil, nil, &VersionError{VersionID: versionID, Op: "get", Err: err}
	}
	item, err := s.ownedItem(ctx, repo, actor, v.ContentItemID)
	if errors.Is(err, ErrUnauthorized) {
		return nil, nil, &VersionError{VersionID: versionID, Op: "get", Err: notOwnedError{ErrVersionNotFound}}
	}
	if err != nil {
		return nil, nil, err
	}
	return v, item, nil
}

// Item operations

func (s *service) CreateItem(ctx context.Context, req CreateItemRequest) (*ContentItem, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown content type %q", ErrInvalidInput, req.Type)
	}
	if req.OwnerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	slug := req.Slug
	if slug == "" {
		slug = req.Title
	}
	slug = Slugify(slug)
	if slug == "" {
		return nil, fmt.Errorf("%w: slug is empty", ErrInvalidInput)
	}

	now := s.clock()
	item := &ContentItem{
		ID:        uuid.New(),
		Type:      req.Type,
		Title:     req.Title,
		Slug:      slug,
		Summary:   req.Summary,
		OwnerID:   req.OwnerID,
		Status:    ItemStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.repository.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.CreateItem(ctx, item); err != nil {
			return err
		}
		return s.setTags(ctx, tx, item.ID, req.Tags)
	})
	if err != nil {
		return nil, &ItemError{ItemID: item.ID, Op: "create", Err: err}
	}

	s.emit(ctx, "item_created", s.eventSink.ItemCreated(ctx, item))
	return item, nil
}

func (s *service) GetDraft(ctx context.Context, actor, itemID uuid.UUID) (*Draft, error) {
	item, err := s.ownedItem(ctx, s.repository, actor, itemID)
	if err != nil {
		return nil, err
	}
	draft := &Draft{Item: item}
	if item.CurrentVersionID != nil {
		v, err := s.repository.GetVersion(ctx, *item.CurrentVersionID)
		if err != nil {
			return nil, &VersionError{VersionID: *item.CurrentVersionID, Op: "get", Err: err}
		}
		draft.Version = v
	}
	if draft.Tags, err = s.repository.ListItemTags(ctx, itemID); err != nil {
		return nil, &ItemError{ItemID: itemID, Op: "list_tags", Err: err}
	}
	return draft, nil
}

func (s *service) ListItems(ctx context.Context, actor uuid.UUID, req ListItemsRequest) ([]*ContentItem, error) {
	return s.repository.ListItems(ctx, ItemFilter{
		Type:    req.Type,
		OwnerID: &actor,
		Limit:   req.Limit,
		Offset:  req.Offset,
	})
}

func (s *service) UpdateItemMeta(ctx context.Context, actor uuid.UUID, req UpdateItemMetaRequest) (*ContentItem, error) {
	var (
		item    *ContentItem
		oldSlug string
	)
	err := s.repository.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		item, err = s.ownedItem(ctx, tx, actor, req.ItemID)
		if err != nil {
			return err
		}
		oldSlug = item.Slug

		if req.Slug != nil {
			slug := Slugify(*req.Slug)
			if slug == "" {
				return fmt.Errorf("%w: slug is empty", ErrInvalidInput)
			}
			item.Slug = slug
		}
		if req.CoverImage != nil {
			item.CoverImage = strings.TrimSpace(*req.CoverImage)
		}
		item.UpdatedAt = s.clock()
		if err := tx.UpdateItem(ctx, item); err != nil {
			return err
		}
		if req.Tags != nil {
			if err := s.setTags(ctx, tx, item.ID, req.Tags); err != nil {
				return err
			}
		}
		if req.CoverImage != nil && item.CurrentVersionID != nil {
			return s.reconcileCover(ctx, tx, item, *item.CurrentVersionID)
		}
		return nil
	})
	if err != nil {
		var ie *ItemError
		if errors.As(err, &ie) {
			return nil, err
		}
		return nil, &ItemError{ItemID: req.ItemID, Op: "update_meta", Err: err}
	}

	s.invalidate(ctx, item.Type, oldSlug)
	if item.Slug != oldSlug {
		s.invalidate(ctx, item.Type, item.Slug)
	}
	return item, nil
}

func (s *service) DeleteItem(ctx context.Context, actor, itemID uuid.UUID) error {
	var item *ContentItem
	err := s.repository.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		item, err = s.ownedItem(ctx, tx, actor, itemID)
		if err != nil {
			return err
		}
		if err := tx.DeleteItem(ctx, itemID); err != nil {
			return &ItemError{ItemID: itemID, Op: "delete", Err: err}
		}
		return s.sweepNamespace(ctx, tx, item)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, item.Type, item.Slug)
	s.emit(ctx, "item_deleted", s.eventSink.ItemDeleted(ctx, itemID))
	return nil
}

func (s *service) setTags(ctx context.Context, repo Repository, itemID uuid.UUID, names []string) error {
	if names == nil {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(names))
	seen := make(map[uuid.UUID]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		slug := Slugify(name)
		if slug == "" {
			continue
		}
		tag, err := repo.UpsertTag(ctx, &Tag{ID: uuid.New(), Name: name, Slug: slug})
		if err != nil {
			return err
		}
		if _, dup := seen[tag.ID]; dup {
			continue
		}
		seen[tag.ID] = struct{}{}
		ids = append(ids, tag.ID)
	}
	return repo.SetItemTags(ctx, itemID, ids)
}

// Version store operations

func (s *service) CreateVersion(ctx context.Context, actor uuid.UUID, req CreateVersionRequest) (*ContentVersion, error) {
	v := &ContentVersion{
		VersionNumber:     req.VersionNumber,
		Title:             req.Title,
		Summary:           req.Summary,
		BodyJSON:          req.Body,
		SnapshotStatus:    req.SnapshotStatus,
		CreatedBy:         actor,
		ChangeDescription: req.ChangeDescription,
	}
	if v.SnapshotStatus == SnapshotPublished {
		return nil, fmt.Errorf("%w: versions become published only through Publish", ErrInvalidInput)
	}

	err := s.repository.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		item, err := s.ownedItem(ctx, tx, actor, req.ItemID)
		if err != nil {
			return err
		}
		return s.createVersion(ctx, tx, item, v)
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, "version_created", s.eventSink.VersionCreated(ctx, v))
	return v, nil
}

func (s *service) UpdateVersionSnapshot(ctx context.Context, actor, versionID uuid.UUID, patch VersionPatch) (*ContentVersion, error) {
	var v *ContentVersion
	err := s.repository.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var (
			item *ContentItem
			err  error
		)
		v, item, err = s.ownedVersion(ctx, tx, actor, versionID)
		if err != nil {
			return err
		}
		if item.IsPublishedVersion(v.ID) {
			return &VersionError{VersionID: versionID, Op: "update", Err: ErrPublishedSnapshotImmutable}
		}
		latest, err := tx.GetLatestVersion(ctx, item.ID)
		if err != nil {
			return &VersionError{VersionID: versionID, Op: "get_latest", Err: err}
		}
		if latest.ID != v.ID {
			return &VersionError{VersionID: versionID, Op: "update", Err: ErrVersionSuperseded}
		}

		if patch.Title != nil {
			v.Title = *patch.Title
		}
		if patch.Summary != nil {
			v.Summary = *patch.Summary
		}
		if patch.Body != nil {
			v.BodyJSON = *patch.Body
		}
		if patch.ChangeDescription != nil {
			v.ChangeDescription = *patch.ChangeDescription
		}
		markSnapshot(v)
		return s.updateVersionInPlace(ctx, tx, item, v)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *service) ListVersions(ctx context.Context, actor, itemID uuid.UUID) ([]*VersionWithCreator, error) {
	if _, err := s.ownedItem(ctx, s.repository, actor, itemID); err != nil {
		return nil, err
	}
	versions, err := s.repository.ListVersions(ctx, itemID)
	if err != nil {
		return nil, &ItemError{ItemID: itemID, Op: "list_versions", Err: err}
	}

	creatorIDs := make([]uuid.UUID, 0, len(versions))
	seen := make(map[uuid.UUID]struct{})
	for _, v := range versions {
		if _, ok := seen[v.CreatedBy]; ok {
			continue
		}
		seen[v.CreatedBy] = struct{}{}
		creatorIDs = append(creatorIDs, v.CreatedBy)
	}
	profiles, err := s.repository.GetProfiles(ctx, creatorIDs)
	if err != nil {
		return nil, &ItemError{ItemID: itemID, Op: "get_profiles", Err: err}
	}

	result := make([]*VersionWithCreator, 0, len(versions))
	for _, v := range versions {
		result = append(result, &VersionWithCreator{ContentVersion: v, Creator: profiles[v.CreatedBy]})
	}
	return result, nil
}

func (s *service) GetVersion(ctx context.Context, actor, versionID uuid.UUID) (*ContentVersion, error) {
	v, _, err := s.ownedVersion(ctx, s.repository, actor, versionID)
	return v, err
}

// createVersion appends v to the item's history, moves the draft pointer to
// it and reconciles its asset references. Callers run it inside a transaction.
func (s *service) createVersion(ctx context.Context, repo Repository, item *ContentItem, v *ContentVersion) error {
	now := s.clock()
	v.ID = uuid.New()
	v.ContentItemID = item.ID
	v.CreatedAt = now
	v.UpdatedAt = now
	if v.SnapshotStatus == "" {
		v.SnapshotStatus = SnapshotDraft
	}
	markSnapshot(v)
	if err := repo.CreateVersion(ctx, v); err != nil {
		return &VersionError{VersionID: v.ID, Op: "create", Err: err}
	}

	item.CurrentVersionID = &v.ID
	item.Title = v.Title
	item.Summary = v.Summary
	item.UpdatedAt = now
	if err := repo.UpdateItem(ctx, item); err != nil {
		return &ItemError{ItemID: item.ID, Op: "set_current_version", Err: err}
	}
	return s.reconcileAssets(ctx, repo, item, v)
}

// updateVersionInPlace persists an edit of the latest version and keeps the
// item's draft pointer and mirrored title on it.
func (s *service) updateVersionInPlace(ctx context.Context, repo Repository, item *ContentItem, v *ContentVersion) error {
	now := s.clock()
	v.UpdatedAt = now
	if err := repo.UpdateVersion(ctx, v); err != nil {
		return &VersionError{VersionID: v.ID, Op: "update", Err: err}
	}

	item.CurrentVersionID = &v.ID
	item.Title = v.Title
	item.Summary = v.Summary
	item.UpdatedAt = now
	if err := repo.UpdateItem(ctx, item); err != nil {
		return &ItemError{ItemID: item.ID, Op: "set_current_version", Err: err}
	}
	return s.reconcileAssets(ctx, repo, item, v)
}

func (s *service) emit(ctx context.Context, event string, err error) {
	if err != nil {
		s.logger.WarnContext(ctx, "event sink failed", "event", event, "err", err)
	}
}

func (s *service) invalidate(ctx context.Context, itemType ContentType, slug string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, itemType, slug); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate published cache", "type", itemType, "slug", slug, "err", err)
	}
}
