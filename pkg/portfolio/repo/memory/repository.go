package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
)

// Repository implements portfolio.Repository using in-memory storage
type Repository struct {
	*store
	inTx bool
}

type store struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	data *state
}

type state struct {
	items    map[uuid.UUID]*portfolio.ContentItem
	versions map[uuid.UUID]*portfolio.ContentVersion
	tags     map[uuid.UUID]*portfolio.Tag
	itemTags map[uuid.UUID][]uuid.UUID // item_id -> []tag_id
	profiles map[uuid.UUID]*portfolio.Profile
	assets   map[uuid.UUID]*portfolio.Asset
	refs     map[portfolio.VersionAssetRef]struct{}
	queue    map[uuid.UUID]*portfolio.DeletionQueueEntry
}

func newState() *state {
	return &state{
		items:    make(map[uuid.UUID]*portfolio.ContentItem),
		versions: make(map[uuid.UUID]*portfolio.ContentVersion),
		tags:     make(map[uuid.UUID]*portfolio.Tag),
		itemTags: make(map[uuid.UUID][]uuid.UUID),
		profiles: make(map[uuid.UUID]*portfolio.Profile),
		assets:   make(map[uuid.UUID]*portfolio.Asset),
		refs:     make(map[portfolio.VersionAssetRef]struct{}),
		queue:    make(map[uuid.UUID]*portfolio.DeletionQueueEntry),
	}
}

// clone deep-copies the state so a failed transaction can be rolled back.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.items {
		c.items[k] = copyItem(v)
	}
	for k, v := range s.versions {
		vc := *v
		c.versions[k] = &vc
	}
	for k, v := range s.tags {
		tc := *v
		c.tags[k] = &tc
	}
	for k, v := range s.itemTags {
		c.itemTags[k] = append([]uuid.UUID(nil), v...)
	}
	for k, v := range s.profiles {
		pc := *v
		c.profiles[k] = &pc
	}
	for k, v := range s.assets {
		ac := *v
		c.assets[k] = &ac
	}
	for k := range s.refs {
		c.refs[k] = struct{}{}
	}
	for k, v := range s.queue {
		c.queue[k] = copyEntry(v)
	}
	return c
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{store: &store{data: newState()}}
}

// WithTx serializes transactions and restores the previous state when fn
// fails. Writes made outside a transaction wait for it to finish, so a
// rollback never discards them; reads do not wait and may see uncommitted
// state. WithTx must not be nested, and fn must only use tx.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx portfolio.Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	snapshot := r.data.clone()
	r.mu.RUnlock()

	if err := fn(ctx, &Repository{store: r.store, inTx: true}); err != nil {
		r.mu.Lock()
		r.data = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

// lock takes the write lock. Outside a transaction it first waits for any
// running one.
func (r *Repository) lock() (unlock func()) {
	if !r.inTx {
		r.txMu.Lock()
	}
	r.mu.Lock()
	return func() {
		r.mu.Unlock()
		if !r.inTx {
			r.txMu.Unlock()
		}
	}
}

func copyItem(item *portfolio.ContentItem) *portfolio.ContentItem {
	c := *item
	if item.CurrentVersionID != nil {
		id := *item.CurrentVersionID
		c.CurrentVersionID = &id
	}
	if item.PublishedVersionID != nil {
		id := *item.PublishedVersionID
		c.PublishedVersionID = &id
	}
	if item.PublishedAt != nil {
		t := *item.PublishedAt
		c.PublishedAt = &t
	}
	return &c
}

func copyEntry(e *portfolio.DeletionQueueEntry) *portfolio.DeletionQueueEntry {
	c := *e
	if e.LockedAt != nil {
		t := *e.LockedAt
		c.LockedAt = &t
	}
	return &c
}

// Content item operations

func (r *Repository) slugTakenLocked(item *portfolio.ContentItem) bool {
	for _, other := range r.data.items {
		if other.ID != item.ID && other.Type == item.Type && other.Slug == item.Slug {
			return true
		}
	}
	return false
}

func (r *Repository) CreateItem(ctx context.Context, item *portfolio.ContentItem) error {
	defer r.lock()()

	if _, exists := r.data.items[item.ID]; exists {
		return fmt.Errorf("item %s already exists: %w", item.ID, portfolio.ErrConflict)
	}
	if r.slugTakenLocked(item) {
		return portfolio.ErrSlugTaken
	}
	r.data.items[item.ID] = copyItem(item)
	return nil
}

func (r *Repository) GetItem(ctx context.Context, id uuid.UUID) (*portfolio.ContentItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, exists := r.data.items[id]
	if !exists {
		return nil, portfolio.ErrItemNotFound
	}
	return copyItem(item), nil
}

func (r *Repository) GetItemBySlug(ctx context.Context, itemType portfolio.ContentType, slug string) (*portfolio.ContentItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, item := range r.data.items {
		if item.Type == itemType && item.Slug == slug {
			return copyItem(item), nil
		}
	}
	return nil, portfolio.ErrItemNotFound
}

func (r *Repository) UpdateItem(ctx context.Context, item *portfolio.ContentItem) error {
	defer r.lock()()

	if _, exists := r.data.items[item.ID]; !exists {
		return portfolio.ErrItemNotFound
	}
	if r.slugTakenLocked(item) {
		return portfolio.ErrSlugTaken
	}
	r.data.items[item.ID] = copyItem(item)
	return nil
}

// DeleteItem removes the item with its versions, their asset references
// and its tag links.
func (r *Repository) DeleteItem(ctx context.Context, id uuid.UUID) error {
	defer r.lock()()

	if _, exists := r.data.items[id]; !exists {
		return portfolio.ErrItemNotFound
	}
	for vid, v := range r.data.versions {
		if v.ContentItemID != id {
			continue
		}
		for ref := range r.data.refs {
			if ref.ContentVersionID == vid {
				delete(r.data.refs, ref)
			}
		}
		delete(r.data.versions, vid)
	}
	delete(r.data.itemTags, id)
	delete(r.data.items, id)
	return nil
}

func (r *Repository) ListItems(ctx context.Context, filter portfolio.ItemFilter) ([]*portfolio.ContentItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tagID *uuid.UUID
	if filter.TagSlug != "" {
		for _, tag := range r.data.tags {
			if tag.Slug == filter.TagSlug {
				id := tag.ID
				tagID = &id
				break
			}
		}
		if tagID == nil {
			return []*portfolio.ContentItem{}, nil
		}
	}

	var result []*portfolio.ContentItem
	for _, item := range r.data.items {
		if filter.Type != "" && item.Type != filter.Type {
			continue
		}
		if filter.OwnerID != nil && item.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.Published != nil && item.IsPublished() != *filter.Published {
			continue
		}
		if tagID != nil && !containsID(r.data.itemTags[item.ID], *tagID) {
			continue
		}
		result = append(result, copyItem(item))
	}

	sortItems(result, filter.Published != nil && *filter.Published)
	return paginate(result, filter.Limit, filter.Offset), nil
}

// sortItems orders published listings by publication date and everything
// else by last update, newest first.
func sortItems(items []*portfolio.ContentItem, byPublished bool) {
	key := func(item *portfolio.ContentItem) time.Time {
		if byPublished && item.PublishedAt != nil {
			return *item.PublishedAt
		}
		return item.UpdatedAt
	}
	sort.SliceStable(items, func(i, j int) bool {
		ki, kj := key(items[i]), key(items[j])
		if ki.Equal(kj) {
			return items[i].ID.String() < items[j].ID.String()
		}
		return ki.After(kj)
	})
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	if items == nil {
		return []T{}
	}
	return items
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// Version operations

func (r *Repository) maxVersionLocked(itemID uuid.UUID) int {
	highest := 0
	for _, v := range r.data.versions {
		if v.ContentItemID == itemID && v.VersionNumber > highest {
			highest = v.VersionNumber
		}
	}
	return highest
}

func (r *Repository) CreateVersion(ctx context.Context, version *portfolio.ContentVersion) error {
	defer r.lock()()

	if _, exists := r.data.items[version.ContentItemID]; !exists {
		return portfolio.ErrItemNotFound
	}
	next := r.maxVersionLocked(version.ContentItemID) + 1
	if version.VersionNumber == 0 {
		version.VersionNumber = next
	} else if version.VersionNumber != next {
		return fmt.Errorf("%w: got %d, expected %d", portfolio.ErrVersionConflict, version.VersionNumber, next)
	}

	v := *version
	r.data.versions[version.ID] = &v
	return nil
}

func (r *Repository) GetVersion(ctx context.Context, id uuid.UUID) (*portfolio.ContentVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, exists := r.data.versions[id]
	if !exists {
		return nil, portfolio.ErrVersionNotFound
	}
	c := *v
	return &c, nil
}

func (r *Repository) GetVersionByNumber(ctx context.Context, itemID uuid.UUID, number int) (*portfolio.ContentVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, v := range r.data.versions {
		if v.ContentItemID == itemID && v.VersionNumber == number {
			c := *v
			return &c, nil
		}
	}
	return nil, portfolio.ErrVersionNotFound
}

func (r *Repository) GetLatestVersion(ctx context.Context, itemID uuid.UUID) (*portfolio.ContentVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *portfolio.ContentVersion
	for _, v := range r.data.versions {
		if v.ContentItemID == itemID && (latest == nil || v.VersionNumber > latest.VersionNumber) {
			latest = v
		}
	}
	if latest == nil {
		return nil, portfolio.ErrVersionNotFound
	}
	c := *latest
	return &c, nil
}

func (r *Repository) ListVersions(ctx context.Context, itemID uuid.UUID) ([]*portfolio.ContentVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []*portfolio.ContentVersion{}
	for _, v := range r.data.versions {
		if v.ContentItemID == itemID {
			c := *v
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].VersionNumber > result[j].VersionNumber
	})
	return result, nil
}

func (r *Repository) UpdateVersion(ctx context.Context, version *portfolio.ContentVersion) error {
	defer r.lock()()

	existing, exists := r.data.versions[version.ID]
	if !exists {
		return portfolio.ErrVersionNotFound
	}
	// Identity and numbering never change in place.
	v := *version
	v.ContentItemID = existing.ContentItemID
	v.VersionNumber = existing.VersionNumber
	v.CreatedAt = existing.CreatedAt
	v.CreatedBy = existing.CreatedBy
	r.data.versions[version.ID] = &v
	return nil
}

// Tag operations

func (r *Repository) UpsertTag(ctx context.Context, tag *portfolio.Tag) (*portfolio.Tag, error) {
	defer r.lock()()

	for _, existing := range r.data.tags {
		if existing.Slug == tag.Slug {
			c := *existing
			return &c, nil
		}
	}
	t := *tag
	r.data.tags[t.ID] = &t
	c := t
	return &c, nil
}

func (r *Repository) SetItemTags(ctx context.Context, itemID uuid.UUID, tagIDs []uuid.UUID) error {
	defer r.lock()()

	if _, exists := r.data.items[itemID]; !exists {
		return portfolio.ErrItemNotFound
	}
	for _, id := range tagIDs {
		if _, ok := r.data.tags[id]; !ok {
			return fmt.Errorf("tag %s: %w", id, portfolio.ErrNotFound)
		}
	}
	r.data.itemTags[itemID] = append([]uuid.UUID(nil), tagIDs...)
	return nil
}

func (r *Repository) ListItemTags(ctx context.Context, itemID uuid.UUID) ([]*portfolio.Tag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []*portfolio.Tag{}
	for _, id := range r.data.itemTags[itemID] {
		if tag, ok := r.data.tags[id]; ok {
			c := *tag
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Profile operations

func (r *Repository) UpsertProfile(ctx context.Context, profile *portfolio.Profile) error {
	defer r.lock()()

	p := *profile
	r.data.profiles[p.ID] = &p
	return nil
}

func (r *Repository) GetProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*portfolio.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[uuid.UUID]*portfolio.Profile, len(ids))
	for _, id := range ids {
		if p, ok := r.data.profiles[id]; ok {
			c := *p
			result[id] = &c
		}
	}
	return result, nil
}

// Asset operations

func (r *Repository) CreateAsset(ctx context.Context, asset *portfolio.Asset) error {
	defer r.lock()()

	for _, existing := range r.data.assets {
		if existing.ObjectKey == asset.ObjectKey {
			return fmt.Errorf("asset with key %s already exists: %w", asset.ObjectKey, portfolio.ErrConflict)
		}
	}
	a := *asset
	r.data.assets[a.ID] = &a
	return nil
}

func (r *Repository) GetAsset(ctx context.Context, id uuid.UUID) (*portfolio.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.data.assets[id]
	if !ok {
		return nil, portfolio.ErrAssetNotFound
	}
	c := *a
	return &c, nil
}

func (r *Repository) GetAssetByObjectKey(ctx context.Context, objectKey string) (*portfolio.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.data.assets {
		if a.ObjectKey == objectKey {
			c := *a
			return &c, nil
		}
	}
	return nil, portfolio.ErrAssetNotFound
}

func (r *Repository) ListAssetsByKeyPrefix(ctx context.Context, prefix string) ([]*portfolio.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []*portfolio.Asset{}
	for _, a := range r.data.assets {
		if strings.HasPrefix(a.ObjectKey, prefix) {
			c := *a
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ObjectKey < result[j].ObjectKey })
	return result, nil
}

// DeleteAsset removes the asset and any remaining references to it.
func (r *Repository) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	defer r.lock()()

	if _, ok := r.data.assets[id]; !ok {
		return portfolio.ErrAssetNotFound
	}
	for ref := range r.data.refs {
		if ref.AssetID == id {
			delete(r.data.refs, ref)
		}
	}
	delete(r.data.assets, id)
	return nil
}

func (r *Repository) AddVersionAssetRef(ctx context.Context, ref portfolio.VersionAssetRef) error {
	defer r.lock()()

	if _, ok := r.data.versions[ref.ContentVersionID]; !ok {
		return portfolio.ErrVersionNotFound
	}
	if _, ok := r.data.assets[ref.AssetID]; !ok {
		return portfolio.ErrAssetNotFound
	}
	r.data.refs[ref] = struct{}{}
	return nil
}

func (r *Repository) RemoveVersionAssetRef(ctx context.Context, ref portfolio.VersionAssetRef) error {
	defer r.lock()()

	delete(r.data.refs, ref)
	return nil
}

func (r *Repository) ListVersionAssetRefs(ctx context.Context, versionID uuid.UUID) ([]portfolio.VersionAssetRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []portfolio.VersionAssetRef{}
	for ref := range r.data.refs {
		if ref.ContentVersionID == versionID {
			result = append(result, ref)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].UsageType != result[j].UsageType {
			return result[i].UsageType < result[j].UsageType
		}
		return result[i].AssetID.String() < result[j].AssetID.String()
	})
	return result, nil
}

func (r *Repository) CountAssetRefs(ctx context.Context, assetID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for ref := range r.data.refs {
		if ref.AssetID == assetID {
			count++
		}
	}
	return count, nil
}

// Deletion queue operations

func (r *Repository) EnqueueAssetDeletion(ctx context.Context, entry *portfolio.DeletionQueueEntry) error {
	defer r.lock()()

	for _, existing := range r.data.queue {
		if existing.AssetID == entry.AssetID {
			return nil
		}
	}
	r.data.queue[entry.ID] = copyEntry(entry)
	return nil
}

func (r *Repository) ClaimAssetDeletions(ctx context.Context, limit int, now, staleBefore time.Time) ([]*portfolio.DeletionQueueEntry, error) {
	defer r.lock()()

	var due []*portfolio.DeletionQueueEntry
	for _, e := range r.data.queue {
		switch e.Status {
		case portfolio.DeletionPending, portfolio.DeletionFailed:
			if !e.NextAttemptAt.After(now) {
				due = append(due, e)
			}
		case portfolio.DeletionProcessing:
			if e.LockedAt != nil && e.LockedAt.Before(staleBefore) {
				due = append(due, e)
			}
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*portfolio.DeletionQueueEntry, 0, len(due))
	for _, e := range due {
		locked := now
		e.Status = portfolio.DeletionProcessing
		e.LockedAt = &locked
		claimed = append(claimed, copyEntry(e))
	}
	return claimed, nil
}

func (r *Repository) RequeueAssetDeletion(ctx context.Context, id uuid.UUID, attempt int, nextAttemptAt time.Time, lastErr string) error {
	defer r.lock()()

	e, ok := r.data.queue[id]
	if !ok {
		return fmt.Errorf("deletion entry %s: %w", id, portfolio.ErrNotFound)
	}
	e.Status = portfolio.DeletionFailed
	e.AttemptCount = attempt
	e.NextAttemptAt = nextAttemptAt
	e.LastError = lastErr
	e.LockedAt = nil
	return nil
}

func (r *Repository) DeleteAssetDeletion(ctx context.Context, id uuid.UUID) error {
	defer r.lock()()

	delete(r.data.queue, id)
	return nil
}

func (r *Repository) ListAssetDeletions(ctx context.Context) ([]*portfolio.DeletionQueueEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []*portfolio.DeletionQueueEntry{}
	for _, e := range r.data.queue {
		result = append(result, copyEntry(e))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].NextAttemptAt.Before(result[j].NextAttemptAt) })
	return result, nil
}

var _ portfolio.Repository = (*Repository)(nil)
