package portfolio

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// GetPublished returns the reader view of an item. Only the version
// addressed by the published pointer is ever read.
func (s *service) GetPublished(ctx context.Context, itemType ContentType, slug string) (*PublishedView, error) {
	if s.cache != nil {
		view, ok, err := s.cache.Get(ctx, itemType, slug)
		if err != nil {
			s.logger.WarnContext(ctx, "published cache read failed", "type", itemType, "slug", slug, "err", err)
		} else if ok {
			return view, nil
		}
	}

	item, err := s.repository.GetItemBySlug(ctx, itemType, slug)
	if err != nil {
		return nil, fmt.Errorf("get %s %q: %w", itemType, slug, err)
	}
	view, err := s.publishedView(ctx, item)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.fillCache(ctx, view)
	}
	return view, nil
}

// fillCache stores view, then re-reads the item and drops the entry if a
// publish, unpublish or meta change committed while view was being built.
// Writers invalidate after commit, so one of the two removals always runs
// after the stale Set.
func (s *service) fillCache(ctx context.Context, view *PublishedView) {
	if err := s.cache.Set(ctx, view); err != nil {
		s.logger.WarnContext(ctx, "published cache write failed", "type", view.Type, "slug", view.Slug, "err", err)
		return
	}
	item, err := s.repository.GetItem(ctx, view.ItemID)
	if err == nil && item.IsPublishedVersion(view.VersionID) &&
		item.Slug == view.Slug && item.CoverImage == view.CoverImage {
		return
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.WarnContext(ctx, "published cache recheck failed", "item_id", view.ItemID, "err", err)
	}
	s.invalidate(ctx, view.Type, view.Slug)
}

func (s *service) ListPublished(ctx context.Context, req ListPublishedRequest) ([]*PublishedView, error) {
	published := true
	items, err := s.repository.ListItems(ctx, ItemFilter{
		Type:      req.Type,
		Published: &published,
		TagSlug:   req.TagSlug,
		Limit:     req.Limit,
		Offset:    req.Offset,
	})
	if err != nil {
		return nil, err
	}

	views := make([]*PublishedView, 0, len(items))
	for _, item := range items {
		view, err := s.publishedView(ctx, item)
		if errors.Is(err, ErrNotFound) {
			// Unpublished between listing and reading.
			continue
		}
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *service) publishedView(ctx context.Context, item *ContentItem) (*PublishedView, error) {
	if item.PublishedVersionID == nil {
		return nil, &ItemError{ItemID: item.ID, Op: "read_published", Err: ErrNotPublished}
	}
	v, err := s.repository.GetVersion(ctx, *item.PublishedVersionID)
	if err != nil {
		return nil, &VersionError{VersionID: *item.PublishedVersionID, Op: "read_published", Err: err}
	}
	tags, err := s.repository.ListItemTags(ctx, item.ID)
	if err != nil {
		return nil, &ItemError{ItemID: item.ID, Op: "list_tags", Err: err}
	}

	view := &PublishedView{
		ItemID:        item.ID,
		Type:          item.Type,
		Slug:          item.Slug,
		CoverImage:    item.CoverImage,
		VersionID:     v.ID,
		VersionNumber: v.VersionNumber,
		Title:         v.Title,
		Summary:       v.Summary,
		BodyJSON:      v.BodyJSON,
		Tags:          tags,
	}
	if item.PublishedAt != nil {
		view.PublishedAt = *item.PublishedAt
	}
	return view, nil
}

// versionByNumber fetches a version of itemID by its number.
func (s *service) versionByNumber(ctx context.Context, itemID uuid.UUID, n int) (*ContentVersion, error) {
	v, err := s.repository.GetVersionByNumber(ctx, itemID, n)
	if err != nil {
		return nil, &ItemError{ItemID: itemID, Op: fmt.Sprintf("get_version_%d", n), Err: err}
	}
	return v, nil
}
