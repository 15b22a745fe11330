package portfolio

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tendant/simple-portfolio/pkg/portfolio/similarity"
	"github.com/tendant/simple-portfolio/pkg/portfolio/textextract"
)

const (
	descInitialVersion = "Initial version"
	descAutosave       = "Autosave"
	descManualSave     = "Manual save"
	descPublish        = "Published"
)

func restoredDescription(n int) string {
	return fmt.Sprintf("Restored to version %d", n)
}

// Autosave writes draft into the current version in place. When the item
// has no version yet, or the current version is the published snapshot, a
// new version is created instead so the live snapshot is never mutated.
func (s *service) Autosave(ctx context.Context, actor uuid.UUID, draft DraftInput) (*ContentVersion, error) {
	var (
		saved   *ContentVersion
		created bool
	)
	err := s.repository.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		item, err := s.ownedItem(ctx, tx, actor, draft.ItemID)
		if err != nil {
			return err
		}

		if item.CurrentVersionID != nil {
			current, err := tx.GetVersion(ctx, *item.CurrentVersionID)
			if err != nil {
				return &VersionError{VersionID: *item.CurrentVersionID, Op: "get", Err: err}
			}
			if !item.IsPublishedVersion(current.ID) {
				current.Title = draft.Title
				current.Summary = draft.Summary
				current.BodyJSON = draft.Body
				saved = current
				return s.updateVersionInPlace(ctx, tx, item, current)
			}
		}

		desc := descAutosave
		if item.CurrentVersionID == nil {
			desc = descInitialVersion
		}
		saved = draftVersion(draft, actor, desc)
		created = true
		return s.createVersion(ctx, tx, item, saved)
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.emit(ctx, "version_created", s.eventSink.VersionCreated(ctx, saved))
	}
	return saved, nil
}

// SmartSaveVersion routes a save by similarity between the latest version
// and the draft: minor edits update the latest version in place unless it
// is the published snapshot, major edits create a new version.
func (s *service) SmartSaveVersion(ctx context.Context, actor uuid.UUID, req SmartSaveRequest) (*SaveResult, error) {
	var result *SaveResult
	err := s.repository.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		item, err := s.ownedItem(ctx, tx, actor, req.Draft.ItemID)
		if err != nil {
			return err
		}
		result, err = s.smartSave(ctx, tx, item, actor, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	if result.Created {
		s.emit(ctx, "version_created", s.eventSink.VersionCreated(ctx, result.Version))
	}
	return result, nil
}

func (s *service) smartSave(ctx context.Context, repo Repository, item *ContentItem, actor uuid.UUID, req SmartSaveRequest) (*SaveResult, error) {
	latest, err := repo.GetLatestVersion(ctx, item.ID)
	if err != nil && !errors.Is(err, ErrVersionNotFound) {
		return nil, &ItemError{ItemID: item.ID, Op: "get_latest_version", Err: err}
	}

	draft := req.Draft
	result := &SaveResult{}
	if latest != nil {
		// Compare against the last snapshot, not the autosaved draft the
		// latest version may already hold.
		result.Similarity = similarity.Score(
			textextract.Extract(baselineBody(latest)),
			textextract.Extract(draft.Body),
		)
	}

	minor := latest != nil && similarity.IsMinorEdit(result.Similarity, s.threshold)
	if !req.ForceNewVersion && minor && !item.IsPublishedVersion(latest.ID) {
		latest.Title = draft.Title
		latest.Summary = draft.Summary
		latest.BodyJSON = draft.Body
		markSnapshot(latest)
		if req.ChangeDescription != "" {
			latest.ChangeDescription = req.ChangeDescription
		}
		if err := s.updateVersionInPlace(ctx, repo, item, latest); err != nil {
			return nil, err
		}
		result.Version = latest
		return result, nil
	}

	if latest != nil && !item.IsPublishedVersion(latest.ID) && revertToBaseline(latest) {
		// The draft moves to a new version; the latest one keeps what was
		// last snapshotted.
		if err := s.updateVersionInPlace(ctx, repo, item, latest); err != nil {
			return nil, err
		}
	}

	desc := req.ChangeDescription
	switch {
	case desc != "":
	case latest == nil:
		desc = descInitialVersion
	case req.ForceNewVersion:
		desc = descManualSave
	default:
		desc = descAutosave
	}
	v := draftVersion(draft, actor, desc)
	if err := s.createVersion(ctx, repo, item, v); err != nil {
		return nil, err
	}
	result.Version = v
	result.Created = true
	return result, nil
}

func (s *service) Publish(ctx context.Context, actor uuid.UUID, req PublishRequest) (*ContentItem, error) {
	var (
		item      *ContentItem
		published *ContentVersion
		created   bool
		oldSlug   string
	)
	err := s.repository.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		item, err = s.ownedItem(ctx, tx, actor, req.ItemID)
		if err != nil {
			return err
		}
		oldSlug = item.Slug

		draft, err := s.publishDraft(ctx, tx, item, req.Draft)
		if err != nil {
			return err
		}

		latest, err := tx.GetLatestVersion(ctx, item.ID)
		if err != nil && !errors.Is(err, ErrVersionNotFound) {
			return &ItemError{ItemID: item.ID, Op: "get_latest_version", Err: err}
		}
		if latest != nil && item.IsPublishedVersion(latest.ID) && sameContent(latest, draft) {
			// Republishing unchanged content keeps the live snapshot.
			published = latest
		} else {
			desc := req.ChangeDescription
			if desc == "" && latest != nil && item.IsPublishedVersion(latest.ID) {
				desc = descPublish
			}
			res, err := s.smartSave(ctx, tx, item, actor, SmartSaveRequest{Draft: *draft, ChangeDescription: desc})
			if err != nil {
				return err
			}
			published, created = res.Version, res.Created
		}

		if item.PublishedVersionID != nil && *item.PublishedVersionID != published.ID {
			if err := s.setSnapshotStatus(ctx, tx, *item.PublishedVersionID, SnapshotArchived); err != nil {
				return err
			}
		}
		published.SnapshotStatus = SnapshotPublished
		if err := tx.UpdateVersion(ctx, published); err != nil {
			return &VersionError{VersionID: published.ID, Op: "mark_published", Err: err}
		}

		now := s.clock()
		item.PublishedVersionID = &published.ID
		item.CurrentVersionID = &published.ID
		item.Status = ItemStatusPublished
		item.PublishedAt = &now
		item.UpdatedAt = now
		if err := tx.UpdateItem(ctx, item); err != nil {
			return &ItemError{ItemID: item.ID, Op: "publish", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, item.Type, oldSlug)
	if created {
		s.emit(ctx, "version_created", s.eventSink.VersionCreated(ctx, published))
	}
	s.emit(ctx, "item_published", s.eventSink.ItemPublished(ctx, item, published))
	return item, nil
}

// publishDraft returns the content to publish: the supplied draft, or the
// current version when none is given.
func (s *service) publishDraft(ctx context.Context, repo Repository, item *ContentItem, draft *DraftInput) (*DraftInput, error) {
	if draft != nil {
		d := *draft
		d.ItemID = item.ID
		return &d, nil
	}
	if item.CurrentVersionID == nil {
		return nil, &ItemError{ItemID: item.ID, Op: "publish", Err: fmt.Errorf("%w: item has no content to publish", ErrInvalidInput)}
	}
	current, err := repo.GetVersion(ctx, *item.CurrentVersionID)
	if err != nil {
		return nil, &VersionError{VersionID: *item.CurrentVersionID, Op: "get", Err: err}
	}
	return &DraftInput{ItemID: item.ID, Title: current.Title, Summary: current.Summary, Body: current.BodyJSON}, nil
}

func (s *service) Unpublish(ctx context.Context, actor, itemID uuid.UUID) (*ContentItem, error) {
	var (
		item         *ContentItem
		wasPublished bool
	)
	err := s.repository.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		item, err = s.ownedItem(ctx, tx, actor, itemID)
		if err != nil {
			return err
		}
		if item.PublishedVersionID == nil {
			return nil
		}
		wasPublished = true
		if err := s.setSnapshotStatus(ctx, tx, *item.PublishedVersionID, SnapshotArchived); err != nil {
			return err
		}
		item.PublishedVersionID = nil
		item.PublishedAt = nil
		item.Status = ItemStatusDraft
		item.UpdatedAt = s.clock()
		if err := tx.UpdateItem(ctx, item); err != nil {
			return &ItemError{ItemID: item.ID, Op: "unpublish", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if wasPublished {
		s.invalidate(ctx, item.Type, item.Slug)
		s.emit(ctx, "item_unpublished", s.eventSink.ItemUnpublished(ctx, item))
	}
	return item, nil
}

// RestoreVersion copies a historical version into a new version and makes
// it the draft. The published pointer is left alone.
func (s *service) RestoreVersion(ctx context.Context, actor, itemID uuid.UUID, versionNumber int) (*ContentVersion, error) {
	var restored *ContentVersion
	err := s.repository.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		item, err := s.ownedItem(ctx, tx, actor, itemID)
		if err != nil {
			return err
		}
		source, err := tx.GetVersionByNumber(ctx, itemID, versionNumber)
		if err != nil {
			return &ItemError{ItemID: itemID, Op: "restore", Err: err}
		}
		restored = &ContentVersion{
			Title:             source.Title,
			Summary:           source.Summary,
			BodyJSON:          source.BodyJSON,
			CreatedBy:         actor,
			ChangeDescription: restoredDescription(versionNumber),
		}
		return s.createVersion(ctx, tx, item, restored)
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, "version_created", s.eventSink.VersionCreated(ctx, restored))
	return restored, nil
}

// HasDraftChanges reports whether the draft diverges from the published
// snapshot by a major edit or a title change. An unreadable published
// snapshot counts as diverged.
func (s *service) HasDraftChanges(ctx context.Context, actor, itemID uuid.UUID) (bool, error) {
	item, err := s.ownedItem(ctx, s.repository, actor, itemID)
	if err != nil {
		return false, err
	}
	if item.PublishedVersionID == nil {
		return false, nil
	}
	if item.CurrentVersionID == nil || *item.CurrentVersionID == *item.PublishedVersionID {
		return false, nil
	}

	published, err := s.repository.GetVersion(ctx, *item.PublishedVersionID)
	if err != nil {
		s.logger.WarnContext(ctx, "published snapshot unreadable, reporting draft changes",
			"item_id", itemID, "version_id", *item.PublishedVersionID, "err", err)
		return true, nil
	}
	current, err := s.repository.GetVersion(ctx, *item.CurrentVersionID)
	if err != nil {
		return false, &VersionError{VersionID: *item.CurrentVersionID, Op: "get", Err: err}
	}

	if current.Title != published.Title {
		return true, nil
	}
	score := similarity.Score(textextract.Extract(published.BodyJSON), textextract.Extract(current.BodyJSON))
	return !similarity.IsMinorEdit(score, s.threshold), nil
}

func (s *service) setSnapshotStatus(ctx context.Context, repo Repository, versionID uuid.UUID, status SnapshotStatus) error {
	v, err := repo.GetVersion(ctx, versionID)
	if errors.Is(err, ErrVersionNotFound) {
		return nil
	}
	if err != nil {
		return &VersionError{VersionID: versionID, Op: "get", Err: err}
	}
	if v.SnapshotStatus == status {
		return nil
	}
	v.SnapshotStatus = status
	if err := repo.UpdateVersion(ctx, v); err != nil {
		return &VersionError{VersionID: versionID, Op: "set_snapshot_status", Err: err}
	}
	return nil
}

func draftVersion(draft DraftInput, actor uuid.UUID, desc string) *ContentVersion {
	return &ContentVersion{
		Title:             draft.Title,
		Summary:           draft.Summary,
		BodyJSON:          draft.Body,
		CreatedBy:         actor,
		ChangeDescription: desc,
	}
}

// markSnapshot records v's current content as its snapshot baseline.
func markSnapshot(v *ContentVersion) {
	v.BaselineTitle = v.Title
	v.BaselineSummary = v.Summary
	v.BaselineBody = v.BodyJSON
}

func hasBaseline(v *ContentVersion) bool {
	return v.BaselineTitle != "" || v.BaselineSummary != "" || v.BaselineBody != ""
}

// baselineBody is the body smart save compares a draft with. Versions
// stored without a baseline compare by their content.
func baselineBody(v *ContentVersion) string {
	if !hasBaseline(v) {
		return v.BodyJSON
	}
	return v.BaselineBody
}

// revertToBaseline discards autosaved edits on v and reports whether
// anything changed.
func revertToBaseline(v *ContentVersion) bool {
	if !hasBaseline(v) {
		return false
	}
	if v.Title == v.BaselineTitle && v.Summary == v.BaselineSummary && v.BodyJSON == v.BaselineBody {
		return false
	}
	v.Title = v.BaselineTitle
	v.Summary = v.BaselineSummary
	v.BodyJSON = v.BaselineBody
	return true
}

func sameContent(v *ContentVersion, draft *DraftInput) bool {
	return v.Title == draft.Title && v.Summary == draft.Summary && v.BodyJSON == draft.Body
}
