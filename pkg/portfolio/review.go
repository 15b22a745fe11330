package portfolio

import (
	"context"

	"github.com/google/uuid"

	"github.com/tendant/simple-portfolio/pkg/portfolio/diff"
	"github.com/tendant/simple-portfolio/pkg/portfolio/textextract"
)

func (s *service) DiffVersions(ctx context.Context, actor, itemID uuid.UUID, fromNumber, toNumber int) (*diff.Result, error) {
	if _, err := s.ownedItem(ctx, s.repository, actor, itemID); err != nil {
		return nil, err
	}
	from, err := s.versionByNumber(ctx, itemID, fromNumber)
	if err != nil {
		return nil, err
	}
	to, err := s.versionByNumber(ctx, itemID, toNumber)
	if err != nil {
		return nil, err
	}
	result := diff.Compute(reviewText(from), reviewText(to))
	return &result, nil
}

func (s *service) DiffDraftAgainstPublished(ctx context.Context, actor, itemID uuid.UUID) (*diff.Result, error) {
	item, err := s.ownedItem(ctx, s.repository, actor, itemID)
	if err != nil {
		return nil, err
	}
	if item.PublishedVersionID == nil {
		return nil, &ItemError{ItemID: itemID, Op: "diff", Err: ErrNotPublished}
	}
	published, err := s.repository.GetVersion(ctx, *item.PublishedVersionID)
	if err != nil {
		return nil, &VersionError{VersionID: *item.PublishedVersionID, Op: "get", Err: err}
	}
	current := published
	if item.CurrentVersionID != nil && *item.CurrentVersionID != published.ID {
		if current, err = s.repository.GetVersion(ctx, *item.CurrentVersionID); err != nil {
			return nil, &VersionError{VersionID: *item.CurrentVersionID, Op: "get", Err: err}
		}
	}
	result := diff.Compute(reviewText(published), reviewText(current))
	return &result, nil
}

// reviewText renders a version for line diffs with its title on the first line.
func reviewText(v *ContentVersion) string {
	body := textextract.ExtractForDiff(v.BodyJSON)
	if body == "" {
		return "Title: " + v.Title
	}
	return "Title: " + v.Title + "\n" + body
}
