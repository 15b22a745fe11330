package portfolio

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) ItemCreated(ctx context.Context, item *ContentItem) error { return nil }

func (n *NoopEventSink) ItemDeleted(ctx context.Context, itemID uuid.UUID) error { return nil }

func (n *NoopEventSink) VersionCreated(ctx context.Context, version *ContentVersion) error {
	return nil
}

func (n *NoopEventSink) ItemPublished(ctx context.Context, item *ContentItem, version *ContentVersion) error {
	return nil
}

func (n *NoopEventSink) ItemUnpublished(ctx context.Context, item *ContentItem) error { return nil }

// LoggingEventSink logs events but takes no other action
// Useful for development and debugging
type LoggingEventSink struct {
	logger *slog.Logger
}

// NewLoggingEventSink creates a new logging event sink
func NewLoggingEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingEventSink{logger: logger}
}

func (l *LoggingEventSink) ItemCreated(ctx context.Context, item *ContentItem) error {
	l.logger.InfoContext(ctx, "content item created", "item_id", item.ID, "type", item.Type, "slug", item.Slug)
	return nil
}

func (l *LoggingEventSink) ItemDeleted(ctx context.Context, itemID uuid.UUID) error {
	l.logger.InfoContext(ctx, "content item deleted", "item_id", itemID)
	return nil
}

func (l *LoggingEventSink) VersionCreated(ctx context.Context, version *ContentVersion) error {
	l.logger.InfoContext(ctx, "content version created",
		"item_id", version.ContentItemID,
		"version_id", version.ID,
		"version_number", version.VersionNumber)
	return nil
}

func (l *LoggingEventSink) ItemPublished(ctx context.Context, item *ContentItem, version *ContentVersion) error {
	l.logger.InfoContext(ctx, "content item published",
		"item_id", item.ID,
		"slug", item.Slug,
		"version_number", version.VersionNumber)
	return nil
}

func (l *LoggingEventSink) ItemUnpublished(ctx context.Context, item *ContentItem) error {
	l.logger.InfoContext(ctx, "content item unpublished", "item_id", item.ID, "slug", item.Slug)
	return nil
}
