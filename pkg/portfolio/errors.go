package portfolio

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error categories. Specific errors below wrap one of these so callers can
// test with errors.Is against either.
var (
	// ErrNotFound indicates a missing item, version, asset or unpublished content
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the caller does not own the item
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict indicates a uniqueness or sequencing violation
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indicates a malformed request
	ErrInvalidInput = errors.New("invalid input")
)

var (
	// ErrItemNotFound indicates a content item was not found
	ErrItemNotFound = fmt.Errorf("content item %w", ErrNotFound)

	// ErrVersionNotFound indicates a content version was not found
	ErrVersionNotFound = fmt.Errorf("content version %w", ErrNotFound)

	// ErrAssetNotFound indicates an asset was not found
	ErrAssetNotFound = fmt.Errorf("asset %w", ErrNotFound)

	// ErrNotPublished indicates the item has no published snapshot
	ErrNotPublished = fmt.Errorf("not yet published: %w", ErrNotFound)

	// ErrVersionConflict indicates a non-sequential version number
	ErrVersionConflict = fmt.Errorf("version number %w", ErrConflict)

	// ErrSlugTaken indicates another item of the same type uses the slug
	ErrSlugTaken = fmt.Errorf("slug %w", ErrConflict)

	// ErrPublishedSnapshotImmutable indicates an attempt to edit the live snapshot
	ErrPublishedSnapshotImmutable = fmt.Errorf("published snapshot is immutable: %w", ErrConflict)
)

// notOwnedError reads as the missing error, so a non-owner cannot tell
// someone else's content from content that does not exist. It still matches
// ErrUnauthorized.
type notOwnedError struct{ missing error }

func (e notOwnedError) Error() string { return e.missing.Error() }

func (e notOwnedError) Unwrap() []error { return []error{e.missing, ErrUnauthorized} }

// ItemError represents an error related to content item operations
type ItemError struct {
	ItemID uuid.UUID
	Op     string
	Err    error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item operation %s failed for item %s: %v", e.Op, e.ItemID, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// VersionError represents an error related to version operations
type VersionError struct {
	VersionID uuid.UUID
	Op        string
	Err       error
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("version operation %s failed for version %s: %v", e.Op, e.VersionID, e.Err)
}

func (e *VersionError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to blob storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s in backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err came from a blob store.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// ErrVersionSuperseded indicates an in-place edit of a version that is no longer the latest
var ErrVersionSuperseded = fmt.Errorf("version superseded: %w", ErrConflict)
