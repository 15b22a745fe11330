package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
	"github.com/tendant/simple-portfolio/pkg/portfolio/presigned"
)

// ErrObjectNotFound is returned for keys that were never uploaded
var ErrObjectNotFound = errors.New("object not found")

type object struct {
	data        []byte
	contentType string
	updatedAt   time.Time
}

// Backend is an in-memory implementation of the portfolio.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object
	signer  *presigned.Signer
}

// New creates a new in-memory storage backend. With a signer, upload URLs
// point at the process's own upload handler.
func New(signer *presigned.Signer) *Backend {
	return &Backend{
		objects: make(map[string]object),
		signer:  signer,
	}
}

// GetUploadURL returns a signed URL for uploading content
func (b *Backend) GetUploadURL(ctx context.Context, objectKey, contentType string) (string, error) {
	if b.signer == nil {
		return "", errors.New("direct upload required for memory backend")
	}
	return b.signer.UploadURL(objectKey)
}

// Upload uploads content directly
func (b *Backend) Upload(ctx context.Context, objectKey, contentType string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[objectKey] = object{data: data, contentType: contentType, updatedAt: time.Now().UTC()}
	return nil
}

// GetObjectMeta retrieves metadata for an object in memory
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*portfolio.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[objectKey]
	if !exists {
		return nil, ErrObjectNotFound
	}
	return &portfolio.ObjectMeta{
		Key:         objectKey,
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
		UpdatedAt:   obj.updatedAt,
	}, nil
}

// Download returns the stored bytes of objectKey
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[objectKey]
	if !exists {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Delete deletes content. Missing keys are ignored.
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.objects, objectKey)
	return nil
}

// Exists reports whether objectKey is stored
func (b *Backend) Exists(objectKey string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.objects[objectKey]
	return ok
}

var _ portfolio.BlobStore = (*Backend)(nil)
