package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
	"github.com/tendant/simple-portfolio/pkg/portfolio/presigned"
)

// ErrObjectNotFound is returned for keys with no file
var ErrObjectNotFound = errors.New("object not found")

// Backend is a filesystem implementation of the portfolio.BlobStore interface
type Backend struct {
	baseDir string
	signer  *presigned.Signer
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string            // Base directory for storing files
	Signer  *presigned.Signer // Signs upload URLs served by the upload handler
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if err := os.MkdirAll(config.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &Backend{baseDir: config.BaseDir, signer: config.Signer}, nil
}

// path resolves objectKey inside the base directory and rejects traversal.
func (b *Backend) path(objectKey string) (string, error) {
	clean := filepath.Clean("/" + objectKey)
	if clean == "/" {
		return "", fmt.Errorf("invalid object key %q", objectKey)
	}
	return filepath.Join(b.baseDir, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// GetUploadURL returns a signed URL for the upload handler
func (b *Backend) GetUploadURL(ctx context.Context, objectKey, contentType string) (string, error) {
	if b.signer == nil {
		return "", errors.New("upload signing is not configured for filesystem backend")
	}
	return b.signer.UploadURL(objectKey)
}

// Upload writes content to a file, replacing it atomically
func (b *Backend) Upload(ctx context.Context, objectKey, contentType string, reader io.Reader) error {
	filePath, err := b.path(objectKey)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}

// GetObjectMeta retrieves metadata for an object in the filesystem
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*portfolio.ObjectMeta, error) {
	filePath, err := b.path(objectKey)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return nil, ErrObjectNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(filePath))
	if contentType == "" {
		contentType = "application/octet-stream"
		if file, err := os.Open(filePath); err == nil {
			defer file.Close()
			buffer := make([]byte, 512)
			if n, err := file.Read(buffer); err == nil {
				contentType = http.DetectContentType(buffer[:n])
			}
		}
	}

	return &portfolio.ObjectMeta{
		Key:         objectKey,
		Size:        info.Size(),
		ContentType: contentType,
		UpdatedAt:   info.ModTime(),
	}, nil
}

// Download opens the file of objectKey
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	filePath, err := b.path(objectKey)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filePath)
	if os.IsNotExist(err) {
		return nil, ErrObjectNotFound
	}
	return f, err
}

// Delete removes the file of objectKey. Missing files are ignored.
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	filePath, err := b.path(objectKey)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

var _ portfolio.BlobStore = (*Backend)(nil)
