package memory_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-portfolio/pkg/portfolio/presigned"
	"github.com/tendant/simple-portfolio/pkg/portfolio/storage/memory"
)

func TestMemoryBackend(t *testing.T) {
	ctx := context.Background()
	b := memory.New(nil)

	_, err := b.GetUploadURL(ctx, "k", "image/png")
	assert.Error(t, err)

	require.NoError(t, b.Upload(ctx, "posts/1/a.png", "image/png", strings.NewReader("png")))
	meta, err := b.GetObjectMeta(ctx, "posts/1/a.png")
	require.NoError(t, err)
	assert.Equal(t, int64(3), meta.Size)
	assert.Equal(t, "image/png", meta.ContentType)

	rc, err := b.Download(ctx, "posts/1/a.png")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	require.NoError(t, b.Delete(ctx, "posts/1/a.png"))
	assert.False(t, b.Exists("posts/1/a.png"))
	assert.NoError(t, b.Delete(ctx, "posts/1/a.png"), "deleting a missing object is not an error")

	_, err = b.GetObjectMeta(ctx, "posts/1/a.png")
	assert.ErrorIs(t, err, memory.ErrObjectNotFound)
}

func TestMemoryBackendSignedUploadURL(t *testing.T) {
	b := memory.New(presigned.New("0123456789abcdef0123456789abcdef", presigned.WithBaseURL("http://localhost:8080")))
	url, err := b.GetUploadURL(context.Background(), "posts/1/a.png", "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "http://localhost:8080/uploads/posts/1/a.png?"))
}
