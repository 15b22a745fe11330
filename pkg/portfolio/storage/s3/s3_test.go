package s3_test

import (
	"context"
	"errors"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-portfolio/pkg/portfolio/storage/s3"
)

func newTestBackend(t *testing.T, cfg s3.Config) *s3.Backend {
	t.Helper()
	backend, err := s3.New(context.Background(), cfg)
	require.NoError(t, err)
	return backend
}

func TestS3Backend_Configuration(t *testing.T) {
	t.Run("EmptyBucket", func(t *testing.T) {
		_, err := s3.New(context.Background(), s3.Config{Region: "us-east-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket name is required")
	})
}

func TestS3Backend_PresignedUploadURL(t *testing.T) {
	backend := newTestBackend(t, s3.Config{
		Bucket:          "portfolio",
		Region:          "us-east-1",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Endpoint:        "http://localhost:9000",
		UsePathStyle:    true,
		PresignDuration: 10 * time.Minute,
	})

	raw, err := backend.GetUploadURL(context.Background(), "posts/abc/img.png", "image/png")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "/portfolio/posts/abc/img.png", u.Path)
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	assert.Equal(t, "600", u.Query().Get("X-Amz-Expires"))
}

func TestS3Backend_PublicURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  s3.Config
		want string
	}{
		{
			name: "aws virtual hosted",
			cfg:  s3.Config{Bucket: "media", Region: "eu-west-1", AccessKeyID: "k", SecretAccessKey: "s"},
			want: "https://media.s3.eu-west-1.amazonaws.com/posts/1/a.png",
		},
		{
			name: "path style endpoint",
			cfg:  s3.Config{Bucket: "media", Endpoint: "http://minio:9000/", UsePathStyle: true, AccessKeyID: "k", SecretAccessKey: "s"},
			want: "http://minio:9000/media/posts/1/a.png",
		},
		{
			name: "virtual hosted endpoint",
			cfg:  s3.Config{Bucket: "media", Endpoint: "https://r2.example.com", AccessKeyID: "k", SecretAccessKey: "s"},
			want: "https://media.r2.example.com/posts/1/a.png",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, newTestBackend(t, tt.cfg).PublicURL("posts/1/a.png"))
		})
	}
}

// TestS3Backend_Integration runs against a live S3-compatible endpoint
func TestS3Backend_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping S3 integration test in short mode")
	}
	endpoint := os.Getenv("S3_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("S3_TEST_ENDPOINT not set")
	}

	ctx := context.Background()
	backend := newTestBackend(t, s3.Config{
		Bucket:                 "portfolio-test",
		Endpoint:               endpoint,
		UsePathStyle:           true,
		AccessKeyID:            os.Getenv("S3_TEST_ACCESS_KEY_ID"),
		SecretAccessKey:        os.Getenv("S3_TEST_SECRET_ACCESS_KEY"),
		CreateBucketIfNotExist: true,
	})

	key := "posts/integration/" + time.Now().Format("20060102150405") + ".txt"
	require.NoError(t, backend.Upload(ctx, key, "text/plain", strings.NewReader("hello")))

	meta, err := backend.GetObjectMeta(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(5), meta.Size)

	require.NoError(t, backend.Delete(ctx, key))
	require.NoError(t, backend.Delete(ctx, key), "deleting a missing key succeeds")

	_, err = backend.GetObjectMeta(ctx, key)
	assert.True(t, errors.Is(err, s3.ErrObjectNotFound))
}
