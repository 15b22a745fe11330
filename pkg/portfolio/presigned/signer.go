// Package presigned signs upload URLs served by this process for blob
// stores that cannot presign on their own (memory and filesystem). The
// signed URL mimics an S3 presigned PUT.
package presigned

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Signer generates and validates HMAC-signed upload URLs
type Signer struct {
	secretKey  []byte
	expiration time.Duration
	baseURL    string
	pathPrefix string
	now        func() time.Time
}

// Option is a functional option for configuring a Signer
type Option func(*Signer)

// WithExpiration sets how long signed URLs stay valid. Default is 15 minutes.
func WithExpiration(d time.Duration) Option {
	return func(s *Signer) {
		s.expiration = d
	}
}

// WithBaseURL sets the scheme and host prepended to signed paths, e.g. "https://api.example.com"
func WithBaseURL(baseURL string) Option {
	return func(s *Signer) {
		s.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithPathPrefix sets the route the upload handler is mounted on. Default is "/uploads/".
func WithPathPrefix(prefix string) Option {
	return func(s *Signer) {
		s.pathPrefix = "/" + strings.Trim(prefix, "/") + "/"
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

// New creates a Signer. The key should be at least 32 bytes.
func New(secretKey string, opts ...Option) *Signer {
	s := &Signer{
		secretKey:  []byte(secretKey),
		expiration: 15 * time.Minute,
		pathPrefix: "/uploads/",
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PathPrefix returns the route prefix of signed upload URLs.
func (s *Signer) PathPrefix() string {
	return s.pathPrefix
}

// UploadURL returns a signed PUT URL for objectKey.
func (s *Signer) UploadURL(objectKey string) (string, error) {
	if len(s.secretKey) == 0 {
		return "", ErrNoSecretKey
	}
	path := s.pathPrefix + strings.TrimPrefix(objectKey, "/")
	expiresAt := s.now().Add(s.expiration).Unix()
	signature := s.sign(http.MethodPut, path, expiresAt)
	return fmt.Sprintf("%s%s?signature=%s&expires=%d", s.baseURL, path, signature, expiresAt), nil
}

// ValidateRequest checks the signature and expiration of an upload request
// and returns the object key it addresses.
func (s *Signer) ValidateRequest(r *http.Request) (string, error) {
	if len(s.secretKey) == 0 {
		return "", ErrNoSecretKey
	}
	query := r.URL.Query()
	signature := query.Get("signature")
	if signature == "" {
		return "", ErrMissingSignature
	}
	expiresAt, err := strconv.ParseInt(query.Get("expires"), 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidExpiration, err)
	}
	if s.now().Unix() > expiresAt {
		return "", ErrExpired
	}

	expected := s.sign(r.Method, r.URL.Path, expiresAt)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", ErrInvalidSignature
	}

	key := strings.TrimPrefix(r.URL.Path, s.pathPrefix)
	if key == r.URL.Path || key == "" {
		return "", ErrInvalidSignature
	}
	return key, nil
}

// sign computes the HMAC-SHA256 of METHOD|PATH|EXPIRES.
func (s *Signer) sign(method, path string, expiresAt int64) string {
	h := hmac.New(sha256.New, s.secretKey)
	fmt.Fprintf(h, "%s|%s|%d", method, path, expiresAt)
	return hex.EncodeToString(h.Sum(nil))
}
