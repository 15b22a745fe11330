// Package assetref maps between stored object keys and the public URLs that
// editors embed in content, and finds the assets a document references.
package assetref

import (
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Resolver generates public URLs under a CDN or bucket base URL and
// resolves such URLs back to object keys.
type Resolver struct {
	baseURL string
	base    *url.URL
}

// NewResolver creates a resolver for baseURL, e.g. "https://cdn.example.com/media".
func NewResolver(baseURL string) (*Resolver, error) {
	trimmed := strings.TrimSuffix(baseURL, "/")
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid asset base URL %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("asset base URL %q must be absolute", baseURL)
	}
	return &Resolver{baseURL: trimmed, base: u}, nil
}

// BaseURL returns the normalized base URL.
func (r *Resolver) BaseURL() string {
	return r.baseURL
}

// PublicURL returns the public URL of objectKey.
func (r *Resolver) PublicURL(objectKey string) string {
	return r.baseURL + "/" + strings.TrimPrefix(objectKey, "/")
}

// ObjectKey returns the object key addressed by rawURL. Query strings and
// fragments are ignored. ok is false for URLs outside the base URL.
func (r *Resolver) ObjectKey(rawURL string) (key string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", false
	}
	if !strings.EqualFold(u.Scheme, r.base.Scheme) || !strings.EqualFold(u.Host, r.base.Host) {
		return "", false
	}
	prefix := strings.TrimSuffix(r.base.Path, "/") + "/"
	if !strings.HasPrefix(u.Path, prefix) {
		return "", false
	}
	key = strings.TrimPrefix(u.Path, prefix)
	if key == "" {
		return "", false
	}
	return key, true
}

// Scan walks a serialized block document and returns the sorted, distinct
// object keys of every URL under namespace. Any string value in the
// document may hold a URL (image props, link hrefs, inline text).
func (r *Resolver) Scan(body, namespace string) ([]string, error) {
	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("scan asset references: %w", err)
	}

	seen := make(map[string]struct{})
	var walk func(v any)
	walk = func(v any) {
		switch n := v.(type) {
		case string:
			for _, candidate := range strings.Fields(n) {
				if key, ok := r.ObjectKey(candidate); ok && strings.HasPrefix(key, namespace) {
					seen[key] = struct{}{}
				}
			}
		case []any:
			for _, item := range n {
				walk(item)
			}
		case map[string]any:
			for _, item := range n {
				walk(item)
			}
		}
	}
	walk(doc)

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}
