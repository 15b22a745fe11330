package cache

import (
	"context"
	"sync"
	"time"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
)

type memoryEntry struct {
	view      portfolio.PublishedView
	expiresAt time.Time
}

// Memory is an in-process published view cache with per-entry TTL.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*Memory)

// WithMemoryClock overrides time.Now.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates a cache whose entries expire after ttl. A ttl of zero
// uses DefaultTTL.
func NewMemory(ttl time.Duration, opts ...MemoryOption) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Memory{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(ctx context.Context, itemType portfolio.ContentType, slug string) (*portfolio.PublishedView, bool, error) {
	key := Key("", itemType, slug)

	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(entry.expiresAt) {
		m.mu.Lock()
		if current, still := m.entries[key]; still && current.expiresAt.Equal(entry.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	view := entry.view
	view.Tags = copyTags(entry.view.Tags)
	return &view, true, nil
}

func (m *Memory) Set(ctx context.Context, view *portfolio.PublishedView) error {
	stored := *view
	stored.Tags = copyTags(view.Tags)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[Key("", view.Type, view.Slug)] = memoryEntry{view: stored, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *Memory) Invalidate(ctx context.Context, itemType portfolio.ContentType, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, Key("", itemType, slug))
	return nil
}

// Len returns the number of cached entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func copyTags(tags []*portfolio.Tag) []*portfolio.Tag {
	if tags == nil {
		return nil
	}
	out := make([]*portfolio.Tag, len(tags))
	for i, t := range tags {
		c := *t
		out[i] = &c
	}
	return out
}

var _ portfolio.PublishedCache = (*Memory)(nil)
