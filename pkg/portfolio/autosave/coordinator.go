// Package autosave debounces editor writes per item. An edit schedules a
// content autosave after a short quiet period; a successful autosave
// schedules a similarity-routed snapshot save after a further delay.
package autosave

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
)

const (
	DefaultContentDelay  = time.Second
	DefaultSnapshotDelay = 1500 * time.Millisecond
	DefaultSaveTimeout   = 30 * time.Second
)

// ErrClosed is returned by Edit after Shutdown.
var ErrClosed = errors.New("autosave coordinator is shut down")

// Saver is the part of portfolio.Service the coordinator drives.
type Saver interface {
	Autosave(ctx context.Context, actor uuid.UUID, draft portfolio.DraftInput) (*portfolio.ContentVersion, error)
	SmartSaveVersion(ctx context.Context, actor uuid.UUID, req portfolio.SmartSaveRequest) (*portfolio.SaveResult, error)
}

// State is the save indicator shown to the author.
type State string

const (
	StateIdle   State = "idle"
	StateSaving State = "saving"
	StateSaved  State = "saved"
	StateError  State = "error"
)

// Status reports the save state of one item.
type Status struct {
	State         State      `json:"state"`
	LastError     string     `json:"last_error,omitempty"`
	LastSavedAt   *time.Time `json:"last_saved_at,omitempty"`
	VersionNumber int        `json:"version_number,omitempty"`
}

type session struct {
	gen      uint64
	actor    uuid.UUID
	draft    portfolio.DraftInput
	content  *time.Timer
	snapshot *time.Timer
	status   Status
}

func (s *session) stopTimers() {
	if s.content != nil {
		s.content.Stop()
		s.content = nil
	}
	if s.snapshot != nil {
		s.snapshot.Stop()
		s.snapshot = nil
	}
}

// Coordinator owns one cancellable save schedule per item. The last edit
// wins: a newer edit supersedes any pending or in-flight save result.
type Coordinator struct {
	saver         Saver
	contentDelay  time.Duration
	snapshotDelay time.Duration
	saveTimeout   time.Duration
	logger        *slog.Logger
	now           func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
	closed   bool
	inflight sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithContentDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		c.contentDelay = d
	}
}

func WithSnapshotDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		c.snapshotDelay = d
	}
}

// WithSaveTimeout bounds each background save call.
func WithSaveTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.saveTimeout = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// New creates a Coordinator that saves through saver.
func New(saver Saver, opts ...Option) *Coordinator {
	c := &Coordinator{
		saver:         saver,
		contentDelay:  DefaultContentDelay,
		snapshotDelay: DefaultSnapshotDelay,
		saveTimeout:   DefaultSaveTimeout,
		logger:        slog.Default(),
		now:           time.Now,
		sessions:      make(map[uuid.UUID]*session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Edit records the latest editor state for draft.ItemID and restarts its
// debounce timer.
func (c *Coordinator) Edit(actor uuid.UUID, draft portfolio.DraftInput) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Status{}, ErrClosed
	}
	s, ok := c.sessions[draft.ItemID]
	if !ok {
		s = &session{}
		c.sessions[draft.ItemID] = s
	}
	s.stopTimers()
	s.gen++
	s.actor = actor
	s.draft = draft
	s.status.State = StateSaving
	s.status.LastError = ""

	gen := s.gen
	itemID := draft.ItemID
	s.content = time.AfterFunc(c.contentDelay, func() {
		c.saveContent(itemID, gen)
	})
	return s.status, nil
}

// Status returns the save state of itemID. Items never edited are idle.
func (c *Coordinator) Status(itemID uuid.UUID) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[itemID]
	if !ok {
		return Status{State: StateIdle}
	}
	return s.status
}

// Cancel drops pending saves for itemID. It reports whether a session
// existed. A save already running still completes.
func (c *Coordinator) Cancel(itemID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[itemID]
	if !ok {
		return false
	}
	s.stopTimers()
	delete(c.sessions, itemID)
	return true
}

// Shutdown stops every timer and waits for running saves to finish or ctx
// to expire. Pending edits that have not fired are discarded.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	for id, s := range c.sessions {
		s.stopTimers()
		delete(c.sessions, id)
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// begin returns the session state to save when gen is still current.
func (c *Coordinator) begin(itemID uuid.UUID, gen uint64) (uuid.UUID, portfolio.DraftInput, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[itemID]
	if c.closed || !ok || s.gen != gen {
		return uuid.Nil, portfolio.DraftInput{}, false
	}
	c.inflight.Add(1)
	return s.actor, s.draft, true
}

func (c *Coordinator) saveContent(itemID uuid.UUID, gen uint64) {
	actor, draft, ok := c.begin(itemID, gen)
	if !ok {
		return
	}
	defer c.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), c.saveTimeout)
	defer cancel()
	version, err := c.saver.Autosave(ctx, actor, draft)

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[itemID]
	if !ok || s.gen != gen {
		return
	}
	if err != nil {
		c.logger.Warn("autosave failed", "item_id", itemID, "err", err)
		s.status.State = StateError
		s.status.LastError = err.Error()
		return
	}
	c.markSaved(s, version)
	if c.closed {
		return
	}
	s.snapshot = time.AfterFunc(c.snapshotDelay, func() {
		c.saveSnapshot(itemID, gen)
	})
}

func (c *Coordinator) saveSnapshot(itemID uuid.UUID, gen uint64) {
	actor, draft, ok := c.begin(itemID, gen)
	if !ok {
		return
	}
	defer c.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), c.saveTimeout)
	defer cancel()
	result, err := c.saver.SmartSaveVersion(ctx, actor, portfolio.SmartSaveRequest{Draft: draft})

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[itemID]
	if !ok || s.gen != gen {
		return
	}
	s.snapshot = nil
	if err != nil {
		c.logger.Warn("snapshot save failed", "item_id", itemID, "err", err)
		s.status.State = StateError
		s.status.LastError = err.Error()
		return
	}
	if result.Created {
		c.logger.Debug("snapshot created new version", "item_id", itemID,
			"version", result.Version.VersionNumber, "similarity", result.Similarity)
	}
	c.markSaved(s, result.Version)
}

func (c *Coordinator) markSaved(s *session, version *portfolio.ContentVersion) {
	now := c.now().UTC()
	s.status.State = StateSaved
	s.status.LastError = ""
	s.status.LastSavedAt = &now
	if version != nil {
		s.status.VersionNumber = version.VersionNumber
	}
}
