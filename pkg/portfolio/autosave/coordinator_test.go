package autosave_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
	"github.com/tendant/simple-portfolio/pkg/portfolio/autosave"
)

type fakeSaver struct {
	mu          sync.Mutex
	autosaves   []portfolio.DraftInput
	snapshots   []portfolio.DraftInput
	autosaveErr error
	snapshotErr error
	block       chan struct{}
}

func (f *fakeSaver) Autosave(ctx context.Context, actor uuid.UUID, draft portfolio.DraftInput) (*portfolio.ContentVersion, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autosaves = append(f.autosaves, draft)
	if f.autosaveErr != nil {
		return nil, f.autosaveErr
	}
	return &portfolio.ContentVersion{ContentItemID: draft.ItemID, VersionNumber: 1, Title: draft.Title}, nil
}

func (f *fakeSaver) SmartSaveVersion(ctx context.Context, actor uuid.UUID, req portfolio.SmartSaveRequest) (*portfolio.SaveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, req.Draft)
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	return &portfolio.SaveResult{
		Version: &portfolio.ContentVersion{ContentItemID: req.Draft.ItemID, VersionNumber: 2},
		Created: true,
	}, nil
}

func (f *fakeSaver) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.autosaves), len(f.snapshots)
}

func (f *fakeSaver) lastAutosave() portfolio.DraftInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.autosaves[len(f.autosaves)-1]
}

func newCoordinator(saver autosave.Saver) *autosave.Coordinator {
	return autosave.New(saver,
		autosave.WithContentDelay(20*time.Millisecond),
		autosave.WithSnapshotDelay(30*time.Millisecond))
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestEditDebouncesContentAutosave(t *testing.T) {
	saver := &fakeSaver{}
	c := newCoordinator(saver)
	defer c.Shutdown(context.Background())

	actor := uuid.New()
	itemID := uuid.New()
	for _, title := range []string{"a", "ab", "abc"} {
		status, err := c.Edit(actor, portfolio.DraftInput{ItemID: itemID, Title: title})
		require.NoError(t, err)
		assert.Equal(t, autosave.StateSaving, status.State)
	}

	assert.Eventually(t, func() bool {
		a, s := saver.counts()
		return a == 1 && s == 1
	}, waitFor, tick)
	assert.Equal(t, "abc", saver.lastAutosave().Title)

	assert.Eventually(t, func() bool {
		st := c.Status(itemID)
		return st.State == autosave.StateSaved && st.VersionNumber == 2
	}, waitFor, tick)
	require.NotNil(t, c.Status(itemID).LastSavedAt)
}

func TestStatusOfUnknownItemIsIdle(t *testing.T) {
	c := newCoordinator(&fakeSaver{})
	assert.Equal(t, autosave.StateIdle, c.Status(uuid.New()).State)
}

func TestAutosaveErrorSkipsSnapshot(t *testing.T) {
	saver := &fakeSaver{autosaveErr: errors.New("db down")}
	c := newCoordinator(saver)
	defer c.Shutdown(context.Background())

	itemID := uuid.New()
	_, err := c.Edit(uuid.New(), portfolio.DraftInput{ItemID: itemID, Title: "x"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return c.Status(itemID).State == autosave.StateError
	}, waitFor, tick)
	assert.Equal(t, "db down", c.Status(itemID).LastError)

	time.Sleep(60 * time.Millisecond)
	_, snapshots := saver.counts()
	assert.Zero(t, snapshots)
}

func TestSnapshotErrorIsReported(t *testing.T) {
	saver := &fakeSaver{snapshotErr: errors.New("conflict")}
	c := newCoordinator(saver)
	defer c.Shutdown(context.Background())

	itemID := uuid.New()
	_, err := c.Edit(uuid.New(), portfolio.DraftInput{ItemID: itemID})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		st := c.Status(itemID)
		return st.State == autosave.StateError && st.LastError == "conflict"
	}, waitFor, tick)
}

func TestCancelDropsPendingSave(t *testing.T) {
	saver := &fakeSaver{}
	c := autosave.New(saver, autosave.WithContentDelay(50*time.Millisecond))
	defer c.Shutdown(context.Background())

	itemID := uuid.New()
	_, err := c.Edit(uuid.New(), portfolio.DraftInput{ItemID: itemID})
	require.NoError(t, err)

	assert.True(t, c.Cancel(itemID))
	assert.False(t, c.Cancel(itemID))

	time.Sleep(100 * time.Millisecond)
	autosaves, _ := saver.counts()
	assert.Zero(t, autosaves)
	assert.Equal(t, autosave.StateIdle, c.Status(itemID).State)
}

func TestItemsAreScheduledIndependently(t *testing.T) {
	saver := &fakeSaver{}
	c := newCoordinator(saver)
	defer c.Shutdown(context.Background())

	actor := uuid.New()
	first, second := uuid.New(), uuid.New()
	_, err := c.Edit(actor, portfolio.DraftInput{ItemID: first})
	require.NoError(t, err)
	_, err = c.Edit(actor, portfolio.DraftInput{ItemID: second})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		a, s := saver.counts()
		return a == 2 && s == 2
	}, waitFor, tick)
}

func TestShutdownWaitsForInflightSave(t *testing.T) {
	saver := &fakeSaver{block: make(chan struct{})}
	c := autosave.New(saver, autosave.WithContentDelay(time.Millisecond))

	itemID := uuid.New()
	_, err := c.Edit(uuid.New(), portfolio.DraftInput{ItemID: itemID})
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Shutdown(ctx), context.DeadlineExceeded)

	close(saver.block)
	require.NoError(t, c.Shutdown(context.Background()))

	_, err = c.Edit(uuid.New(), portfolio.DraftInput{ItemID: itemID})
	assert.ErrorIs(t, err, autosave.ErrClosed)

	_, snapshots := saver.counts()
	assert.Zero(t, snapshots)
}
