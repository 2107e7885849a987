package sync

import (
	"context"
	"errors"
	"path/filepath"
	stdsync "sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/tourly/backend/internal/db"
	apperrors "github.com/kimhsiao/tourly/backend/internal/errors"
	"github.com/kimhsiao/tourly/backend/internal/models"
	"github.com/kimhsiao/tourly/backend/internal/sync/queue"
)

// fakeRemote records calls and fails those whose id is in failIDs.
type fakeRemote struct {
	mu      stdsync.Mutex
	calls   []string
	failIDs map[string]error
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeRemote) record(op, id string) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+":"+id)
	if err, ok := f.failIDs[id]; ok {
		return err
	}
	return nil
}

func (f *fakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) CreateReview(_ context.Context, r models.Review) error {
	return f.record("review", r.ID)
}
func (f *fakeRemote) UpsertItinerary(_ context.Context, it models.Itinerary) error {
	return f.record("upsert_itinerary", it.ID)
}
func (f *fakeRemote) SoftDeleteItinerary(_ context.Context, id string) error {
	return f.record("delete_itinerary", id)
}
func (f *fakeRemote) UpsertLink(_ context.Context, l models.ItineraryLink) error {
	return f.record("upsert_link", l.ID)
}
func (f *fakeRemote) SoftDeleteLink(_ context.Context, id string) error {
	return f.record("delete_link", id)
}
func (f *fakeRemote) UpdateLinkOrder(_ context.Context, itineraryID string, _ bool, _ []models.LinkPosition) error {
	return f.record("reorder", itineraryID)
}

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	ctx := context.Background()
	store, err := db.Open(ctx, filepath.Join(t.TempDir(), db.DatabaseFile))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	_, err = db.NewMigrator(store, db.Migrations()).Up(ctx)
	require.NoError(t, err)
	return queue.New(store)
}

func reviewMutation(id string) queue.Mutation {
	return queue.ReviewCreated{Review: models.Review{ID: id, AttractionID: "a1", Rating: 5}}
}

// TestDrainOnce_Success verifies a successful dispatch empties the queue.
func TestDrainOnce_Success(t *testing.T) {
	q := newTestQueue(t)
	remote := &fakeRemote{}
	d := NewDispatcher(q, remote, 10)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, reviewMutation("r1"), queue.PriorityHigh)
	require.NoError(t, err)

	result, err := d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Synced: 1}, result)
	assert.Equal(t, []string{"review:r1"}, remote.Calls())

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

// TestDrainOnce_RemoteFailure verifies a failure keeps the entry with one retry.
func TestDrainOnce_RemoteFailure(t *testing.T) {
	q := newTestQueue(t)
	remote := &fakeRemote{failIDs: map[string]error{"r1": errors.New("503 unavailable")}}
	d := NewDispatcher(q, remote, 10)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, reviewMutation("r1"), queue.PriorityHigh)
	require.NoError(t, err)

	result, err := d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Retried: 1}, result)

	entry, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.RetryCount)
	assert.Equal(t, "retry", entry.Status)
	require.NotNil(t, entry.LastError)
	assert.Equal(t, "503 unavailable", *entry.LastError)
}

// TestDrainOnce_FailureDoesNotAbortBatch verifies later entries still dispatch.
func TestDrainOnce_FailureDoesNotAbortBatch(t *testing.T) {
	q := newTestQueue(t)
	remote := &fakeRemote{failIDs: map[string]error{"i1": errors.New("boom")}}
	d := NewDispatcher(q, remote, 10)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, queue.ItineraryCreated{Itinerary: models.Itinerary{ID: "i1"}}, queue.PriorityNormal)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, queue.LinkUpserted{ItineraryLink: models.ItineraryLink{ID: "l1"}}, queue.PriorityNormal)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, queue.ItineraryReordered{ItineraryID: "i2"}, queue.PriorityNormal)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, queue.LinkRemoved{ID: "l9"}, queue.PriorityNormal)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, queue.ItineraryDeleted{ID: "i3"}, queue.PriorityLow)
	require.NoError(t, err)

	result, err := d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Synced)
	assert.Equal(t, 1, result.Retried)
	assert.Equal(t, []string{
		"upsert_itinerary:i1", "upsert_link:l1", "reorder:i2", "delete_link:l9", "delete_itinerary:i3",
	}, remote.Calls())
}

// TestDrainOnce_UnknownKindFails verifies unknown types are parked immediately.
func TestDrainOnce_UnknownKindFails(t *testing.T) {
	q := newTestQueue(t)
	remote := &fakeRemote{}
	d := NewDispatcher(q, remote, 10)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, queue.Unknown{Type: "photo_upload", Raw: []byte(`{}`)}, queue.PriorityNormal)
	require.NoError(t, err)
	bad, err := q.Enqueue(ctx, queue.Unknown{Type: "review", Raw: []byte(`{"rating":"x"}`)}, queue.PriorityNormal)
	require.NoError(t, err)

	result, err := d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Failed)
	assert.Empty(t, remote.Calls())

	for _, eid := range []int64{id, bad} {
		entry, err := q.Get(ctx, eid)
		require.NoError(t, err)
		assert.Equal(t, "failed", entry.Status)
	}

	next, err := q.NextBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, next)
}

// TestDrainOnce_BatchLimitSetsMore verifies one batch per drain.
func TestDrainOnce_BatchLimitSetsMore(t *testing.T) {
	q := newTestQueue(t)
	d := NewDispatcher(q, &fakeRemote{}, 2)
	ctx := context.Background()

	for _, id := range []string{"r1", "r2", "r3"} {
		_, err := q.Enqueue(ctx, reviewMutation(id), queue.PriorityNormal)
		require.NoError(t, err)
	}

	result, err := d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Synced)
	assert.True(t, result.More)

	result, err = d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.False(t, result.More)
}

// TestDrainOnce_Reentrancy verifies a concurrent drain is a silent no-op.
func TestDrainOnce_Reentrancy(t *testing.T) {
	q := newTestQueue(t)
	remote := &fakeRemote{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	d := NewDispatcher(q, remote, 10)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, reviewMutation("r1"), queue.PriorityNormal)
	require.NoError(t, err)

	done := make(chan DrainResult)
	go func() {
		r, _ := d.DrainOnce(ctx)
		done <- r
	}()

	<-remote.entered
	assert.True(t, d.Status().Draining)

	second, err := d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.True(t, second.Skipped)

	close(remote.block)
	first := <-done
	assert.Equal(t, 1, first.Synced)
	assert.False(t, d.Status().Draining)
	require.NotNil(t, d.Status().LastResult)
}

// TestDrainOnce_NoRemote verifies an unconfigured remote is reported.
func TestDrainOnce_NoRemote(t *testing.T) {
	q := newTestQueue(t)
	d := NewDispatcher(q, nil, 10)

	_, err := d.DrainOnce(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncNotConfigured))
	assert.NotEmpty(t, d.Status().LastError)
}
