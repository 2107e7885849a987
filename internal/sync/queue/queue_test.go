// Package queue tests for the durable sync queue.
package queue

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/tourly/backend/internal/db"
	apperrors "github.com/kimhsiao/tourly/backend/internal/errors"
	"github.com/kimhsiao/tourly/backend/internal/models"
)

// =====================================================
// Test Helpers
// =====================================================

func openStore(t *testing.T) *db.DB {
	t.Helper()
	ctx := context.Background()
	store, err := db.Open(ctx, filepath.Join(t.TempDir(), db.DatabaseFile))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	_, err = db.NewMigrator(store, db.Migrations()).Up(ctx)
	require.NoError(t, err)
	return store
}

// newTestQueue returns a queue whose clock advances one millisecond per call.
func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q := New(openStore(t))
	clock := int64(1_700_000_000_000)
	q.now = func() int64 {
		clock++
		return clock
	}
	return q
}

func review(id string) Mutation {
	return ReviewCreated{Review: models.Review{ID: id, AttractionID: "a1", Rating: 5}}
}

func ids(entries []models.SyncQueue) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

// =====================================================
// Ordering
// =====================================================

// TestNextBatch_FIFOWithinPriority verifies A(1), B(2), C(1) drains as [B, A, C].
func TestNextBatch_FIFOWithinPriority(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	a, err := q.Enqueue(ctx, review("A"), PriorityNormal)
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, review("B"), PriorityHigh)
	require.NoError(t, err)
	c, err := q.Enqueue(ctx, review("C"), PriorityNormal)
	require.NoError(t, err)

	batch, err := q.NextBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{b, a, c}, ids(batch))

	batch, err = q.NextBatch(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{b, a}, ids(batch))

	batch, err = q.NextBatch(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

// TestNextBatch_SameTimestampUsesID verifies ties on created_at fall back to id.
func TestNextBatch_SameTimestampUsesID(t *testing.T) {
	q := New(openStore(t))
	q.now = func() int64 { return 42 }
	ctx := context.Background()

	var want []int64
	for _, id := range []string{"x", "y", "z"} {
		n, err := q.Enqueue(ctx, review(id), PriorityNormal)
		require.NoError(t, err)
		want = append(want, n)
	}
	batch, err := q.NextBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, want, ids(batch))
}

// TestNextBatch_OrderProperty checks dispatch order for arbitrary priorities.
func TestNextBatch_OrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("batch is sorted by priority desc then insertion", prop.ForAll(
		func(priorities []int) bool {
			q := newTestQueue(t)
			ctx := context.Background()

			type enq struct {
				id       int64
				priority int
			}
			var all []enq
			for i, p := range priorities {
				id, err := q.Enqueue(ctx, review(string(rune('a'+i%26))), Priority(p))
				if err != nil {
					return false
				}
				all = append(all, enq{id, p})
			}
			sort.SliceStable(all, func(i, j int) bool { return all[i].priority > all[j].priority })

			batch, err := q.NextBatch(ctx, len(priorities)+1)
			if err != nil || len(batch) != len(all) {
				return false
			}
			for i := range all {
				if batch[i].ID != all[i].id {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(12, gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}

// =====================================================
// Lifecycle
// =====================================================

// TestMarkSynced verifies success deletes the entry.
func TestMarkSynced(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, review("r1"), PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, q.MarkSynced(ctx, id))

	_, err = q.Get(ctx, id)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	assert.True(t, apperrors.Is(q.MarkSynced(ctx, id), apperrors.ErrNotFound))
}

// TestIncrementRetry_Ceiling verifies the 5th failure parks the entry and a
// 6th call changes nothing.
func TestIncrementRetry_Ceiling(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, review("r1"), PriorityNormal)
	require.NoError(t, err)

	for i := 1; i < MaxRetries; i++ {
		status, err := q.IncrementRetry(ctx, id, "timeout")
		require.NoError(t, err)
		assert.Equal(t, StatusRetry, status, "attempt %d", i)

		batch, err := q.NextBatch(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{id}, ids(batch), "retry entries stay dispatchable")
	}

	status, err := q.IncrementRetry(ctx, id, "rejected")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)

	before, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, MaxRetries, before.RetryCount)
	require.NotNil(t, before.LastError)
	assert.Equal(t, "rejected", *before.LastError)

	batch, err := q.NextBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, batch)

	// 6th call is a no-op
	status, err = q.IncrementRetry(ctx, id, "again")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)

	after, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, *before, *after)
}

// TestIncrementRetry_Missing verifies unknown ids are reported.
func TestIncrementRetry_Missing(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.IncrementRetry(context.Background(), 999, "x")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

// TestFailAndRetryFailed verifies manual remediation is the way back.
func TestFailAndRetryFailed(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	keep, err := q.Enqueue(ctx, review("ok"), PriorityNormal)
	require.NoError(t, err)
	bad, err := q.Enqueue(ctx, Unknown{Type: "future_kind", Raw: []byte(`{}`)}, PriorityLow)
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, bad, "unknown kind"))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 2, Pending: 1, Failed: 1}, stats)

	failed, err := q.List(ctx, StatusFailed, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{bad}, ids(failed))

	n, err := q.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entry, err := q.Get(ctx, bad)
	require.NoError(t, err)
	assert.Equal(t, string(StatusPending), entry.Status)
	assert.Zero(t, entry.RetryCount)
	assert.Nil(t, entry.LastError)

	all, err := q.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{keep, bad}, ids(all))
}

// TestEnqueue_PayloadRoundTrip verifies stored payloads decode to the variant.
func TestEnqueue_PayloadRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	start := "09:00"
	link := LinkUpserted{ItineraryLink: models.ItineraryLink{
		ID: "l1", ItineraryID: "i1", AttractionID: "a1", StartTime: &start, Price: 12.5, SortOrder: 3,
	}}
	id, err := q.Enqueue(ctx, link, PriorityNormal)
	require.NoError(t, err)

	entry, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "attraction_link", entry.Type)

	m, err := DecodeEntry(entry)
	require.NoError(t, err)
	got, ok := m.(LinkUpserted)
	require.True(t, ok, "decoded %T", m)
	assert.Equal(t, link.ID, got.ID)
	assert.Equal(t, 3, got.SortOrder)
	require.NotNil(t, got.StartTime)
	assert.Equal(t, "09:00", *got.StartTime)
}

// =====================================================
// Backoff
// =====================================================

// TestBackoff verifies exponential growth and the cap.
func TestBackoff(t *testing.T) {
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{-1, 30 * time.Second},
		{0, 30 * time.Second},
		{1, time.Minute},
		{3, 4 * time.Minute},
		{6, 30 * time.Minute},
		{50, 30 * time.Minute},
	}
	for _, tt := range tests {
		if got := Backoff(tt.retry, 30*time.Second, 30*time.Minute); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}
