package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"sync/atomic"
	"time"

	apperrors "github.com/kimhsiao/tourly/backend/internal/errors"
	"github.com/kimhsiao/tourly/backend/internal/logging"
	"github.com/kimhsiao/tourly/backend/internal/models"
	"github.com/kimhsiao/tourly/backend/internal/sync/queue"
)

// DefaultBatchSize is used when the dispatcher is built with a
// non-positive batch size.
const DefaultBatchSize = 50

// DrainResult summarizes one drain.
type DrainResult struct {
	Synced  int `json:"synced"`
	Retried int `json:"retried"`
	Failed  int `json:"failed"`
	// Errors counts queue bookkeeping failures.
	Errors int `json:"errors"`
	// More is set when the batch was full, so entries may remain.
	More bool `json:"more"`
	// Skipped is set when another drain was already running.
	Skipped bool `json:"skipped"`
}

// Status is a snapshot of dispatcher state.
type Status struct {
	Draining   bool         `json:"draining"`
	LastDrain  *time.Time   `json:"last_drain,omitempty"`
	LastResult *DrainResult `json:"last_result,omitempty"`
	LastError  string       `json:"last_error,omitempty"`
}

// Dispatcher drains the sync queue into a Remote.
type Dispatcher struct {
	queue     *queue.Queue
	remote    Remote
	batchSize int

	draining atomic.Bool

	mu         stdsync.RWMutex
	lastDrain  time.Time
	lastResult *DrainResult
	lastErr    error
}

// NewDispatcher creates a Dispatcher. A nil remote makes every drain fail
// with SYNC_NOT_CONFIGURED while local writes keep queueing.
func NewDispatcher(q *queue.Queue, remote Remote, batchSize int) *Dispatcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Dispatcher{queue: q, remote: remote, batchSize: batchSize}
}

// DrainOnce dispatches one batch of queue entries sequentially. A call made
// while another drain is running returns at once with Skipped set.
func (d *Dispatcher) DrainOnce(ctx context.Context) (DrainResult, error) {
	if !d.draining.CompareAndSwap(false, true) {
		logging.Debug("Drain already in progress, skipping", nil)
		return DrainResult{Skipped: true}, nil
	}
	defer d.draining.Store(false)

	result, err := d.drain(ctx)

	d.mu.Lock()
	d.lastDrain = time.Now()
	d.lastResult = &result
	d.lastErr = err
	d.mu.Unlock()

	return result, err
}

func (d *Dispatcher) drain(ctx context.Context) (DrainResult, error) {
	var result DrainResult

	if d.remote == nil {
		return result, apperrors.New(apperrors.ErrSyncNotConfigured, "no remote service configured")
	}

	batch, err := d.queue.NextBatch(ctx, d.batchSize)
	if err != nil {
		return result, apperrors.Wrap(apperrors.ErrSyncFailed, "failed to read queue", err)
	}
	if len(batch) == 0 {
		return result, nil
	}
	result.More = len(batch) == d.batchSize

	logging.Info("Draining sync queue", map[string]interface{}{"count": len(batch)})

	for i := range batch {
		// An interrupted drain leaves the rest untouched for the next one.
		if ctx.Err() != nil {
			result.More = true
			break
		}
		d.process(ctx, &batch[i], &result)
	}

	logging.Info("Sync queue drain completed", map[string]interface{}{
		"synced":  result.Synced,
		"retried": result.Retried,
		"failed":  result.Failed,
		"errors":  result.Errors,
	})
	return result, nil
}

// process dispatches one entry and records the outcome. It never returns
// an error so one entry cannot abort the batch.
func (d *Dispatcher) process(ctx context.Context, entry *models.SyncQueue, result *DrainResult) {
	fields := map[string]interface{}{"id": entry.ID, "type": entry.Type}

	m, err := queue.DecodeEntry(entry)
	if err != nil {
		d.fail(ctx, entry.ID, err.Error(), fields, result)
		return
	}
	if u, ok := m.(queue.Unknown); ok {
		d.fail(ctx, entry.ID, fmt.Sprintf("%s: unknown mutation type %q", apperrors.ErrSyncUnknownKind, u.Type), fields, result)
		return
	}

	if err := d.dispatch(ctx, m); err != nil {
		status, qerr := d.queue.IncrementRetry(ctx, entry.ID, err.Error())
		if qerr != nil {
			logging.Error("Failed to record sync retry", qerr, fields)
			result.Errors++
			return
		}
		if status == queue.StatusFailed {
			result.Failed++
		} else {
			result.Retried++
		}
		logging.ErrorWithCode("Sync dispatch failed", string(apperrors.ErrSyncFailed), err, fields)
		return
	}

	if err := d.queue.MarkSynced(ctx, entry.ID); err != nil {
		logging.Error("Failed to mark entry synced", err, fields)
		result.Errors++
		return
	}
	result.Synced++
}

func (d *Dispatcher) fail(ctx context.Context, id int64, reason string, fields map[string]interface{}, result *DrainResult) {
	if err := d.queue.Fail(ctx, id, reason); err != nil {
		logging.Error("Failed to park undispatchable entry", err, fields)
		result.Errors++
		return
	}
	result.Failed++
}

// dispatch routes a mutation to its remote operation.
func (d *Dispatcher) dispatch(ctx context.Context, m queue.Mutation) error {
	switch v := m.(type) {
	case queue.ReviewCreated:
		return d.remote.CreateReview(ctx, v.Review)
	case queue.ItineraryCreated:
		return d.remote.UpsertItinerary(ctx, v.Itinerary)
	case queue.ItineraryUpdated:
		return d.remote.UpsertItinerary(ctx, v.Itinerary)
	case queue.ItineraryDeleted:
		return d.remote.SoftDeleteItinerary(ctx, v.ID)
	case queue.LinkUpserted:
		return d.remote.UpsertLink(ctx, v.ItineraryLink)
	case queue.LinkRemoved:
		return d.remote.SoftDeleteLink(ctx, v.ID)
	case queue.ItineraryReordered:
		return d.remote.UpdateLinkOrder(ctx, v.ItineraryID, v.AutoSort, v.Positions)
	}
	return apperrors.Newf(apperrors.ErrSyncUnknownKind, "no remote operation for %s", m.Kind())
}

// Status returns the current dispatcher state.
func (d *Dispatcher) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Status{Draining: d.draining.Load()}
	if !d.lastDrain.IsZero() {
		t := d.lastDrain
		s.LastDrain = &t
	}
	if d.lastResult != nil {
		r := *d.lastResult
		s.LastResult = &r
	}
	if d.lastErr != nil {
		s.LastError = d.lastErr.Error()
	}
	return s
}
