// Package queue provides the durable outbound sync queue.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kimhsiao/tourly/backend/internal/db"
	apperrors "github.com/kimhsiao/tourly/backend/internal/errors"
	"github.com/kimhsiao/tourly/backend/internal/logging"
	"github.com/kimhsiao/tourly/backend/internal/models"
)

// MaxRetries is the number of failed dispatches after which an entry is
// parked as failed.
const MaxRetries = 5

// Priority orders entries; higher drains first.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// Status represents the status of a queued entry. Synced entries are
// deleted, so there is no completed status.
type Status string

const (
	StatusPending Status = "pending"
	StatusRetry   Status = "retry"
	StatusFailed  Status = "failed"
)

const entryColumns = `id, type, payload, status, retry_count, last_error, priority, created_at, updated_at`

// dispatchOrder is the FIFO-within-priority order.
const dispatchOrder = ` ORDER BY priority DESC, created_at ASC, id ASC`

// Stats summarizes queue contents.
type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Retry   int `json:"retry"`
	Failed  int `json:"failed"`
}

// Queue is the sync_queue table.
type Queue struct {
	db  *db.DB
	now func() int64
}

// New creates a Queue over the store.
func New(store *db.DB) *Queue {
	return &Queue{db: store, now: models.NowMillis}
}

// Enqueue appends a pending entry. It never touches the network.
func (q *Queue) Enqueue(ctx context.Context, m Mutation, p Priority) (int64, error) {
	return q.enqueue(ctx, q.db, m, p)
}

// EnqueueTx appends a pending entry inside tx, so it commits or rolls back
// with the local write it describes.
func (q *Queue) EnqueueTx(ctx context.Context, tx *sqlx.Tx, m Mutation, p Priority) (int64, error) {
	return q.enqueue(ctx, tx, m, p)
}

func (q *Queue) enqueue(ctx context.Context, ex sqlx.ExecerContext, m Mutation, p Priority) (int64, error) {
	typ, payload, err := Encode(m)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrValidation, "invalid mutation", err)
	}

	now := q.now()
	res, err := ex.ExecContext(ctx,
		`INSERT INTO sync_queue (type, payload, status, retry_count, priority, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?, ?)`,
		typ, []byte(payload), string(StatusPending), int(p), now, now)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to enqueue "+typ, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to read queue id", err)
	}

	logging.Debug("Enqueued sync mutation", map[string]interface{}{
		"id":       id,
		"type":     typ,
		"priority": int(p),
	})
	return id, nil
}

// NextBatch returns up to limit dispatchable entries in FIFO-within-priority
// order. Failed entries are never returned.
func (q *Queue) NextBatch(ctx context.Context, limit int) ([]models.SyncQueue, error) {
	if limit <= 0 {
		return []models.SyncQueue{}, nil
	}
	entries := []models.SyncQueue{}
	err := q.db.SelectContext(ctx, &entries,
		"SELECT "+entryColumns+" FROM sync_queue WHERE status IN (?, ?)"+dispatchOrder+" LIMIT ?",
		string(StatusPending), string(StatusRetry), limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read queue batch", err)
	}
	return entries, nil
}

// MarkSynced deletes an entry after confirmed remote success.
func (q *Queue) MarkSynced(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete queue entry", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "queue entry %d not found", id)
	}
	return nil
}

// IncrementRetry records a failed dispatch. The entry moves to retry, or
// to failed once MaxRetries is reached. Failed entries are left untouched.
// It returns the entry's resulting status.
func (q *Queue) IncrementRetry(ctx context.Context, id int64, errText string) (Status, error) {
	var status Status
	err := q.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var cur struct {
			Status     string `db:"status"`
			RetryCount int    `db:"retry_count"`
		}
		if err := tx.GetContext(ctx, &cur, "SELECT status, retry_count FROM sync_queue WHERE id = ?", id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.Newf(apperrors.ErrNotFound, "queue entry %d not found", id)
			}
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to read queue entry", err)
		}

		if Status(cur.Status) == StatusFailed {
			status = StatusFailed
			return nil
		}

		count := cur.RetryCount + 1
		status = StatusRetry
		if count >= MaxRetries {
			status = StatusFailed
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE sync_queue SET retry_count = ?, last_error = ?, status = ?, updated_at = ? WHERE id = ?`,
			count, errText, string(status), q.now(), id); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to update queue entry", err)
		}

		if status == StatusFailed {
			logging.Warn("Sync entry failed permanently", map[string]interface{}{
				"id":          id,
				"retry_count": count,
				"last_error":  errText,
			})
		} else {
			logging.Info("Sync entry scheduled for retry", map[string]interface{}{
				"id":          id,
				"retry_count": count,
				"max_retries": MaxRetries,
			})
		}
		return nil
	})
	return status, err
}

// Fail parks an entry as failed immediately, for payloads that can never
// be dispatched.
func (q *Queue) Fail(ctx context.Context, id int64, reason string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(StatusFailed), reason, q.now(), id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to fail queue entry", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "queue entry %d not found", id)
	}
	logging.Warn("Sync entry rejected", map[string]interface{}{"id": id, "reason": reason})
	return nil
}

// RetryFailed resets all failed entries to pending with a zero retry count.
// This is the only way out of the failed status.
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, retry_count = 0, last_error = NULL, updated_at = ? WHERE status = ?`,
		string(StatusPending), q.now(), string(StatusFailed))
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to reset failed entries", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to reset failed entries", err)
	}
	if n > 0 {
		logging.Info("Reset failed sync entries for retry", map[string]interface{}{"count": n})
	}
	return int(n), nil
}

// Get returns one entry.
func (q *Queue) Get(ctx context.Context, id int64) (*models.SyncQueue, error) {
	var e models.SyncQueue
	err := q.db.GetContext(ctx, &e, "SELECT "+entryColumns+" FROM sync_queue WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "queue entry %d not found", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read queue entry", err)
	}
	return &e, nil
}

// List returns entries in dispatch order. An empty status lists all.
func (q *Queue) List(ctx context.Context, status Status, limit int) ([]models.SyncQueue, error) {
	query := "SELECT " + entryColumns + " FROM sync_queue"
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += dispatchOrder
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	entries := []models.SyncQueue{}
	if err := q.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list queue", err)
	}
	return entries, nil
}

// Stats returns queue statistics.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"cnt"`
	}
	if err := q.db.SelectContext(ctx, &rows,
		"SELECT status, COUNT(*) AS cnt FROM sync_queue GROUP BY status"); err != nil {
		return Stats{}, apperrors.Wrap(apperrors.ErrDatabase, "failed to read queue stats", err)
	}

	var s Stats
	for _, r := range rows {
		s.Total += r.Count
		switch Status(r.Status) {
		case StatusPending:
			s.Pending = r.Count
		case StatusRetry:
			s.Retry = r.Count
		case StatusFailed:
			s.Failed = r.Count
		}
	}
	return s, nil
}

// Backoff returns the delay before re-draining after retryCount consecutive
// drains with failures: base * 2^retryCount, capped at max.
func Backoff(retryCount int, base, max time.Duration) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 30 {
		return max
	}
	backoff := base * time.Duration(int64(1)<<uint(retryCount))
	if backoff > max || backoff <= 0 {
		backoff = max
	}
	return backoff
}

func (s Status) String() string {
	return string(s)
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}
