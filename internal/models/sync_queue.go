package models

import "encoding/json"

// SyncQueue represents a pending outbound mutation row.
type SyncQueue struct {
	ID         int64           `db:"id" json:"id"`
	Type       string          `db:"type" json:"type"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	Status     string          `db:"status" json:"status"` // pending, retry, failed
	RetryCount int             `db:"retry_count" json:"retry_count"`
	LastError  *string         `db:"last_error" json:"last_error,omitempty"`
	Priority   int             `db:"priority" json:"priority"`
	CreatedAt  int64           `db:"created_at" json:"created_at"`
	UpdatedAt  int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for SyncQueue.
func (SyncQueue) TableName() string {
	return "sync_queue"
}
