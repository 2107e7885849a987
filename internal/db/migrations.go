package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Migrations returns the registered schema migrations in name order.
func Migrations() []Migration {
	return []Migration{
		{
			Name:    "0001_initial_schema",
			Version: 1,
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS attractions (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					category TEXT NOT NULL DEFAULT '',
					location TEXT NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT '',
					rating REAL NOT NULL DEFAULT 0,
					price REAL NOT NULL DEFAULT 0,
					updated_at INTEGER NOT NULL DEFAULT 0
				)`,
				`CREATE INDEX IF NOT EXISTS idx_attractions_category ON attractions(category)`,
				`CREATE TABLE IF NOT EXISTS reviews (
					id TEXT PRIMARY KEY,
					attraction_id TEXT NOT NULL REFERENCES attractions(id) ON DELETE CASCADE,
					author TEXT NOT NULL DEFAULT '',
					rating INTEGER NOT NULL CHECK(rating BETWEEN 1 AND 5),
					comment TEXT NOT NULL DEFAULT '',
					created_at INTEGER NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_reviews_attraction ON reviews(attraction_id, created_at)`,
				`CREATE TABLE IF NOT EXISTS itineraries (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL CHECK(length(name) > 0),
					description TEXT NOT NULL DEFAULT '',
					is_public INTEGER NOT NULL DEFAULT 0 CHECK(is_public IN (0, 1)),
					created_by TEXT NOT NULL DEFAULT '',
					created_at INTEGER NOT NULL,
					updated_at INTEGER NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS itinerary_attractions (
					id TEXT PRIMARY KEY,
					itinerary_id TEXT NOT NULL REFERENCES itineraries(id) ON DELETE CASCADE,
					attraction_id TEXT NOT NULL REFERENCES attractions(id),
					start_time TEXT,
					end_time TEXT,
					price REAL NOT NULL DEFAULT 0,
					notes TEXT NOT NULL DEFAULT '',
					created_at INTEGER NOT NULL,
					UNIQUE(itinerary_id, attraction_id)
				)`,
			},
		},
		{
			Name:    "0002_sync_queue",
			Version: 2,
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS sync_queue (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					type TEXT NOT NULL CHECK(length(type) > 0),
					payload BLOB NOT NULL,
					status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'retry', 'failed')),
					retry_count INTEGER NOT NULL DEFAULT 0 CHECK(retry_count >= 0),
					last_error TEXT,
					priority INTEGER NOT NULL DEFAULT 1,
					created_at INTEGER NOT NULL,
					updated_at INTEGER NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status)`,
			},
		},
		{
			Name:    "0003_itinerary_schedule_mode",
			Version: 3,
			Statements: []string{
				`ALTER TABLE itineraries ADD COLUMN schedule_mode INTEGER NOT NULL DEFAULT 0`,
			},
		},
		{
			Name:    "0004_add_sorting",
			Version: 4,
			Statements: []string{
				`ALTER TABLE itinerary_attractions ADD COLUMN sort_order INTEGER NOT NULL DEFAULT 0`,
				`ALTER TABLE itineraries ADD COLUMN auto_sort INTEGER NOT NULL DEFAULT 0`,
				`CREATE INDEX IF NOT EXISTS idx_itinerary_attractions_order
					ON itinerary_attractions(itinerary_id, sort_order)`,
			},
			Backfill: &Backfill{ID: "sort_order_by_created_at", Run: backfillSortOrder},
		},
		{
			Name: "0005_sync_queue_dispatch_index",
			Statements: []string{
				`CREATE INDEX IF NOT EXISTS idx_sync_queue_dispatch
					ON sync_queue(status, priority DESC, created_at, id)`,
			},
		},
	}
}

// backfillSortOrder assigns dense positions to every existing link, per
// itinerary, in creation order.
func backfillSortOrder(ctx context.Context, tx *sqlx.Tx) error {
	var links []struct {
		ID          string `db:"id"`
		ItineraryID string `db:"itinerary_id"`
	}
	if err := tx.SelectContext(ctx, &links,
		`SELECT id, itinerary_id FROM itinerary_attractions
		 ORDER BY itinerary_id, created_at, id`); err != nil {
		return fmt.Errorf("failed to list links: %w", err)
	}

	next := make(map[string]int)
	for _, l := range links {
		pos := next[l.ItineraryID]
		if _, err := tx.ExecContext(ctx,
			"UPDATE itinerary_attractions SET sort_order = ? WHERE id = ?", pos, l.ID); err != nil {
			return fmt.Errorf("failed to set sort order for %s: %w", l.ID, err)
		}
		next[l.ItineraryID] = pos + 1
	}
	return nil
}
