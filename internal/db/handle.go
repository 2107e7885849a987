package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/kimhsiao/tourly/backend/internal/errors"
	"github.com/kimhsiao/tourly/backend/internal/logging"
)

const (
	// DatabaseFile is the store file name inside the data directory.
	DatabaseFile = "tourly.db"
	// MarkerFile records the baseline the store was created from.
	MarkerFile = "db_version.json"
)

// sideFiles are removed together with the database file on wipe.
var sideFiles = []string{"", "-wal", "-shm", "-journal"}

// Baseline identifies the packaged baseline database.
type Baseline struct {
	ID string
	// SnapshotPath optionally points at a database file copied into place
	// when no local store exists.
	SnapshotPath string
}

// Marker is the persisted baseline marker.
type Marker struct {
	BaselineID string `json:"baseline_id"`
	WrittenAt  int64  `json:"written_at"`
}

// Handle owns the lifecycle of the single local store connection.
type Handle struct {
	dataDir  string
	baseline Baseline

	group singleflight.Group
	mu    sync.Mutex
	db    *DB
}

// NewHandle creates a Handle for the store in dataDir.
func NewHandle(dataDir string, baseline Baseline) *Handle {
	return &Handle{dataDir: dataDir, baseline: baseline}
}

// DatabasePath returns the store file path.
func (h *Handle) DatabasePath() string {
	return filepath.Join(h.dataDir, DatabaseFile)
}

// MarkerPath returns the marker file path.
func (h *Handle) MarkerPath() string {
	return filepath.Join(h.dataDir, MarkerFile)
}

// Acquire returns the open store, opening it on first use. Concurrent
// first callers share one in-flight acquisition.
func (h *Handle) Acquire(ctx context.Context) (*DB, error) {
	if db := h.current(); db != nil {
		return db, nil
	}

	// The open is shared, so one waiter's cancellation must not fail the rest.
	openCtx := context.WithoutCancel(ctx)
	ch := h.group.DoChan("acquire", func() (interface{}, error) {
		if db := h.current(); db != nil {
			return db, nil
		}

		db, err := h.open(openCtx)
		if err != nil && IsCorruption(err) {
			logging.Warn("Local store corrupt, wiping and retrying", map[string]interface{}{
				"path":  h.DatabasePath(),
				"error": err.Error(),
			})
			if werr := h.wipe(); werr != nil {
				return nil, apperrors.Wrap(apperrors.ErrStoreCorrupt, "failed to wipe corrupt store", werr)
			}
			db, err = h.open(openCtx)
			if err != nil {
				return nil, apperrors.Wrap(apperrors.ErrStoreCorrupt, "store unusable after wipe", err)
			}
		}
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStoreOpen, "failed to open local store", err)
		}

		h.mu.Lock()
		h.db = db
		h.mu.Unlock()
		return db, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*DB), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AcquirePrepared acquires the store and runs prepare on it, typically the
// migrations. Corruption reported by prepare wipes the store and repeats
// both steps once; a second failure is STORE_CORRUPT. On error the store is
// closed.
func (h *Handle) AcquirePrepared(ctx context.Context, prepare func(ctx context.Context, db *DB) error) (*DB, error) {
	db, err := h.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	err = prepare(ctx, db)
	if err == nil {
		return db, nil
	}
	if !IsCorruption(err) {
		h.Close()
		return nil, err
	}

	logging.Warn("Local store corrupt after open, wiping and retrying", map[string]interface{}{
		"path":  h.DatabasePath(),
		"error": err.Error(),
	})
	db, err = h.Reset(ctx)
	if err != nil {
		h.Close()
		return nil, apperrors.Wrap(apperrors.ErrStoreCorrupt, "failed to reset corrupt store", err)
	}
	if err := prepare(ctx, db); err != nil {
		h.Close()
		return nil, apperrors.Wrap(apperrors.ErrStoreCorrupt, "store unusable after wipe", err)
	}
	return db, nil
}

func (h *Handle) current() *DB {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.db
}

// open runs one acquisition attempt: marker check, seeding and connection.
func (h *Handle) open(ctx context.Context) (*DB, error) {
	if err := os.MkdirAll(h.dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := h.checkMarker(); err != nil {
		return nil, err
	}

	if err := h.seed(); err != nil {
		return nil, err
	}

	return Open(ctx, h.DatabasePath())
}

// checkMarker wipes the store when the marker is missing or names another
// baseline, then records the current baseline.
func (h *Handle) checkMarker() error {
	marker, err := h.ReadMarker()
	if err == nil && marker.BaselineID == h.baseline.ID {
		return nil
	}

	logging.Info("Baseline changed, resetting local store", map[string]interface{}{
		"expected": h.baseline.ID,
		"found":    markerID(marker),
	})
	if err := h.wipe(); err != nil {
		return err
	}
	return h.writeMarker()
}

func markerID(m *Marker) string {
	if m == nil {
		return ""
	}
	return m.BaselineID
}

// ReadMarker reads the persisted baseline marker.
func (h *Handle) ReadMarker() (*Marker, error) {
	data, err := os.ReadFile(h.MarkerPath())
	if err != nil {
		return nil, err
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse marker: %w", err)
	}
	return &m, nil
}

func (h *Handle) writeMarker() error {
	data, err := json.Marshal(Marker{BaselineID: h.baseline.ID, WrittenAt: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	if err := os.WriteFile(h.MarkerPath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write marker: %w", err)
	}
	return nil
}

// wipe removes the database file and its side files.
func (h *Handle) wipe() error {
	base := h.DatabasePath()
	for _, suffix := range sideFiles {
		if err := os.Remove(base + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", base+suffix, err)
		}
	}
	return nil
}

// seed copies the baseline snapshot into place when no store exists.
func (h *Handle) seed() error {
	if h.baseline.SnapshotPath == "" {
		return nil
	}
	if _, err := os.Stat(h.DatabasePath()); err == nil {
		return nil
	}

	src, err := os.Open(h.baseline.SnapshotPath)
	if err != nil {
		return fmt.Errorf("failed to open baseline snapshot: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(h.dataDir, DatabaseFile+".seed-*")
	if err != nil {
		return fmt.Errorf("failed to create seed file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to copy baseline snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync seed file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close seed file: %w", err)
	}
	if err := os.Rename(tmpPath, h.DatabasePath()); err != nil {
		return fmt.Errorf("failed to install baseline snapshot: %w", err)
	}

	logging.Info("Seeded local store from baseline", map[string]interface{}{
		"baseline": h.baseline.ID,
		"snapshot": h.baseline.SnapshotPath,
	})
	return nil
}

// Close checkpoints and closes the store. A later Acquire reopens it.
func (h *Handle) Close() error {
	h.mu.Lock()
	db := h.db
	h.db = nil
	h.mu.Unlock()

	if db == nil {
		return nil
	}
	return db.Close()
}

// Reset closes the store, wipes it and acquires a fresh one.
func (h *Handle) Reset(ctx context.Context) (*DB, error) {
	if err := h.Close(); err != nil {
		return nil, err
	}
	if err := h.wipe(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStoreOpen, "failed to wipe store", err)
	}
	return h.Acquire(ctx)
}
