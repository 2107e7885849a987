// Package core wires the local store, migrations, sync queue, dispatcher
// and domain services into one application object.
package core

import (
	"context"
	"sync"

	"github.com/kimhsiao/tourly/backend/internal/config"
	"github.com/kimhsiao/tourly/backend/internal/db"
	"github.com/kimhsiao/tourly/backend/internal/errors"
	"github.com/kimhsiao/tourly/backend/internal/itinerary"
	"github.com/kimhsiao/tourly/backend/internal/logging"
	"github.com/kimhsiao/tourly/backend/internal/services"
	tsync "github.com/kimhsiao/tourly/backend/internal/sync"
	"github.com/kimhsiao/tourly/backend/internal/sync/netstate"
	"github.com/kimhsiao/tourly/backend/internal/sync/queue"
	"github.com/kimhsiao/tourly/backend/internal/sync/remote"
	"github.com/kimhsiao/tourly/backend/internal/sync/scheduler"
)

// Core is the application. Its accessors return nil until InitDatabase
// has succeeded.
type Core struct {
	cfg     *config.Config
	remote  tsync.Remote
	monitor *netstate.Monitor

	mu          sync.Mutex
	initialized bool
	closed      bool
	cancel      context.CancelFunc

	handle      *db.Handle
	store       *db.DB
	report      *db.MigrationReport
	queue       *queue.Queue
	attractions *services.AttractionService
	reviews     *services.ReviewService
	itineraries *itinerary.Engine
	dispatcher  *tsync.Dispatcher
	scheduler   *scheduler.Scheduler
}

// Status is a snapshot of the core for diagnostics.
type Status struct {
	DatabasePath  string                     `json:"database_path"`
	SchemaVersion int                        `json:"schema_version"`
	Migrations    *db.MigrationReport        `json:"migrations,omitempty"`
	Queue         queue.Stats                `json:"queue"`
	Online        bool                       `json:"online"`
	SyncEnabled   bool                       `json:"sync_enabled"`
	Dispatcher    tsync.Status               `json:"dispatcher"`
	Scheduler     *scheduler.SchedulerStatus `json:"scheduler,omitempty"`
}

// RemoteFromConfig builds the remote client, or returns nil when no endpoint
// is configured.
func RemoteFromConfig(rc config.RemoteConfig) tsync.Remote {
	if !rc.Enabled() {
		return nil
	}
	return remote.New(remote.Config{
		BaseURL: rc.BaseURL,
		APIKey:  rc.APIKey,
		Token:   remote.StaticToken(rc.AccessToken),
		Timeout: rc.Timeout,
	})
}

// New creates a Core. A nil remote keeps every write local; a nil monitor
// is replaced by one seeded from the network config.
func New(cfg *config.Config, r tsync.Remote, monitor *netstate.Monitor) *Core {
	if cfg == nil {
		cfg = config.Default()
	}
	if monitor == nil {
		monitor = netstate.NewMonitor(cfg.Network.AssumeOnline)
	}
	return &Core{cfg: cfg, remote: r, monitor: monitor}
}

// InitDatabase acquires the store, migrates it and arms background sync.
// It succeeds at most once; later calls fail. A failed call may be retried.
func (c *Core) InitDatabase(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New(errors.ErrInternal, "core is closed")
	}
	if c.initialized {
		return errors.New(errors.ErrInternal, "database already initialized")
	}

	handle := db.NewHandle(c.cfg.DataDir, db.Baseline{
		ID:           c.cfg.Baseline.ID,
		SnapshotPath: c.cfg.Baseline.SnapshotPath,
	})
	var report *db.MigrationReport
	store, err := handle.AcquirePrepared(ctx, func(ctx context.Context, store *db.DB) error {
		var err error
		report, err = db.NewMigrator(store, db.Migrations()).Up(ctx)
		return err
	})
	if err != nil {
		return err
	}

	c.handle = handle
	c.wire(store, report)
	c.initialized = true
	logging.Info("Database initialized", map[string]interface{}{
		"path":     store.Path(),
		"applied":  len(report.Applied),
		"skipped":  len(report.Skipped),
		"drifted":  len(report.Drifted),
		"baseline": c.cfg.Baseline.ID,
	})
	return nil
}

// wire builds the services over store and starts the scheduler when a
// remote is configured. Callers hold c.mu.
func (c *Core) wire(store *db.DB, report *db.MigrationReport) {
	q := queue.New(store)
	c.store = store
	c.report = report
	c.queue = q
	c.reviews = services.NewReviewService(store, q)
	c.itineraries = itinerary.NewEngine(store, q)
	c.dispatcher = tsync.NewDispatcher(q, c.remote, c.cfg.Sync.BatchSize)

	var source tsync.AttractionSource
	if s, ok := c.remote.(tsync.AttractionSource); ok {
		source = s
	}
	c.attractions = services.NewAttractionService(store, source)

	if c.remote == nil {
		logging.Info("No remote configured; changes stay queued locally", nil)
		return
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.scheduler = scheduler.NewScheduler(c.dispatcher, c.monitor, &scheduler.SchedulerConfig{
		RetryInterval: c.cfg.Sync.RetryInterval,
		MaxBackoff:    c.cfg.Sync.MaxBackoff,
		DrainTimeout:  c.cfg.Sync.DrainTimeout,
	})
	c.scheduler.Start(runCtx)
}

// unwire stops background sync and forgets the services. Callers hold c.mu.
func (c *Core) unwire() {
	if c.scheduler != nil {
		c.scheduler.Stop()
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.scheduler, c.cancel = nil, nil
	c.store, c.report, c.queue = nil, nil, nil
	c.reviews, c.itineraries, c.attractions, c.dispatcher = nil, nil, nil, nil
}

// ResetDatabase wipes the local store, queued changes included, and brings
// a fresh one up to the latest schema. If it fails the core is left
// uninitialized and InitDatabase may be called again.
func (c *Core) ResetDatabase(ctx context.Context) (*db.MigrationReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.initialized {
		return nil, errors.New(errors.ErrInternal, "database not initialized")
	}

	c.unwire()
	store, err := c.handle.Reset(ctx)
	if err == nil {
		var report *db.MigrationReport
		report, err = db.NewMigrator(store, db.Migrations()).Up(ctx)
		if err == nil {
			c.wire(store, report)
			logging.Warn("Local store reset", map[string]interface{}{"path": store.Path()})
			return report, nil
		}
	}

	c.handle.Close()
	c.handle = nil
	c.initialized = false
	return nil, err
}

// Attractions returns the attraction service.
func (c *Core) Attractions() *services.AttractionService {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attractions
}

// Reviews returns the review service.
func (c *Core) Reviews() *services.ReviewService {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reviews
}

// Itineraries returns the itinerary engine.
func (c *Core) Itineraries() *itinerary.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.itineraries
}

// Queue returns the sync queue.
func (c *Core) Queue() *queue.Queue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue
}

// Monitor returns the reachability monitor.
func (c *Core) Monitor() *netstate.Monitor { return c.monitor }

// DrainNow runs one drain on the caller's goroutine.
func (c *Core) DrainNow(ctx context.Context) (tsync.DrainResult, error) {
	c.mu.Lock()
	dispatcher := c.dispatcher
	c.mu.Unlock()

	if dispatcher == nil {
		return tsync.DrainResult{}, errors.New(errors.ErrInternal, "database not initialized")
	}
	return dispatcher.DrainOnce(ctx)
}

// SetOnline reports reachability. Going online arms a drain.
func (c *Core) SetOnline(online bool) {
	c.monitor.Set(online)
}

// Status returns a diagnostic snapshot.
func (c *Core) Status(ctx context.Context) (*Status, error) {
	c.mu.Lock()
	store, report, q := c.store, c.report, c.queue
	dispatcher, sched := c.dispatcher, c.scheduler
	c.mu.Unlock()

	if store == nil {
		return nil, errors.New(errors.ErrInternal, "database not initialized")
	}

	version, err := db.NewMigrator(store, nil).CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := q.Stats(ctx)
	if err != nil {
		return nil, err
	}

	status := &Status{
		DatabasePath:  store.Path(),
		SchemaVersion: version,
		Migrations:    report,
		Queue:         stats,
		Online:        c.monitor.Online(),
		SyncEnabled:   c.remote != nil,
		Dispatcher:    dispatcher.Status(),
	}
	if sched != nil {
		s := sched.GetStatus()
		status.Scheduler = &s
	}
	return status, nil
}

// Close stops background sync and closes the store. It is safe to call
// more than once.
func (c *Core) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.unwire()
	if c.handle != nil {
		return c.handle.Close()
	}
	return nil
}
