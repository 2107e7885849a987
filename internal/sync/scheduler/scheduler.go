// Package scheduler arms the sync dispatcher: it drains at start, on every
// transition to online, and on a backoff timer after drains with failures.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/tourly/backend/internal/errors"
	"github.com/kimhsiao/tourly/backend/internal/logging"
	syncpkg "github.com/kimhsiao/tourly/backend/internal/sync"
	"github.com/kimhsiao/tourly/backend/internal/sync/netstate"
	"github.com/kimhsiao/tourly/backend/internal/sync/queue"
)

// Drainer runs one drain pass.
type Drainer interface {
	DrainOnce(ctx context.Context) (syncpkg.DrainResult, error)
}

// Scheduler manages background drains.
type Scheduler struct {
	drainer       Drainer
	monitor       *netstate.Monitor
	retryInterval time.Duration
	maxBackoff    time.Duration
	drainTimeout  time.Duration

	trigger     chan struct{}
	stopCh      chan struct{}
	wg          sync.WaitGroup
	unsubscribe func()

	mu            sync.RWMutex
	isRunning     bool
	isOnline      bool
	lastDrainTime time.Time
	failures      int
	nextRetryAt   time.Time
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	RetryInterval time.Duration // Base delay before re-draining after failures (default: 30 seconds)
	MaxBackoff    time.Duration // Cap on the re-drain delay (default: 30 minutes)
	DrainTimeout  time.Duration // Upper bound on one drain (default: 2 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		RetryInterval: 30 * time.Second,
		MaxBackoff:    30 * time.Minute,
		DrainTimeout:  2 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler. A nil monitor means always online.
func NewScheduler(drainer Drainer, monitor *netstate.Monitor, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	online := true
	if monitor != nil {
		online = monitor.Online()
	}

	return &Scheduler{
		drainer:       drainer,
		monitor:       monitor,
		retryInterval: config.RetryInterval,
		maxBackoff:    config.MaxBackoff,
		drainTimeout:  config.DrainTimeout,
		trigger:       make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		isOnline:      online,
	}
}

// Start starts the background loop and requests the startup drain.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	if s.monitor != nil {
		s.unsubscribe = s.monitor.Subscribe(s.SetOnlineStatus)
	}

	s.wg.Add(1)
	go s.loop(ctx)

	s.TriggerSync()
	logging.Info("Background sync scheduler started", nil)
}

// Stop stops the scheduler gracefully. An in-flight drain finishes first.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	// Signal stop to the loop
	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// SetOnlineStatus changes the online status of the scheduler. Going online
// requests a drain.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}
	logging.Info("Online status changed",
		map[string]interface{}{
			"was_online": wasOnline,
			"is_online":  isOnline,
		})
	if isOnline {
		s.TriggerSync()
	}
}

// TriggerSync requests a drain. Requests made while one is pending
// coalesce; it returns false in that case.
func (s *Scheduler) TriggerSync() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// SyncNow runs a drain on the caller's goroutine.
func (s *Scheduler) SyncNow(ctx context.Context) (syncpkg.DrainResult, error) {
	return s.runDrain(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	var retry *time.Timer
	var retryC <-chan time.Time
	defer func() {
		if retry != nil {
			retry.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.trigger:
		case <-retryC:
			retryC = nil
		}

		if !s.IsOnline() {
			logging.Debug("Skipping drain - scheduler is offline", nil)
			continue
		}

		result, err := s.runDrain(ctx)
		if result.Skipped {
			continue
		}

		if delay, ok := s.afterDrain(result, err); ok {
			if retry == nil {
				retry = time.NewTimer(delay)
			} else {
				retry.Stop()
				retry.Reset(delay)
			}
			retryC = retry.C
		} else if retryC != nil {
			retry.Stop()
			retryC = nil
		}

		if err == nil && result.More {
			s.TriggerSync()
		}
	}
}

// runDrain executes one drain with a timeout.
func (s *Scheduler) runDrain(ctx context.Context) (syncpkg.DrainResult, error) {
	drainCtx, cancel := context.WithTimeout(ctx, s.drainTimeout)
	defer cancel()

	result, err := s.drainer.DrainOnce(drainCtx)
	if err != nil {
		logging.ErrorWithCode("Sync drain failed", string(errors.CodeOf(err)), err, nil)
	}
	if !result.Skipped {
		s.mu.Lock()
		s.lastDrainTime = time.Now()
		s.mu.Unlock()
	}
	return result, err
}

// afterDrain updates the failure streak and returns the re-drain delay when
// one is needed.
func (s *Scheduler) afterDrain(result syncpkg.DrainResult, err error) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil && result.Retried == 0 && result.Errors == 0 {
		s.failures = 0
		s.nextRetryAt = time.Time{}
		return 0, false
	}
	// Unconfigured remotes never recover by waiting.
	if errors.Is(err, errors.ErrSyncNotConfigured) {
		return 0, false
	}

	delay := queue.Backoff(s.failures, s.retryInterval, s.maxBackoff)
	s.failures++
	s.nextRetryAt = time.Now().Add(delay)

	logging.Info("Re-drain scheduled", map[string]interface{}{
		"delay_seconds": delay.Seconds(),
		"failures":      s.failures,
	})
	return delay, true
}

// SchedulerStatus is the current status of the scheduler.
type SchedulerStatus struct {
	IsRunning     bool       `json:"is_running"`
	IsOnline      bool       `json:"is_online"`
	LastDrainTime *time.Time `json:"last_drain_time,omitempty"`
	Failures      int        `json:"consecutive_failures"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning: s.isRunning,
		IsOnline:  s.isOnline,
		Failures:  s.failures,
	}
	if !s.lastDrainTime.IsZero() {
		t := s.lastDrainTime
		status.LastDrainTime = &t
	}
	if !s.nextRetryAt.IsZero() {
		t := s.nextRetryAt
		status.NextRetryAt = &t
	}
	return status
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
