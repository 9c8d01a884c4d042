// Package scheduler triggers sync passes in the background: periodically
// while online, immediately on the offline-to-online edge, and when the
// application returns to the foreground.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/hearthkeep/hearthkeep/internal/logging"
)

// Runner is the sync processor entry point the scheduler drives. RunOnce
// serializes itself, so overlapping triggers are harmless.
type Runner interface {
	RunOnce(ctx context.Context) error
}

// Waker exposes the connectivity edge signal.
type Waker interface {
	Online() bool
	Wake() <-chan struct{}
}

// Config holds scheduler configuration.
type Config struct {
	SyncInterval time.Duration // periodic pass cadence while online
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{SyncInterval: 15 * time.Minute}
}

// Scheduler owns the background trigger loop.
type Scheduler struct {
	runner       Runner
	net          Waker
	syncInterval time.Duration

	foregroundCh chan struct{}
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup

	mu        sync.Mutex
	isRunning bool
}

// New creates a Scheduler.
func New(runner Runner, net Waker, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	interval := config.SyncInterval
	if interval <= 0 {
		interval = DefaultConfig().SyncInterval
	}
	return &Scheduler{
		runner:       runner,
		net:          net,
		syncInterval: interval,
		foregroundCh: make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
	}
}

// Start launches the trigger loop. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)
	logging.Info("sync scheduler started", map[string]interface{}{
		"interval": s.syncInterval.String(),
	})
}

// Stop shuts the loop down and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	logging.Info("sync scheduler stopped")
}

// NotifyForeground requests an immediate pass, as when the application
// returns to the foreground. Requests coalesce.
func (s *Scheduler) NotifyForeground() {
	select {
	case s.foregroundCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()
	wake := s.net.Wake()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-wake:
			s.runPass(ctx, "online")
		case <-s.foregroundCh:
			s.runPass(ctx, "foreground")
		case <-ticker.C:
			s.runPass(ctx, "periodic")
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context, trigger string) {
	if !s.net.Online() {
		return
	}
	logging.Debug("sync pass triggered", map[string]interface{}{"trigger": trigger})
	if err := s.runner.RunOnce(ctx); err != nil {
		logging.Error("sync pass failed", err, map[string]interface{}{"trigger": trigger})
	}
}
