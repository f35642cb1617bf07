package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/metagame/sourcecred-sync/internal/config"
	"github.com/metagame/sourcecred-sync/internal/domain"
)

// Runner executes one reconciliation run
type Runner interface {
	Run(ctx context.Context, force bool) (domain.RunSummary, error)
}

// Scheduler triggers periodic update-only reconciliation runs; the
// same work a cron trigger would request over HTTP
type Scheduler struct {
	runner  Runner
	config  *config.SyncConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewScheduler creates a new run scheduler
func NewScheduler(runner Runner, cfg *config.SyncConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the background scheduling loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("run scheduler started", "interval", s.config.Interval)

	go s.run(ctx)
	return nil
}

// Stop stops the background scheduling loop
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("run scheduler stopped")
	return nil
}

// run is the main scheduling loop
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce executes a single update-only run; scheduled runs never
// force-insert
func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()
	summary, err := s.runner.Run(ctx, false)
	if err != nil {
		s.logger.Error("scheduled run failed", "error", err)
		return
	}

	s.logger.Info("scheduled run completed",
		"run_id", summary.RunID,
		"skipped", summary.NumSkipped,
		"updated", summary.NumWritten,
		"duration", time.Since(start),
	)
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
