package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SweepTask is one periodic cleanup job: expire command records past
// their dedupe window, prune delivered outbox entries, and the like.
// Sweep returns how many rows it removed.
type SweepTask interface {
	Name() string
	Sweep(ctx context.Context) (int64, error)
}

// SweepFunc adapts a function to SweepTask
type SweepFunc struct {
	TaskName string
	Fn       func(ctx context.Context) (int64, error)
}

// Name returns the task name
func (f SweepFunc) Name() string { return f.TaskName }

// Sweep runs the task
func (f SweepFunc) Sweep(ctx context.Context) (int64, error) { return f.Fn(ctx) }

// SweeperConfig holds configuration for the sweeper
type SweeperConfig struct {
	Interval time.Duration
}

// DefaultSweeperConfig returns default sweeper configuration
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval: time.Hour,
	}
}

// Sweeper runs registered cleanup tasks on a fixed interval. Tasks are
// independent; one failing does not stop the others.
type Sweeper struct {
	config SweeperConfig
	tasks  []SweepTask
	logger *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewSweeper creates a sweeper over the given tasks
func NewSweeper(config SweeperConfig, logger *zap.Logger, tasks ...SweepTask) *Sweeper {
	return &Sweeper{
		config: config,
		tasks:  tasks,
		logger: logger,
	}
}

// Start starts the sweep loop
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.runLoop(ctx)

	s.logger.Info("sweeper started",
		zap.Duration("interval", s.config.Interval),
		zap.Int("tasks", len(s.tasks)),
	)
	return nil
}

// Stop stops the sweep loop gracefully
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) runLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes every registered task a single time
func (s *Sweeper) RunOnce(ctx context.Context) {
	for _, task := range s.tasks {
		removed, err := task.Sweep(ctx)
		if err != nil {
			s.logger.Error("sweep task failed",
				zap.String("task", task.Name()),
				zap.Error(err),
			)
			continue
		}
		if removed > 0 {
			s.logger.Info("sweep task completed",
				zap.String("task", task.Name()),
				zap.Int64("removed", removed),
			)
		}
	}
}
