package queue

import (
	"context"
	"sync"
	"time"

	"github.com/evercore/backend/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OutboxProcessorConfig holds configuration for the outbox processor
type OutboxProcessorConfig struct {
	BatchSize        int
	PollInterval     time.Duration
	CleanupEnabled   bool
	CleanupRetention time.Duration
	CleanupInterval  time.Duration
}

// DefaultOutboxProcessorConfig returns default configuration
func DefaultOutboxProcessorConfig() OutboxProcessorConfig {
	return OutboxProcessorConfig{
		BatchSize:        100,
		PollInterval:     2 * time.Second,
		CleanupEnabled:   true,
		CleanupRetention: 7 * 24 * time.Hour, // 7 days
		CleanupInterval:  1 * time.Hour,
	}
}

// OutboxProcessor delivers outbox entries to a command handler in the
// background. Delivery is at least once: a crash after the handler runs
// but before MarkSent redelivers the command on the next poll, which is
// why handlers sit behind the idempotency wrapper.
type OutboxProcessor struct {
	repo   shared.CommandOutboxRepository
	config OutboxProcessorConfig
	logger *zap.Logger

	handler shared.CommandHandler
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewOutboxProcessor creates a new outbox processor
func NewOutboxProcessor(
	repo shared.CommandOutboxRepository,
	config OutboxProcessorConfig,
	logger *zap.Logger,
) *OutboxProcessor {
	return &OutboxProcessor{
		repo:   repo,
		config: config,
		logger: logger,
	}
}

// Start starts the background delivery loop
func (p *OutboxProcessor) Start(ctx context.Context, handler shared.CommandHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.handler = handler

	p.wg.Add(1)
	go p.processLoop(ctx)

	if p.config.CleanupEnabled {
		p.wg.Add(1)
		go p.cleanupLoop(ctx)
	}

	p.logger.Info("command outbox processor started",
		zap.Int("batch_size", p.config.BatchSize),
		zap.Duration("poll_interval", p.config.PollInterval),
	)

	return nil
}

// Stop gracefully stops the processor
func (p *OutboxProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("command outbox processor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// processLoop is the main delivery loop
func (p *OutboxProcessor) processLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.processBatch(ctx)
		}
	}
}

// processBatch delivers a batch of pending and retryable entries
func (p *OutboxProcessor) processBatch(ctx context.Context) {
	pending, err := p.repo.FindPending(ctx, p.config.BatchSize)
	if err != nil {
		p.logger.Error("failed to find pending commands", zap.Error(err))
		return
	}

	if len(pending) > 0 {
		p.processEntries(ctx, pending)
	}

	retryable, err := p.repo.FindRetryable(ctx, time.Now(), p.config.BatchSize)
	if err != nil {
		p.logger.Error("failed to find retryable commands", zap.Error(err))
		return
	}

	if len(retryable) > 0 {
		p.processEntries(ctx, retryable)
	}
}

// processEntries claims and delivers a slice of outbox entries
func (p *OutboxProcessor) processEntries(ctx context.Context, entries []*shared.CommandOutboxEntry) {
	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}

	// Atomically claim entries so concurrent processors never
	// deliver the same command in the same poll cycle
	claimed, err := p.repo.MarkProcessing(ctx, ids)
	if err != nil {
		p.logger.Error("failed to claim outbox entries", zap.Error(err))
		return
	}

	for _, entry := range claimed {
		p.processEntry(ctx, entry)
	}
}

// processEntry delivers a single outbox entry to the handler
func (p *OutboxProcessor) processEntry(ctx context.Context, entry *shared.CommandOutboxEntry) {
	if err := p.handler(ctx, entry.Command()); err != nil {
		p.logger.Error("command delivery failed",
			zap.String("command_id", entry.CommandID),
			zap.String("command_type", entry.CommandType),
			zap.Int("retry_count", entry.RetryCount),
			zap.Error(err),
		)
		entry.MarkFailed(err.Error())
		if entry.IsDead() {
			p.logger.Warn("command delivery abandoned",
				zap.String("command_id", entry.CommandID),
				zap.String("command_type", entry.CommandType),
				zap.String("target_context", entry.TargetContext),
				zap.Int("retry_count", entry.RetryCount),
				zap.String("last_error", entry.LastError),
			)
		}
		if updateErr := p.repo.Update(ctx, entry); updateErr != nil {
			p.logger.Error("failed to update outbox entry", zap.Error(updateErr))
		}
		return
	}

	entry.MarkSent()
	if err := p.repo.Update(ctx, entry); err != nil {
		p.logger.Error("failed to mark command as sent",
			zap.String("command_id", entry.CommandID),
			zap.Error(err),
		)
	} else {
		p.logger.Debug("command delivered",
			zap.String("command_id", entry.CommandID),
			zap.String("command_type", entry.CommandType),
		)
	}
}

// cleanupLoop periodically removes old delivered entries
func (p *OutboxProcessor) cleanupLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cleanup(ctx)
		}
	}
}

// cleanup removes sent entries past the retention window
func (p *OutboxProcessor) cleanup(ctx context.Context) {
	cutoff := time.Now().Add(-p.config.CleanupRetention)
	deleted, err := p.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		p.logger.Error("failed to clean up outbox entries", zap.Error(err))
		return
	}

	if deleted > 0 {
		p.logger.Info("cleaned up delivered outbox entries",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
}

// Ensure OutboxProcessor implements CommandConsumer
var _ shared.CommandConsumer = (*OutboxProcessor)(nil)
