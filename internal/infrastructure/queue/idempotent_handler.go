package queue

import (
	"context"
	"sync/atomic"

	"github.com/evercore/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// DeliveryMetrics tracks delivery-side idempotency statistics
type DeliveryMetrics struct {
	// CommandsProcessed is the total number of commands processed (first time)
	CommandsProcessed atomic.Int64

	// CommandsDuplicate is the total number of duplicate deliveries detected
	CommandsDuplicate atomic.Int64

	// CommandsFailed is the total number of commands that failed to process
	CommandsFailed atomic.Int64
}

// Stats returns a snapshot of the current metrics
func (m *DeliveryMetrics) Stats() DeliveryStats {
	return DeliveryStats{
		CommandsProcessed: m.CommandsProcessed.Load(),
		CommandsDuplicate: m.CommandsDuplicate.Load(),
		CommandsFailed:    m.CommandsFailed.Load(),
	}
}

// DeliveryStats is a snapshot of delivery metrics
type DeliveryStats struct {
	CommandsProcessed int64 `json:"commands_processed"`
	CommandsDuplicate int64 `json:"commands_duplicate"`
	CommandsFailed    int64 `json:"commands_failed"`
}

// IdempotentHandlerOption is a functional option for the wrapper
type IdempotentHandlerOption func(*idempotentHandler)

// WithIdempotencyConfig sets the dedupe cache configuration
func WithIdempotencyConfig(config shared.IdempotencyConfig) IdempotentHandlerOption {
	return func(h *idempotentHandler) {
		h.config = config
	}
}

// WithDeliveryMetrics sets the metrics collector
func WithDeliveryMetrics(metrics *DeliveryMetrics) IdempotentHandlerOption {
	return func(h *idempotentHandler) {
		h.metrics = metrics
	}
}

type idempotentHandler struct {
	handler shared.CommandHandler
	store   shared.IdempotencyStore
	config  shared.IdempotencyConfig
	logger  *zap.Logger
	metrics *DeliveryMetrics
}

// NewIdempotentHandler wraps a command handler with delivery dedup.
// At-least-once transports redeliver; the wrapper drops deliveries
// whose command ID was already seen within the TTL. The cache is a
// fast path only: the command ledger behind the handler still rejects
// duplicates that slip past the cache.
func NewIdempotentHandler(
	handler shared.CommandHandler,
	store shared.IdempotencyStore,
	logger *zap.Logger,
	opts ...IdempotentHandlerOption,
) shared.CommandHandler {
	h := &idempotentHandler{
		handler: handler,
		store:   store,
		config:  shared.DefaultIdempotencyConfig(),
		logger:  logger,
		metrics: &DeliveryMetrics{},
	}

	for _, opt := range opts {
		opt(h)
	}

	return h.handle
}

func (h *idempotentHandler) handle(ctx context.Context, cmd *shared.QueuedCommand) error {
	if !h.config.Enabled {
		return h.handler(ctx, cmd)
	}

	isNew, err := h.store.MarkSeen(ctx, cmd.CommandID, h.config.TTL)
	if err != nil {
		// Better to risk a duplicate delivery than to drop a command;
		// the ledger is the durable backstop
		h.logger.Warn("failed to check delivery dedup cache, processing anyway",
			zap.String("command_id", cmd.CommandID),
			zap.String("command_type", cmd.CommandType),
			zap.Error(err),
		)
	} else if !isNew {
		h.metrics.CommandsDuplicate.Add(1)
		h.logger.Debug("duplicate delivery detected, skipping",
			zap.String("command_id", cmd.CommandID),
			zap.String("command_type", cmd.CommandType),
		)
		return nil
	}

	if err := h.handler(ctx, cmd); err != nil {
		h.metrics.CommandsFailed.Add(1)
		h.logger.Error("command handler failed",
			zap.String("command_id", cmd.CommandID),
			zap.String("command_type", cmd.CommandType),
			zap.Error(err),
		)
		// The dedup key is kept on failure so rapid redeliveries back
		// off; the key expires after TTL allowing a cooled-down retry
		return err
	}

	h.metrics.CommandsProcessed.Add(1)
	return nil
}
