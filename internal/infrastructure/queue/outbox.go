package queue

import (
	"context"

	"github.com/evercore/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// OutboxCommandQueue implements shared.CommandQueue on top of the
// command outbox table. Enqueue only writes a row; delivery is the
// processor's job. Callers that emit commands alongside a state change
// should enqueue through a repository bound to the same transaction.
type OutboxCommandQueue struct {
	repo   shared.CommandOutboxRepository
	logger *zap.Logger
}

// NewOutboxCommandQueue creates a queue backed by the command outbox
func NewOutboxCommandQueue(repo shared.CommandOutboxRepository, logger *zap.Logger) *OutboxCommandQueue {
	return &OutboxCommandQueue{
		repo:   repo,
		logger: logger,
	}
}

// Enqueue accepts a command for durable delivery and returns a handle
func (q *OutboxCommandQueue) Enqueue(ctx context.Context, cmd *shared.QueuedCommand) (string, error) {
	entry := shared.NewCommandOutboxEntry(cmd)
	if err := q.repo.Save(ctx, entry); err != nil {
		return "", err
	}

	q.logger.Debug("command enqueued",
		zap.String("command_id", cmd.CommandID),
		zap.String("command_type", cmd.CommandType),
		zap.String("partition_key", cmd.PartitionKey),
	)
	return entry.ID.String(), nil
}

// Ensure OutboxCommandQueue implements CommandQueue
var _ shared.CommandQueue = (*OutboxCommandQueue)(nil)
