package shared

import (
	"context"
	"time"
)

// QueuedCommand is a command in flight between a process manager and
// the handler that will resolve it against the event store. Commands
// must be idempotent: delivery is at least once.
type QueuedCommand struct {
	CommandID     string    `json:"command_id"`
	CommandType   string    `json:"command_type"`
	TargetContext string    `json:"target_context"`
	Payload       []byte    `json:"payload"`
	CorrelationID string    `json:"correlation_id"`
	CausationID   string    `json:"causation_id,omitempty"`
	PartitionKey  string    `json:"partition_key,omitempty"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// CommandQueue is the command-emission interface supplied to the
// process-manager executor. Implementations provide at-least-once
// delivery; PartitionKey carries the per-instance ordering hint for
// partitioned transports.
type CommandQueue interface {
	// Enqueue accepts a command for delivery and returns a handle
	Enqueue(ctx context.Context, cmd *QueuedCommand) (string, error)
}

// CommandHandler consumes delivered commands. Returning an error
// requeues the command for redelivery.
type CommandHandler func(ctx context.Context, cmd *QueuedCommand) error

// CommandConsumer drives a worker loop over a queue's deliveries
type CommandConsumer interface {
	// Start begins delivering commands to the handler until Stop
	Start(ctx context.Context, handler CommandHandler) error

	// Stop drains the worker loop gracefully
	Stop(ctx context.Context) error
}
