package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/evercore/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// DefaultMemoryQueueBuffer is the channel capacity of the in-memory queue
const DefaultMemoryQueueBuffer = 1024

// MemoryCommandQueue is a process-local channel transport. Commands are
// lost on restart and on a full buffer, so it suits tests and
// single-process deployments where the outbox's durability is overkill.
type MemoryCommandQueue struct {
	commands chan *shared.QueuedCommand
	logger   *zap.Logger

	handler shared.CommandHandler
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewMemoryCommandQueue creates an in-memory command queue
func NewMemoryCommandQueue(buffer int, logger *zap.Logger) *MemoryCommandQueue {
	if buffer <= 0 {
		buffer = DefaultMemoryQueueBuffer
	}
	return &MemoryCommandQueue{
		commands: make(chan *shared.QueuedCommand, buffer),
		logger:   logger,
	}
}

// Enqueue hands a command to the consumer. A full buffer is an error,
// not a block: callers hold a database transaction while emitting.
func (q *MemoryCommandQueue) Enqueue(_ context.Context, cmd *shared.QueuedCommand) (string, error) {
	select {
	case q.commands <- cmd:
		return cmd.CommandID, nil
	default:
		return "", fmt.Errorf("command queue buffer full (%d)", cap(q.commands))
	}
}

// Start begins consuming commands until Stop
func (q *MemoryCommandQueue) Start(ctx context.Context, handler shared.CommandHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.handler = handler

	q.wg.Add(1)
	go q.consumeLoop(ctx)

	q.logger.Info("in-memory command consumer started", zap.Int("buffer", cap(q.commands)))
	return nil
}

// Stop drains the consumer loop gracefully
func (q *MemoryCommandQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryCommandQueue) consumeLoop(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-q.commands:
			if err := q.handler(ctx, cmd); err != nil {
				// No redelivery here; the durable transports own that
				q.logger.Error("command handler failed",
					zap.String("command_id", cmd.CommandID),
					zap.String("command_type", cmd.CommandType),
					zap.Error(err),
				)
			}
		}
	}
}

var (
	_ shared.CommandQueue    = (*MemoryCommandQueue)(nil)
	_ shared.CommandConsumer = (*MemoryCommandQueue)(nil)
)
