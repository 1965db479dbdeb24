package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/evercore/backend/internal/domain/shared"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisQueueConfig holds configuration for the Redis command queue
type RedisQueueConfig struct {
	// QueueKey is the list holding commands awaiting delivery
	QueueKey string

	// ProcessingKey is the list holding in-flight commands; entries
	// are removed on ack, so a crashed consumer leaves its work here
	ProcessingKey string

	// PopTimeout bounds each blocking pop so the loop can observe
	// shutdown
	PopTimeout time.Duration

	// ReclaimInterval is how often stalled in-flight commands are
	// pushed back to the queue
	ReclaimInterval time.Duration
}

// DefaultRedisQueueConfig returns default configuration
func DefaultRedisQueueConfig() RedisQueueConfig {
	return RedisQueueConfig{
		QueueKey:        "commands:queue",
		ProcessingKey:   "commands:processing",
		PopTimeout:      2 * time.Second,
		ReclaimInterval: 1 * time.Minute,
	}
}

// RedisCommandQueue is a Redis-list command transport. Enqueue pushes a
// JSON-encoded command; the consumer moves entries to a processing list
// and removes them only after the handler succeeds, so delivery is at
// least once across consumer crashes.
type RedisCommandQueue struct {
	client *redis.Client
	config RedisQueueConfig
	logger *zap.Logger

	handler shared.CommandHandler
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewRedisCommandQueue creates a Redis-backed command queue
func NewRedisCommandQueue(client *redis.Client, config RedisQueueConfig, logger *zap.Logger) *RedisCommandQueue {
	return &RedisCommandQueue{
		client: client,
		config: config,
		logger: logger,
	}
}

// Enqueue pushes a command onto the queue and returns its command ID
func (q *RedisCommandQueue) Enqueue(ctx context.Context, cmd *shared.QueuedCommand) (string, error) {
	if cmd.EnqueuedAt.IsZero() {
		cmd.EnqueuedAt = time.Now()
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("failed to marshal command: %w", err)
	}

	if err := q.client.LPush(ctx, q.config.QueueKey, data).Err(); err != nil {
		return "", fmt.Errorf("failed to enqueue command: %w", err)
	}

	q.logger.Debug("command enqueued",
		zap.String("command_id", cmd.CommandID),
		zap.String("command_type", cmd.CommandType),
	)
	return cmd.CommandID, nil
}

// Start begins consuming commands until Stop
func (q *RedisCommandQueue) Start(ctx context.Context, handler shared.CommandHandler) error {
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

	q.wg.Add(1)
	go q.reclaimLoop(ctx)

	q.logger.Info("redis command consumer started",
		zap.String("queue_key", q.config.QueueKey),
	)
	return nil
}

// Stop drains the consumer loop gracefully
func (q *RedisCommandQueue) Stop(ctx context.Context) error {
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
		q.logger.Info("redis command consumer stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *RedisCommandQueue) consumeLoop(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := q.client.BLMove(ctx, q.config.QueueKey, q.config.ProcessingKey,
			"RIGHT", "LEFT", q.config.PopTimeout).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			q.logger.Error("failed to pop command", zap.Error(err))
			continue
		}

		q.deliver(ctx, raw)
	}
}

// deliver invokes the handler and acks the entry on success. Failures
// leave the entry on the processing list for the reclaim loop.
func (q *RedisCommandQueue) deliver(ctx context.Context, raw string) {
	var cmd shared.QueuedCommand
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		// An unparseable entry would loop forever; drop it loudly
		q.logger.Error("dropping malformed command", zap.Error(err))
		q.ack(ctx, raw)
		return
	}

	if err := q.handler(ctx, &cmd); err != nil {
		q.logger.Error("command handler failed, leaving for redelivery",
			zap.String("command_id", cmd.CommandID),
			zap.String("command_type", cmd.CommandType),
			zap.Error(err),
		)
		return
	}

	q.ack(ctx, raw)
	q.logger.Debug("command delivered",
		zap.String("command_id", cmd.CommandID),
		zap.String("command_type", cmd.CommandType),
	)
}

func (q *RedisCommandQueue) ack(ctx context.Context, raw string) {
	if err := q.client.LRem(ctx, q.config.ProcessingKey, 1, raw).Err(); err != nil {
		q.logger.Error("failed to ack command", zap.Error(err))
	}
}

// reclaimLoop periodically moves in-flight commands back to the queue.
// Entries only linger on the processing list after a handler failure or
// a consumer crash, so requeueing them is the redelivery path.
func (q *RedisCommandQueue) reclaimLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.reclaim(ctx)
		}
	}
}

func (q *RedisCommandQueue) reclaim(ctx context.Context) {
	reclaimed := 0
	for {
		_, err := q.client.LMove(ctx, q.config.ProcessingKey, q.config.QueueKey,
			"RIGHT", "LEFT").Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				q.logger.Error("failed to reclaim in-flight commands", zap.Error(err))
			}
			break
		}
		reclaimed++
	}

	if reclaimed > 0 {
		q.logger.Info("requeued in-flight commands", zap.Int("count", reclaimed))
	}
}

var (
	_ shared.CommandQueue    = (*RedisCommandQueue)(nil)
	_ shared.CommandConsumer = (*RedisCommandQueue)(nil)
)
