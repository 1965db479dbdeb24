package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/evercore/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeIdempotencyStore struct {
	seen map[string]bool
	err  error
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{seen: make(map[string]bool)}
}

func (s *fakeIdempotencyStore) MarkSeen(_ context.Context, key string, _ time.Duration) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

func (s *fakeIdempotencyStore) IsSeen(_ context.Context, key string) (bool, error) {
	return s.seen[key], s.err
}

func (s *fakeIdempotencyStore) Close() error { return nil }

func queuedCommand(commandID string) *shared.QueuedCommand {
	return &shared.QueuedCommand{
		CommandID:     commandID,
		CommandType:   "ordering.confirm_reservation_line",
		TargetContext: "ordering",
		Payload:       []byte(`{}`),
	}
}

func TestIdempotentHandlerDropsDuplicateDelivery(t *testing.T) {
	var calls int
	metrics := &DeliveryMetrics{}
	handler := NewIdempotentHandler(
		func(context.Context, *shared.QueuedCommand) error {
			calls++
			return nil
		},
		newFakeIdempotencyStore(),
		zap.NewNop(),
		WithDeliveryMetrics(metrics),
	)
	ctx := context.Background()

	require.NoError(t, handler(ctx, queuedCommand("cmd-1")))
	require.NoError(t, handler(ctx, queuedCommand("cmd-1")))
	require.NoError(t, handler(ctx, queuedCommand("cmd-2")))

	assert.Equal(t, 2, calls)
	stats := metrics.Stats()
	assert.Equal(t, int64(2), stats.CommandsProcessed)
	assert.Equal(t, int64(1), stats.CommandsDuplicate)
}

func TestIdempotentHandlerProcessesOnCacheFailure(t *testing.T) {
	store := newFakeIdempotencyStore()
	store.err = errors.New("redis down")

	var calls int
	handler := NewIdempotentHandler(
		func(context.Context, *shared.QueuedCommand) error {
			calls++
			return nil
		},
		store,
		zap.NewNop(),
	)

	// A broken cache must never drop commands
	require.NoError(t, handler(context.Background(), queuedCommand("cmd-1")))
	require.NoError(t, handler(context.Background(), queuedCommand("cmd-1")))
	assert.Equal(t, 2, calls)
}

func TestIdempotentHandlerPropagatesHandlerError(t *testing.T) {
	metrics := &DeliveryMetrics{}
	boom := errors.New("handler failed")
	handler := NewIdempotentHandler(
		func(context.Context, *shared.QueuedCommand) error { return boom },
		newFakeIdempotencyStore(),
		zap.NewNop(),
		WithDeliveryMetrics(metrics),
	)

	err := handler(context.Background(), queuedCommand("cmd-1"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), metrics.Stats().CommandsFailed)
}

func TestIdempotentHandlerDisabledConfig(t *testing.T) {
	store := newFakeIdempotencyStore()
	var calls int
	handler := NewIdempotentHandler(
		func(context.Context, *shared.QueuedCommand) error {
			calls++
			return nil
		},
		store,
		zap.NewNop(),
		WithIdempotencyConfig(shared.IdempotencyConfig{Enabled: false}),
	)

	require.NoError(t, handler(context.Background(), queuedCommand("cmd-1")))
	require.NoError(t, handler(context.Background(), queuedCommand("cmd-1")))
	assert.Equal(t, 2, calls)
	assert.Empty(t, store.seen)
}
