package procman

import (
	"context"
	"sync"
	"time"

	"github.com/evercore/backend/internal/application/eventstore"
	"github.com/evercore/backend/internal/domain/shared"
	"github.com/evercore/backend/internal/infrastructure/event"
	"go.uber.org/zap"
)

// DispatcherConfig holds configuration for the event dispatcher
type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int

	// StartFromLatest skips the backlog on first start. Instance
	// checkpoints make replaying the backlog safe, just slow.
	StartFromLatest bool
}

// DefaultDispatcherConfig returns default configuration
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		PollInterval: 1 * time.Second,
		BatchSize:    200,
	}
}

// Dispatcher is a catch-up subscription over the global event log: it
// polls for events past its cursor and fans each one out to every
// registered process manager that subscribes to its event type.
// Delivery is at-least-once; the per-instance checkpoint inside the
// executor is what makes effects exactly-once.
type Dispatcher struct {
	store    shared.EventStore
	codec    *event.PayloadCodec
	executor *Executor
	config   DispatcherConfig
	logger   *zap.Logger

	position int64
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewDispatcher creates an event dispatcher over the executor
func NewDispatcher(
	store shared.EventStore,
	codec *event.PayloadCodec,
	executor *Executor,
	config DispatcherConfig,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:    store,
		codec:    codec,
		executor: executor,
		config:   config,
		logger:   logger,
	}
}

// Start begins the polling loop
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		return nil
	}

	if d.config.StartFromLatest {
		pos, err := d.store.GetGlobalPosition(ctx)
		if err != nil {
			return err
		}
		d.position = pos
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go d.pollLoop(ctx)

	d.logger.Info("event dispatcher started",
		zap.Int64("from_position", d.position),
		zap.Duration("poll_interval", d.config.PollInterval),
	)
	return nil
}

// Stop drains the polling loop gracefully
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("event dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) pollLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// poll drains one batch past the cursor. The cursor only advances past
// an event after every subscriber disposed of it, so a crash replays
// the tail instead of skipping it.
func (d *Dispatcher) poll(ctx context.Context) {
	filter := d.subscriptionFilter()
	if filter == nil {
		return
	}

	records, err := d.store.ReadFromPosition(ctx, d.position, d.config.BatchSize, filter)
	if err != nil {
		d.logger.Error("failed to read events", zap.Error(err))
		return
	}

	for _, rec := range records {
		payload, err := d.codec.DecodeRecord(rec)
		if err != nil {
			// An undecodable event blocks the cursor; skipping it would
			// silently lose a delivery
			d.logger.Error("failed to decode event, halting dispatch",
				zap.String("event_id", rec.EventID.String()),
				zap.String("event_type", rec.EventType),
				zap.Error(err),
			)
			return
		}
		decoded := &eventstore.DecodedEvent{Record: rec, Payload: payload}

		for _, def := range d.executor.Definitions() {
			if !subscribes(def, rec.EventType) {
				continue
			}
			if _, err := d.executor.ProcessEvent(ctx, def, decoded); err != nil {
				d.logger.Error("failed to dispatch event",
					zap.String("process_manager", def.Name),
					zap.String("event_id", rec.EventID.String()),
					zap.Error(err),
				)
				return
			}
		}

		d.position = rec.GlobalPosition
	}
}

// subscriptionFilter narrows the read to the union of subscribed event
// types; nil means nothing is registered yet
func (d *Dispatcher) subscriptionFilter() *shared.ReadFilter {
	defs := d.executor.Definitions()
	if len(defs) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var types []string
	for _, def := range defs {
		for _, t := range def.EventTypes {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			types = append(types, t)
		}
	}
	return &shared.ReadFilter{EventTypes: types}
}

func subscribes(def *Definition, eventType string) bool {
	for _, t := range def.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}
