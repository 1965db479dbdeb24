package procman

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/evercore/backend/internal/application/eventstore"
	"github.com/evercore/backend/internal/domain/shared"
	"github.com/evercore/backend/internal/infrastructure/event"
	"github.com/evercore/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InstanceResolver maps an event to the process-manager instance that
// must react to it. Returning "" falls back to the event's stream ID.
type InstanceResolver func(rec *shared.EventRecord) string

// HandlerResult is what a pure handler wants done. Commands are emitted
// through the queue after the handler returns; CustomState replaces the
// instance's opaque state when non-nil; Completed moves the instance to
// its terminal success state.
type HandlerResult struct {
	Commands    []*shared.QueuedCommand
	CustomState []byte
	Completed   bool
}

// HandlerFunc reacts to one event. Handlers must be pure beyond their
// return value: the executor may invoke them again for the same event
// after a crash, and discards everything when the checkpoint says the
// event was already processed.
type HandlerFunc func(state *shared.ProcessManagerState, ev *eventstore.DecodedEvent) (*HandlerResult, error)

// Definition declares one process manager: which events wake it, how an
// event maps to an instance, and the pure reaction.
type Definition struct {
	Name       string
	EventTypes []string
	Resolve    InstanceResolver
	Handle     HandlerFunc
}

// Outcome classifies how the executor disposed of one event
type Outcome string

const (
	OutcomeProcessed        Outcome = "processed"
	OutcomeAlreadyProcessed Outcome = "skipped_already_processed"
	OutcomeTerminalState    Outcome = "skipped_terminal_state"
	OutcomeDeadLettered     Outcome = "dead_lettered"
)

// ExecutionResult reports the disposition of one event delivery
type ExecutionResult struct {
	Outcome         Outcome
	InstanceID      string
	CommandsEmitted int
	DeadLetterID    uuid.UUID
}

// patchRetries bounds the reload-and-retry loop when two executors race
// on one instance's state version
const patchRetries = 3

// Executor drives process managers: it gates each event on the
// instance checkpoint and lifecycle status, runs the pure handler,
// emits the resulting commands, and converts every failure into a dead
// letter instead of letting it reach the transport.
type Executor struct {
	states      shared.ProcessManagerStateRepository
	deadLetters shared.DeadLetterRepository
	queue       shared.CommandQueue
	codec       *event.PayloadCodec
	logger      *zap.Logger
	metrics     *telemetry.ProcessingMetrics

	definitions map[string]*Definition
}

// ExecutorOption configures optional executor collaborators
type ExecutorOption func(*Executor)

// WithMetrics exports emit, failure and dead-letter counts plus
// handling latency per process manager
func WithMetrics(m *telemetry.ProcessingMetrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor creates a process-manager executor
func NewExecutor(
	states shared.ProcessManagerStateRepository,
	deadLetters shared.DeadLetterRepository,
	queue shared.CommandQueue,
	codec *event.PayloadCodec,
	logger *zap.Logger,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		states:      states,
		deadLetters: deadLetters,
		queue:       queue,
		codec:       codec,
		logger:      logger,
		definitions: make(map[string]*Definition),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a process-manager definition
func (e *Executor) Register(def *Definition) error {
	if def.Name == "" || def.Handle == nil {
		return fmt.Errorf("%w: definition needs a name and a handler", shared.ErrInvalidInput)
	}
	if _, exists := e.definitions[def.Name]; exists {
		return fmt.Errorf("%w: process manager %s", shared.ErrAlreadyExists, def.Name)
	}
	e.definitions[def.Name] = def
	return nil
}

// Definitions returns the registered definitions
func (e *Executor) Definitions() []*Definition {
	defs := make([]*Definition, 0, len(e.definitions))
	for _, d := range e.definitions {
		defs = append(defs, d)
	}
	return defs
}

// ProcessEvent delivers one event to one process manager.
//
// The protocol per event: resolve the instance, load or create its
// state, skip if the checkpoint already covers the event's global
// position, skip if the instance is terminal, transition idle
// instances to processing, run the handler, emit its commands, then
// advance the checkpoint in a version-guarded patch. A handler error
// or panic dead-letters the event and marks the instance failed
// without advancing the checkpoint, so an operator RETRY can replay
// it.
func (e *Executor) ProcessEvent(ctx context.Context, def *Definition, ev *eventstore.DecodedEvent) (*ExecutionResult, error) {
	rec := ev.Record

	instanceID := rec.StreamID
	if def.Resolve != nil {
		if resolved := def.Resolve(rec); resolved != "" {
			instanceID = resolved
		}
	}

	for attempt := 0; attempt < patchRetries; attempt++ {
		state, _, err := e.states.LoadOrCreate(ctx, def.Name, instanceID)
		if err != nil {
			return nil, err
		}

		// Checkpoint gate: the only exactly-once mechanism
		if rec.GlobalPosition <= state.LastGlobalPosition {
			return &ExecutionResult{Outcome: OutcomeAlreadyProcessed, InstanceID: instanceID}, nil
		}

		if state.Status.IsTerminal() {
			return &ExecutionResult{Outcome: OutcomeTerminalState, InstanceID: instanceID}, nil
		}

		result, err := e.processOnce(ctx, def, state, ev)
		if errors.Is(err, shared.ErrConcurrencyConflict) {
			// Another executor advanced this instance; reload and let
			// the checkpoint gate decide
			continue
		}
		return result, err
	}

	return nil, shared.ErrConcurrencyConflict
}

func (e *Executor) processOnce(ctx context.Context, def *Definition, state *shared.ProcessManagerState, ev *eventstore.DecodedEvent) (*ExecutionResult, error) {
	rec := ev.Record

	status := state.Status
	if status == shared.ProcessManagerIdle {
		next, err := shared.ApplyTransition(status, shared.TransitionStart)
		if err != nil {
			return nil, err
		}
		status = next
	}

	started := time.Now()
	result, handlerErr := e.runHandler(def, state, ev)
	if e.metrics != nil {
		e.metrics.HandleDuration.RecordDuration(ctx, time.Since(started), telemetry.AttrProcessor.String(def.Name))
	}
	if handlerErr != nil {
		return e.deadLetter(ctx, def, state, ev, nil, handlerErr)
	}

	emitted := 0
	for _, cmd := range result.Commands {
		e.prepareCommand(cmd, state, rec)
		if _, err := e.queue.Enqueue(ctx, cmd); err != nil {
			return e.deadLetter(ctx, def, state, ev, cmd, err)
		}
		emitted++
	}

	if result.Completed {
		next, err := shared.ApplyTransition(status, shared.TransitionSuccess)
		if err != nil {
			return nil, err
		}
		status = next
	}

	patch := shared.ProcessManagerStatePatch{
		Status:               &status,
		LastGlobalPosition:   &rec.GlobalPosition,
		CommandsEmittedDelta: int64(emitted),
		TriggerEventID:       &rec.EventID,
	}
	if rec.CorrelationID != "" {
		patch.CorrelationID = &rec.CorrelationID
	}
	if result.CustomState != nil {
		patch.CustomState = result.CustomState
	}

	if _, err := e.states.Patch(ctx, state.ProcessManagerName, state.InstanceID, state.StateVersion, patch); err != nil {
		return nil, err
	}

	if e.metrics != nil && emitted > 0 {
		e.metrics.CommandsEmitted.Add(ctx, int64(emitted), telemetry.AttrProcessor.String(def.Name))
	}

	e.logger.Debug("event processed",
		zap.String("process_manager", def.Name),
		zap.String("instance_id", state.InstanceID),
		zap.Int64("global_position", rec.GlobalPosition),
		zap.Int("commands_emitted", emitted),
	)

	return &ExecutionResult{
		Outcome:         OutcomeProcessed,
		InstanceID:      state.InstanceID,
		CommandsEmitted: emitted,
	}, nil
}

// runHandler invokes the pure handler with panic containment. A panic
// is a handler bug, not a transport problem, so it becomes a dead
// letter like any other failure.
func (e *Executor) runHandler(def *Definition, state *shared.ProcessManagerState, ev *eventstore.DecodedEvent) (result *HandlerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	result, err = def.Handle(state, ev)
	if err == nil && result == nil {
		result = &HandlerResult{}
	}
	return result, err
}

// prepareCommand fills in the envelope fields a handler left blank
func (e *Executor) prepareCommand(cmd *shared.QueuedCommand, state *shared.ProcessManagerState, rec *shared.EventRecord) {
	if cmd.CommandID == "" {
		cmd.CommandID = uuid.NewString()
	}
	if cmd.CorrelationID == "" {
		cmd.CorrelationID = rec.CorrelationID
	}
	if cmd.CausationID == "" {
		cmd.CausationID = rec.EventID.String()
	}
	if cmd.PartitionKey == "" {
		// Per-instance ordering hint for partitioned transports
		cmd.PartitionKey = state.InstanceID
	}
	if cmd.EnqueuedAt.IsZero() {
		cmd.EnqueuedAt = time.Now()
	}
}

// deadLetter records the failure and marks the instance failed. The
// checkpoint is deliberately not advanced: the event stays replayable.
func (e *Executor) deadLetter(ctx context.Context, def *Definition, state *shared.ProcessManagerState, ev *eventstore.DecodedEvent, failedCmd *shared.QueuedCommand, cause error) (*ExecutionResult, error) {
	rec := ev.Record

	eventData, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event for dead letter: %w", err)
	}

	var cmdData []byte
	if failedCmd != nil {
		cmdData, err = json.Marshal(failedCmd)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal command for dead letter: %w", err)
		}
	}

	letter, err := e.deadLetters.Upsert(ctx, &shared.DeadLetter{
		ProcessManagerName: def.Name,
		InstanceID:         state.InstanceID,
		EventID:            rec.EventID,
		Error:              cause.Error(),
		FailedCommand:      cmdData,
		Event:              eventData,
		Status:             shared.DeadLetterPending,
	})
	if err != nil {
		return nil, err
	}

	failed, terr := shared.ApplyTransition(state.Status, shared.TransitionFail)
	if terr != nil {
		// A retried instance is already processing-from-failed; a
		// second failure keeps it failed
		failed = shared.ProcessManagerFailed
	}
	errMsg := cause.Error()
	patch := shared.ProcessManagerStatePatch{
		Status:              &failed,
		CommandsFailedDelta: 1,
		ErrorMessage:        &errMsg,
		TriggerEventID:      &rec.EventID,
	}
	if _, err := e.states.Patch(ctx, state.ProcessManagerName, state.InstanceID, state.StateVersion, patch); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.CommandsFailed.Inc(ctx, telemetry.AttrProcessor.String(def.Name))
		e.metrics.DeadLetters.Inc(ctx, telemetry.AttrProcessor.String(def.Name))
	}

	e.logger.Warn("event dead-lettered",
		zap.String("process_manager", def.Name),
		zap.String("instance_id", state.InstanceID),
		zap.String("event_id", rec.EventID.String()),
		zap.Int("attempt_count", letter.AttemptCount),
		zap.Error(cause),
	)

	return &ExecutionResult{
		Outcome:      OutcomeDeadLettered,
		InstanceID:   state.InstanceID,
		DeadLetterID: letter.ID,
	}, nil
}
