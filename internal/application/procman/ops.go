package procman

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/evercore/backend/internal/application/eventstore"
	"github.com/evercore/backend/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Operator actions: lifecycle overrides and dead-letter resolution.
// These are the only paths that move an instance out of failed.

// Retry transitions a failed instance back to processing
func (e *Executor) Retry(ctx context.Context, name, instanceID string) (*shared.ProcessManagerState, error) {
	state, err := e.states.Get(ctx, name, instanceID)
	if err != nil {
		return nil, err
	}

	next, err := shared.ApplyTransition(state.Status, shared.TransitionRetry)
	if err != nil {
		return nil, err
	}

	empty := ""
	updated, err := e.states.Patch(ctx, name, instanceID, state.StateVersion, shared.ProcessManagerStatePatch{
		Status:       &next,
		ErrorMessage: &empty,
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("process manager instance retried",
		zap.String("process_manager", name),
		zap.String("instance_id", instanceID),
	)
	return updated, nil
}

// Reset forces an instance back to idle, keeping its checkpoint
func (e *Executor) Reset(ctx context.Context, name, instanceID string) (*shared.ProcessManagerState, error) {
	state, err := e.states.Get(ctx, name, instanceID)
	if err != nil {
		return nil, err
	}

	next, err := shared.ApplyTransition(state.Status, shared.TransitionReset)
	if err != nil {
		return nil, err
	}

	empty := ""
	updated, err := e.states.Patch(ctx, name, instanceID, state.StateVersion, shared.ProcessManagerStatePatch{
		Status:       &next,
		ErrorMessage: &empty,
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("process manager instance reset",
		zap.String("process_manager", name),
		zap.String("instance_id", instanceID),
	)
	return updated, nil
}

// InstanceState returns the bookkeeping state of one instance
func (e *Executor) InstanceState(ctx context.Context, name, instanceID string) (*shared.ProcessManagerState, error) {
	return e.states.Get(ctx, name, instanceID)
}

// ListInstances returns instances of a process manager in a status
func (e *Executor) ListInstances(ctx context.Context, name string, status shared.ProcessManagerStatus, limit int) ([]*shared.ProcessManagerState, error) {
	return e.states.ListByStatus(ctx, name, status, limit)
}

// DeadLetters returns dead letters matching the filter with a total
func (e *Executor) DeadLetters(ctx context.Context, filter shared.DeadLetterFilter) ([]*shared.DeadLetter, int64, error) {
	return e.deadLetters.Find(ctx, filter)
}

// IgnoreDeadLetter resolves a pending dead letter as ignored
func (e *Executor) IgnoreDeadLetter(ctx context.Context, id uuid.UUID) error {
	if err := e.deadLetters.Resolve(ctx, id, shared.DeadLetterIgnored); err != nil {
		return err
	}
	e.logger.Info("dead letter ignored", zap.String("dead_letter_id", id.String()))
	return nil
}

// ReplayDeadLetter re-runs a dead-lettered event through its process
// manager: the failed instance is transitioned back to processing,
// then the stored event goes through the normal delivery protocol. A
// successful replay resolves the letter; another failure bumps its
// attempt count through the usual upsert.
func (e *Executor) ReplayDeadLetter(ctx context.Context, id uuid.UUID) (*ExecutionResult, error) {
	letter, err := e.deadLetters.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if letter.Status != shared.DeadLetterPending {
		return nil, fmt.Errorf("%w: dead letter is %s", shared.ErrInvalidState, letter.Status)
	}

	def, ok := e.definitions[letter.ProcessManagerName]
	if !ok {
		return nil, fmt.Errorf("%w: process manager %s is not registered", shared.ErrNotFound, letter.ProcessManagerName)
	}

	var rec shared.EventRecord
	if err := json.Unmarshal(letter.Event, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead-lettered event: %w", err)
	}
	payload, err := e.codec.DecodeRecord(&rec)
	if err != nil {
		return nil, err
	}

	state, err := e.states.Get(ctx, letter.ProcessManagerName, letter.InstanceID)
	if err != nil {
		return nil, err
	}
	if state.Status == shared.ProcessManagerFailed {
		if _, err := e.Retry(ctx, letter.ProcessManagerName, letter.InstanceID); err != nil {
			return nil, err
		}
	}

	result, err := e.ProcessEvent(ctx, def, &eventstore.DecodedEvent{Record: &rec, Payload: payload})
	if err != nil {
		return nil, err
	}

	if result.Outcome == OutcomeProcessed || result.Outcome == OutcomeAlreadyProcessed {
		if err := e.deadLetters.Resolve(ctx, id, shared.DeadLetterReplayed); err != nil {
			return nil, err
		}
		e.logger.Info("dead letter replayed",
			zap.String("dead_letter_id", id.String()),
			zap.String("process_manager", letter.ProcessManagerName),
			zap.String("instance_id", letter.InstanceID),
		)
	}

	return result, nil
}
