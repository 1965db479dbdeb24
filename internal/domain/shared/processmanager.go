package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProcessManagerStatus is the lifecycle status of one PM instance
type ProcessManagerStatus string

const (
	ProcessManagerIdle       ProcessManagerStatus = "idle"
	ProcessManagerProcessing ProcessManagerStatus = "processing"
	ProcessManagerCompleted  ProcessManagerStatus = "completed"
	ProcessManagerFailed     ProcessManagerStatus = "failed"
)

// IsTerminal reports whether the instance stopped reacting to events
func (s ProcessManagerStatus) IsTerminal() bool {
	return s == ProcessManagerCompleted || s == ProcessManagerFailed
}

// ProcessManagerTransition is a symbolic state-machine event
type ProcessManagerTransition string

const (
	TransitionStart   ProcessManagerTransition = "START"
	TransitionSuccess ProcessManagerTransition = "SUCCESS"
	TransitionFail    ProcessManagerTransition = "FAIL"
	TransitionRetry   ProcessManagerTransition = "RETRY"
	TransitionReset   ProcessManagerTransition = "RESET"
)

// ErrInvalidTransition is returned for transitions the state machine forbids
type ErrInvalidTransition struct {
	From       ProcessManagerStatus
	Transition ProcessManagerTransition
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid_transition: %s not allowed from %s", e.Transition, e.From)
}

// ApplyTransition returns the status reached by applying a symbolic
// transition. Invalid transitions are reported, never silently coerced.
//
//	idle -> processing -> {completed, failed}
//	failed -> processing (RETRY) -> completed
//	any -> idle (RESET, operator-only)
func ApplyTransition(from ProcessManagerStatus, t ProcessManagerTransition) (ProcessManagerStatus, error) {
	switch t {
	case TransitionReset:
		return ProcessManagerIdle, nil
	case TransitionStart:
		if from == ProcessManagerIdle {
			return ProcessManagerProcessing, nil
		}
	case TransitionSuccess:
		if from == ProcessManagerProcessing {
			return ProcessManagerCompleted, nil
		}
	case TransitionFail:
		if from == ProcessManagerProcessing {
			return ProcessManagerFailed, nil
		}
	case TransitionRetry:
		if from == ProcessManagerFailed {
			return ProcessManagerProcessing, nil
		}
	}
	return from, &ErrInvalidTransition{From: from, Transition: t}
}

// ProcessManagerState is the bookkeeping state of one PM instance.
// LastGlobalPosition is the exactly-once checkpoint: it only ever
// increases, and events at or below it are skipped without invoking
// the handler.
type ProcessManagerState struct {
	ProcessManagerName string
	InstanceID         string
	Status             ProcessManagerStatus
	LastGlobalPosition int64
	StateVersion       int64
	CommandsEmitted    int64
	CommandsFailed     int64
	CustomState        []byte
	CorrelationID      string
	TriggerEventID     *uuid.UUID
	ErrorMessage       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ProcessManagerStatePatch is a sparse update merged by the storage
// layer: only non-nil fields are written. Counter deltas are applied
// additively so concurrent bookkeeping never loses increments.
type ProcessManagerStatePatch struct {
	Status               *ProcessManagerStatus
	LastGlobalPosition   *int64
	CommandsEmittedDelta int64
	CommandsFailedDelta  int64
	CustomState          []byte
	CorrelationID        *string
	TriggerEventID       *uuid.UUID
	ErrorMessage         *string
}

// ProcessManagerStateRepository persists PM instance state.
// Patch uses the state version for optimistic concurrency: a stale
// version returns ErrConcurrencyConflict and writes nothing.
type ProcessManagerStateRepository interface {
	// LoadOrCreate returns the instance state, creating it idle at
	// checkpoint 0. The second return reports whether it was created.
	LoadOrCreate(ctx context.Context, name, instanceID string) (*ProcessManagerState, bool, error)

	// Get returns the instance state, or ErrNotFound
	Get(ctx context.Context, name, instanceID string) (*ProcessManagerState, error)

	// Patch applies a sparse update guarded by expectedStateVersion
	Patch(ctx context.Context, name, instanceID string, expectedStateVersion int64, patch ProcessManagerStatePatch) (*ProcessManagerState, error)

	// ListByStatus returns instances of a PM in the given status
	ListByStatus(ctx context.Context, name string, status ProcessManagerStatus, limit int) ([]*ProcessManagerState, error)
}

// DeadLetterStatus is the lifecycle status of a dead letter
type DeadLetterStatus string

const (
	DeadLetterPending  DeadLetterStatus = "pending"
	DeadLetterReplayed DeadLetterStatus = "replayed"
	DeadLetterIgnored  DeadLetterStatus = "ignored"
)

// DeadLetter records an event a process manager could not process.
// A pending entry accumulates AttemptCount on repeat failures; once
// non-pending it is immutable except by explicit operator action.
type DeadLetter struct {
	ID                 uuid.UUID
	ProcessManagerName string
	InstanceID         string
	EventID            uuid.UUID
	AttemptCount       int
	Error              string
	FailedCommand      []byte
	Event              []byte
	Status             DeadLetterStatus
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DeadLetterFilter narrows dead-letter queries for operator tooling
type DeadLetterFilter struct {
	ProcessManagerName string
	Status             DeadLetterStatus
	Page               int
	PageSize           int
}

// DeadLetterRepository persists dead letters, the sole source of truth
// for operator-visible process-manager failures.
type DeadLetterRepository interface {
	// Upsert creates a pending entry or increments an existing pending
	// entry's attempt count. An existing non-pending entry is returned
	// untouched: resolved letters are immutable to repeat failures.
	Upsert(ctx context.Context, letter *DeadLetter) (*DeadLetter, error)

	// Get returns a dead letter by ID, or ErrNotFound
	Get(ctx context.Context, id uuid.UUID) (*DeadLetter, error)

	// Find returns dead letters matching the filter with a total count
	Find(ctx context.Context, filter DeadLetterFilter) ([]*DeadLetter, int64, error)

	// Resolve moves a pending entry to replayed or ignored
	Resolve(ctx context.Context, id uuid.UUID, status DeadLetterStatus) error
}
