package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CommandStatus is the lifecycle status of a recorded command
type CommandStatus string

const (
	CommandStatusPending  CommandStatus = "pending"
	CommandStatusExecuted CommandStatus = "executed"
	CommandStatusRejected CommandStatus = "rejected"
	CommandStatusFailed   CommandStatus = "failed"
)

// IsTerminal reports whether the status permits no further updates
func (s CommandStatus) IsTerminal() bool {
	return s == CommandStatusExecuted || s == CommandStatusRejected || s == CommandStatusFailed
}

// CommandMetadata is the correlation metadata attached to a command
type CommandMetadata struct {
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
	UserID        string    `json:"user_id,omitempty"`
}

// CommandRecord is the deduplication ledger entry for one command.
// CommandID is the idempotency key for the whole command pipeline:
// a record is created on first submission and updated exactly once
// to a terminal status.
type CommandRecord struct {
	CommandID     string
	CommandType   string
	TargetContext string
	Payload       []byte
	Status        CommandStatus
	Result        []byte
	CorrelationID string
	UserID        string
	IssuedAt      time.Time
	ExpiresAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RecordCommandResult is the outcome of recording a command.
// Duplicate is true when the commandId was already seen; the prior
// status and result are returned so the caller can treat the retry
// as resolved without re-executing anything.
type RecordCommandResult struct {
	Duplicate bool
	Status    CommandStatus
	Result    []byte
}

// CommandEventLink maps a command to one event it produced, scoped by
// bounded context, for tracing one business operation end to end.
type CommandEventLink struct {
	CommandID      string
	EventID        uuid.UUID
	BoundedContext string
	CreatedAt      time.Time
}

// CorrelationTrace gathers everything recorded under one correlation ID
type CorrelationTrace struct {
	CorrelationID string
	Commands      []*CommandRecord
	EventIDs      []uuid.UUID
}

// CommandLedger is the command-deduplication ledger.
//
// TTL expiry must never remove a record while it is still eligible to
// answer a duplicate check within its window; DeleteExpired only removes
// records whose ExpiresAt has passed.
type CommandLedger interface {
	// Record inserts the command or reports it as a duplicate
	Record(ctx context.Context, cmd *CommandRecord) (*RecordCommandResult, error)

	// UpdateResult sets a terminal status exactly once
	UpdateResult(ctx context.Context, commandID string, status CommandStatus, result []byte) error

	// Get returns the ledger entry for commandID, or ErrNotFound
	Get(ctx context.Context, commandID string) (*CommandRecord, error)

	// LinkEvents records which events a command produced
	LinkEvents(ctx context.Context, commandID, boundedContext string, eventIDs []uuid.UUID) error

	// EventsForCommand returns the event IDs a command produced
	EventsForCommand(ctx context.Context, commandID string) ([]uuid.UUID, error)

	// TraceCorrelation returns all commands and events under a correlation ID
	TraceCorrelation(ctx context.Context, correlationID string) (*CorrelationTrace, error)

	// DeleteExpired removes records whose TTL window has closed
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
