package shared

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus represents the delivery status of an outbox entry
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusProcessing OutboxStatus = "PROCESSING"
	OutboxStatusSent       OutboxStatus = "SENT"
	OutboxStatusFailed     OutboxStatus = "FAILED"
	OutboxStatusDead       OutboxStatus = "DEAD"
)

// Default retry configuration
const (
	DefaultMaxRetries  = 5
	DefaultBaseBackoff = time.Second
)

// CommandOutboxEntry is a queued command persisted for reliable delivery.
// Entries are written in the same transaction as the state change that
// emitted the command and delivered by a polling processor, so a crash
// between decide and deliver loses nothing.
type CommandOutboxEntry struct {
	ID            uuid.UUID
	CommandID     string
	CommandType   string
	TargetContext string
	PartitionKey  string
	CorrelationID string
	CausationID   string
	Payload       []byte
	Status        OutboxStatus
	RetryCount    int
	MaxRetries    int
	LastError     string
	NextRetryAt   *time.Time
	ProcessedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewCommandOutboxEntry creates a pending outbox entry for a command
func NewCommandOutboxEntry(cmd *QueuedCommand) *CommandOutboxEntry {
	now := time.Now()
	return &CommandOutboxEntry{
		ID:            uuid.New(),
		CommandID:     cmd.CommandID,
		CommandType:   cmd.CommandType,
		TargetContext: cmd.TargetContext,
		PartitionKey:  cmd.PartitionKey,
		CorrelationID: cmd.CorrelationID,
		CausationID:   cmd.CausationID,
		Payload:       cmd.Payload,
		Status:        OutboxStatusPending,
		RetryCount:    0,
		MaxRetries:    DefaultMaxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Command reconstructs the queued command carried by this entry
func (e *CommandOutboxEntry) Command() *QueuedCommand {
	return &QueuedCommand{
		CommandID:     e.CommandID,
		CommandType:   e.CommandType,
		TargetContext: e.TargetContext,
		Payload:       e.Payload,
		CorrelationID: e.CorrelationID,
		CausationID:   e.CausationID,
		PartitionKey:  e.PartitionKey,
		EnqueuedAt:    e.CreatedAt,
	}
}

// CanRetry returns true if the entry can be retried
func (e *CommandOutboxEntry) CanRetry() bool {
	return e.Status == OutboxStatusFailed && e.RetryCount < e.MaxRetries
}

// MarkProcessing marks the entry as being processed
func (e *CommandOutboxEntry) MarkProcessing() error {
	if e.Status != OutboxStatusPending && e.Status != OutboxStatusFailed {
		return errors.New("can only mark pending or failed entries as processing")
	}
	e.Status = OutboxStatusProcessing
	e.UpdatedAt = time.Now()
	return nil
}

// MarkSent marks the entry as successfully delivered
func (e *CommandOutboxEntry) MarkSent() {
	now := time.Now()
	e.Status = OutboxStatusSent
	e.ProcessedAt = &now
	e.UpdatedAt = now
}

// MarkFailed marks the entry as failed and schedules the next retry
func (e *CommandOutboxEntry) MarkFailed(errMsg string) {
	e.RetryCount++
	e.LastError = errMsg
	e.UpdatedAt = time.Now()

	if e.RetryCount >= e.MaxRetries {
		e.Status = OutboxStatusDead
	} else {
		e.Status = OutboxStatusFailed
		// Exponential backoff: 1s, 2s, 4s, 8s, 16s, ...
		backoff := DefaultBaseBackoff * time.Duration(1<<uint(e.RetryCount-1))
		nextRetry := time.Now().Add(backoff)
		e.NextRetryAt = &nextRetry
	}
}

// ResetForRetry resets a dead entry for another delivery attempt
func (e *CommandOutboxEntry) ResetForRetry() error {
	if e.Status != OutboxStatusDead {
		return errors.New("can only retry dead entries")
	}
	e.Status = OutboxStatusPending
	e.RetryCount = 0
	e.LastError = ""
	e.NextRetryAt = nil
	e.UpdatedAt = time.Now()
	return nil
}

// IsDead returns true if delivery has been abandoned
func (e *CommandOutboxEntry) IsDead() bool {
	return e.Status == OutboxStatusDead
}

// CommandOutboxRepository defines persistence for the command outbox
type CommandOutboxRepository interface {
	// Save persists one or more outbox entries
	Save(ctx context.Context, entries ...*CommandOutboxEntry) error
	// FindPending retrieves pending entries up to the specified limit
	FindPending(ctx context.Context, limit int) ([]*CommandOutboxEntry, error)
	// FindRetryable retrieves failed entries that are due for retry
	FindRetryable(ctx context.Context, before time.Time, limit int) ([]*CommandOutboxEntry, error)
	// MarkProcessing atomically marks entries as processing and returns them
	MarkProcessing(ctx context.Context, ids []uuid.UUID) ([]*CommandOutboxEntry, error)
	// Update updates an existing outbox entry
	Update(ctx context.Context, entry *CommandOutboxEntry) error
	// DeleteOlderThan deletes sent entries older than the specified time
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
	// CountByStatus returns count of entries for each status
	CountByStatus(ctx context.Context) (map[OutboxStatus]int64, error)
}
