package shared

import (
	"context"

	"github.com/google/uuid"
)

// AppendStatus is the outcome of an append or commit attempt
type AppendStatus string

const (
	AppendStatusSuccess  AppendStatus = "success"
	AppendStatusConflict AppendStatus = "conflict"
)

// AppendResult is the outcome of AppendToStream.
// On success EventIDs, GlobalPositions and NewVersion are set; Deduplicated
// is true when the batch carried an idempotency key that was already seen,
// in which case the original result is returned and the store is unchanged.
// On conflict only CurrentVersion is set.
type AppendResult struct {
	Status          AppendStatus
	EventIDs        []uuid.UUID
	GlobalPositions []int64
	NewVersion      int64
	CurrentVersion  int64
	Deduplicated    bool
}

// ReadFilter narrows ReadFromPosition to a subset of the global log.
// Empty slices match everything.
type ReadFilter struct {
	StreamTypes     []string
	EventTypes      []string
	Categories      []EventCategory
	BoundedContexts []string
}

// EventStore is the append-only event log with optimistic concurrency.
//
// Appends are atomic per stream and assign store-wide global positions,
// giving a single total order usable for replay and cross-stream merges.
// An append succeeds only when expectedVersion equals the stream's current
// version; otherwise it returns a conflict result and mutates nothing.
type EventStore interface {
	// AppendToStream atomically appends a batch of events to one stream
	AppendToStream(ctx context.Context, streamType, streamID string, expectedVersion int64, boundedContext string, events []ProposedEvent) (*AppendResult, error)

	// ReadStream returns a stream's events ordered by version ascending.
	// fromVersion is exclusive when > 0; limit <= 0 means no limit.
	ReadStream(ctx context.Context, streamType, streamID string, fromVersion int64, limit int) ([]*EventRecord, error)

	// ReadFromPosition returns globally ordered events after fromPosition
	ReadFromPosition(ctx context.Context, fromPosition int64, limit int, filter *ReadFilter) ([]*EventRecord, error)

	// ReadStreams returns a globally ordered merge of the given streams,
	// used to materialize virtual streams over a consistency scope
	ReadStreams(ctx context.Context, streams []StreamKey, fromPosition int64, limit int) ([]*EventRecord, error)

	// GetStreamVersion returns the stream's current version, 0 if absent
	GetStreamVersion(ctx context.Context, streamType, streamID string) (int64, error)

	// GetGlobalPosition returns the highest assigned global position
	GetGlobalPosition(ctx context.Context) (int64, error)
}
