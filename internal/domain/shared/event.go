package shared

import (
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies an event by its role in the system
type EventCategory string

const (
	// CategoryDomain marks events that record a business fact inside one context
	CategoryDomain EventCategory = "domain"
	// CategoryIntegration marks events published across bounded contexts
	CategoryIntegration EventCategory = "integration"
	// CategoryTrigger marks events that exist only to wake up a process manager
	CategoryTrigger EventCategory = "trigger"
	// CategoryFat marks events that carry full state snapshots in their payload
	CategoryFat EventCategory = "fat"
)

// EventPayload is implemented by typed event payloads.
// Payloads are registered with the event codec per (eventType, schemaVersion)
// so they can be validated at the boundary and upcast on read.
type EventPayload interface {
	EventType() string
}

// ProposedEvent is an event handed to the store for appending.
// EventID is assigned by the store when zero. The payload is already
// serialized; the codec is responsible for schema validation before append.
type ProposedEvent struct {
	EventID        uuid.UUID
	EventType      string
	SchemaVersion  int
	Category       EventCategory
	CorrelationID  string
	CausationID    string
	IdempotencyKey string
	Payload        []byte
	Metadata       []byte
}

// EventRecord is the stored, immutable form of an event.
// Records are created only by a successful append and never mutated.
type EventRecord struct {
	EventID        uuid.UUID
	StreamType     string
	StreamID       string
	EventType      string
	SchemaVersion  int
	Category       EventCategory
	BoundedContext string
	CorrelationID  string
	CausationID    string
	IdempotencyKey string
	Version        int64
	GlobalPosition int64
	Payload        []byte
	Metadata       []byte
	Timestamp      time.Time
}

// StreamKey identifies a stream: one aggregate instance's ordered event log
type StreamKey struct {
	StreamType string `json:"stream_type"`
	StreamID   string `json:"stream_id"`
}

// String returns the canonical "type:id" form used in logs and scope records
func (k StreamKey) String() string {
	return k.StreamType + ":" + k.StreamID
}
