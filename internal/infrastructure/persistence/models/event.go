package models

import (
	"time"

	"github.com/evercore/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// EventModel is the persistence model for the append-only event log.
// GlobalPosition is the store-wide total order, assigned by the database
// at commit time. The unique (stream_type, stream_id, version) index is
// the backstop for per-stream optimistic concurrency, and the unique
// idempotency key index is what makes retried appends single-effect.
type EventModel struct {
	GlobalPosition int64     `gorm:"primaryKey;autoIncrement"`
	EventID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	StreamType     string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_events_stream_version,priority:1"`
	StreamID       string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_events_stream_version,priority:2"`
	Version        int64     `gorm:"not null;uniqueIndex:idx_events_stream_version,priority:3"`
	EventType      string    `gorm:"type:varchar(255);not null;index"`
	SchemaVersion  int       `gorm:"not null;default:1"`
	Category       string    `gorm:"type:varchar(32);not null;index"`
	BoundedContext string    `gorm:"type:varchar(255);not null;index"`
	CorrelationID  string    `gorm:"type:varchar(255);not null;index"`
	CausationID    string    `gorm:"type:varchar(255)"`
	IdempotencyKey *string   `gorm:"type:varchar(255);uniqueIndex"`
	Payload        []byte    `gorm:"type:jsonb;not null"`
	Metadata       []byte    `gorm:"type:jsonb"`
	Timestamp      time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (EventModel) TableName() string {
	return "events"
}

// ToDomain converts the persistence model to a domain EventRecord
func (m *EventModel) ToDomain() *shared.EventRecord {
	rec := &shared.EventRecord{
		EventID:        m.EventID,
		StreamType:     m.StreamType,
		StreamID:       m.StreamID,
		EventType:      m.EventType,
		SchemaVersion:  m.SchemaVersion,
		Category:       shared.EventCategory(m.Category),
		BoundedContext: m.BoundedContext,
		CorrelationID:  m.CorrelationID,
		CausationID:    m.CausationID,
		Version:        m.Version,
		GlobalPosition: m.GlobalPosition,
		Payload:        m.Payload,
		Metadata:       m.Metadata,
		Timestamp:      m.Timestamp,
	}
	if m.IdempotencyKey != nil {
		rec.IdempotencyKey = *m.IdempotencyKey
	}
	return rec
}

// EventModelFromProposed builds a persistence model for one proposed event.
// Version is the position the event will take within its stream.
func EventModelFromProposed(streamType, streamID, boundedContext string, version int64, e shared.ProposedEvent, now time.Time) *EventModel {
	eventID := e.EventID
	if eventID == uuid.Nil {
		eventID = uuid.New()
	}
	schemaVersion := e.SchemaVersion
	if schemaVersion < 1 {
		schemaVersion = 1
	}
	category := e.Category
	if category == "" {
		category = shared.CategoryDomain
	}
	m := &EventModel{
		EventID:        eventID,
		StreamType:     streamType,
		StreamID:       streamID,
		Version:        version,
		EventType:      e.EventType,
		SchemaVersion:  schemaVersion,
		Category:       string(category),
		BoundedContext: boundedContext,
		CorrelationID:  e.CorrelationID,
		CausationID:    e.CausationID,
		Payload:        e.Payload,
		Metadata:       e.Metadata,
		Timestamp:      now,
	}
	if e.IdempotencyKey != "" {
		key := e.IdempotencyKey
		m.IdempotencyKey = &key
	}
	return m
}
