package models

import (
	"time"

	"github.com/evercore/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// CommandOutboxModel is the persistence model for commands awaiting
// durable delivery. It implements the transactional outbox pattern so a
// command emitted alongside a state change survives a crash between the
// commit and the delivery.
type CommandOutboxModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	CommandID     string    `gorm:"type:varchar(255);not null;uniqueIndex"`
	CommandType   string    `gorm:"type:varchar(255);not null"`
	TargetContext string    `gorm:"type:varchar(255);not null"`
	PartitionKey  string    `gorm:"type:varchar(255);index"`
	CorrelationID string    `gorm:"type:varchar(255);index"`
	CausationID   string    `gorm:"type:varchar(255)"`
	Payload       []byte    `gorm:"type:jsonb;not null"`
	Status        string    `gorm:"type:varchar(20);not null;index:idx_command_outbox_status_created,priority:1"`
	RetryCount    int       `gorm:"not null;default:0"`
	MaxRetries    int       `gorm:"not null;default:5"`
	LastError     string    `gorm:"type:text"`
	NextRetryAt   *time.Time `gorm:"index"`
	ProcessedAt   *time.Time
	CreatedAt     time.Time `gorm:"not null;index:idx_command_outbox_status_created,priority:2"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CommandOutboxModel) TableName() string {
	return "command_outbox"
}

// ToDomain converts the persistence model to a domain CommandOutboxEntry
func (m *CommandOutboxModel) ToDomain() *shared.CommandOutboxEntry {
	return &shared.CommandOutboxEntry{
		ID:            m.ID,
		CommandID:     m.CommandID,
		CommandType:   m.CommandType,
		TargetContext: m.TargetContext,
		PartitionKey:  m.PartitionKey,
		CorrelationID: m.CorrelationID,
		CausationID:   m.CausationID,
		Payload:       m.Payload,
		Status:        shared.OutboxStatus(m.Status),
		RetryCount:    m.RetryCount,
		MaxRetries:    m.MaxRetries,
		LastError:     m.LastError,
		NextRetryAt:   m.NextRetryAt,
		ProcessedAt:   m.ProcessedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain entry
func (m *CommandOutboxModel) FromDomain(e *shared.CommandOutboxEntry) {
	m.ID = e.ID
	m.CommandID = e.CommandID
	m.CommandType = e.CommandType
	m.TargetContext = e.TargetContext
	m.PartitionKey = e.PartitionKey
	m.CorrelationID = e.CorrelationID
	m.CausationID = e.CausationID
	m.Payload = e.Payload
	m.Status = string(e.Status)
	m.RetryCount = e.RetryCount
	m.MaxRetries = e.MaxRetries
	m.LastError = e.LastError
	m.NextRetryAt = e.NextRetryAt
	m.ProcessedAt = e.ProcessedAt
	m.CreatedAt = e.CreatedAt
	m.UpdatedAt = e.UpdatedAt
}

// CommandOutboxModelFromDomain creates a persistence model from a domain entry
func CommandOutboxModelFromDomain(e *shared.CommandOutboxEntry) *CommandOutboxModel {
	m := &CommandOutboxModel{}
	m.FromDomain(e)
	return m
}
