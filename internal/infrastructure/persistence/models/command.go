package models

import (
	"time"

	"github.com/evercore/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// CommandRecordModel is the persistence model for the command ledger.
// The primary key on command_id is what turns a client retry into a
// duplicate-key insert instead of a second execution.
type CommandRecordModel struct {
	CommandID     string     `gorm:"type:varchar(255);primaryKey"`
	CommandType   string     `gorm:"type:varchar(255);not null;index"`
	TargetContext string     `gorm:"type:varchar(255);not null;index"`
	Payload       []byte     `gorm:"type:jsonb;not null"`
	Status        string     `gorm:"type:varchar(20);not null;index"`
	Result        []byte     `gorm:"type:jsonb"`
	CorrelationID string     `gorm:"type:varchar(255);not null;index"`
	UserID        string     `gorm:"type:varchar(255)"`
	IssuedAt      time.Time  `gorm:"not null"`
	ExpiresAt     *time.Time `gorm:"index"`
	CreatedAt     time.Time  `gorm:"not null"`
	UpdatedAt     time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CommandRecordModel) TableName() string {
	return "command_ledger"
}

// ToDomain converts the persistence model to a domain CommandRecord
func (m *CommandRecordModel) ToDomain() *shared.CommandRecord {
	return &shared.CommandRecord{
		CommandID:     m.CommandID,
		CommandType:   m.CommandType,
		TargetContext: m.TargetContext,
		Payload:       m.Payload,
		Status:        shared.CommandStatus(m.Status),
		Result:        m.Result,
		CorrelationID: m.CorrelationID,
		UserID:        m.UserID,
		IssuedAt:      m.IssuedAt,
		ExpiresAt:     m.ExpiresAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// CommandRecordModelFromDomain creates a persistence model from a domain record
func CommandRecordModelFromDomain(c *shared.CommandRecord) *CommandRecordModel {
	return &CommandRecordModel{
		CommandID:     c.CommandID,
		CommandType:   c.CommandType,
		TargetContext: c.TargetContext,
		Payload:       c.Payload,
		Status:        string(c.Status),
		Result:        c.Result,
		CorrelationID: c.CorrelationID,
		UserID:        c.UserID,
		IssuedAt:      c.IssuedAt,
		ExpiresAt:     c.ExpiresAt,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

// CommandEventLinkModel maps a command to one event it produced
type CommandEventLinkModel struct {
	CommandID      string    `gorm:"type:varchar(255);primaryKey"`
	EventID        uuid.UUID `gorm:"type:uuid;primaryKey;index"`
	BoundedContext string    `gorm:"type:varchar(255);not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CommandEventLinkModel) TableName() string {
	return "command_event_links"
}
