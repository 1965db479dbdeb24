package models

import (
	"time"

	"github.com/evercore/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// ProcessManagerStateModel is the persistence model for one PM instance.
// StateVersion guards sparse updates optimistically; LastGlobalPosition
// is the exactly-once checkpoint and is monotonic non-decreasing.
type ProcessManagerStateModel struct {
	ProcessManagerName string     `gorm:"type:varchar(255);primaryKey"`
	InstanceID         string     `gorm:"type:varchar(255);primaryKey"`
	Status             string     `gorm:"type:varchar(20);not null;index"`
	LastGlobalPosition int64      `gorm:"not null;default:0"`
	StateVersion       int64      `gorm:"not null;default:1"`
	CommandsEmitted    int64      `gorm:"not null;default:0"`
	CommandsFailed     int64      `gorm:"not null;default:0"`
	CustomState        []byte     `gorm:"type:jsonb"`
	CorrelationID      string     `gorm:"type:varchar(255);index"`
	TriggerEventID     *uuid.UUID `gorm:"type:uuid"`
	ErrorMessage       string     `gorm:"type:text"`
	CreatedAt          time.Time  `gorm:"not null"`
	UpdatedAt          time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ProcessManagerStateModel) TableName() string {
	return "process_manager_states"
}

// ToDomain converts the persistence model to a domain ProcessManagerState
func (m *ProcessManagerStateModel) ToDomain() *shared.ProcessManagerState {
	return &shared.ProcessManagerState{
		ProcessManagerName: m.ProcessManagerName,
		InstanceID:         m.InstanceID,
		Status:             shared.ProcessManagerStatus(m.Status),
		LastGlobalPosition: m.LastGlobalPosition,
		StateVersion:       m.StateVersion,
		CommandsEmitted:    m.CommandsEmitted,
		CommandsFailed:     m.CommandsFailed,
		CustomState:        m.CustomState,
		CorrelationID:      m.CorrelationID,
		TriggerEventID:     m.TriggerEventID,
		ErrorMessage:       m.ErrorMessage,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

// DeadLetterModel is the persistence model for PM dead letters. The
// unique (name, instance, event) index collapses repeat failures of the
// same event into one row whose attempt count grows.
type DeadLetterModel struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey"`
	ProcessManagerName string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_dead_letters_key,priority:1;index:idx_dead_letters_name_status,priority:1"`
	InstanceID         string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_dead_letters_key,priority:2"`
	EventID            uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_dead_letters_key,priority:3"`
	AttemptCount       int       `gorm:"not null;default:1"`
	Error              string    `gorm:"type:text;not null"`
	FailedCommand      []byte    `gorm:"type:jsonb"`
	Event              []byte    `gorm:"type:jsonb"`
	Status             string    `gorm:"type:varchar(20);not null;index:idx_dead_letters_name_status,priority:2"`
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DeadLetterModel) TableName() string {
	return "process_manager_dead_letters"
}

// ToDomain converts the persistence model to a domain DeadLetter
func (m *DeadLetterModel) ToDomain() *shared.DeadLetter {
	return &shared.DeadLetter{
		ID:                 m.ID,
		ProcessManagerName: m.ProcessManagerName,
		InstanceID:         m.InstanceID,
		EventID:            m.EventID,
		AttemptCount:       m.AttemptCount,
		Error:              m.Error,
		FailedCommand:      m.FailedCommand,
		Event:              m.Event,
		Status:             shared.DeadLetterStatus(m.Status),
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}
