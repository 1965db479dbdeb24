package models

import (
	"time"

	"github.com/evercore/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// ScopeModel is the persistence model for a dynamic consistency boundary.
// CurrentVersion advances only through version-checked updates; the scope
// row is the single resource competing committers race on.
type ScopeModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	ScopeKey       string    `gorm:"type:varchar(512);not null;uniqueIndex"`
	ScopeType      string    `gorm:"type:varchar(255);not null;index"`
	TenantID       string    `gorm:"type:varchar(255);not null;index"`
	CurrentVersion int64     `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ScopeModel) TableName() string {
	return "scopes"
}

// ToDomain converts the persistence model to a domain Scope.
// Streams are attached separately by the repository.
func (m *ScopeModel) ToDomain() *shared.Scope {
	return &shared.Scope{
		ID:             m.ID,
		ScopeKey:       m.ScopeKey,
		ScopeType:      m.ScopeType,
		TenantID:       m.TenantID,
		CurrentVersion: m.CurrentVersion,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// ScopeStreamModel registers one underlying stream under a scope, so the
// scope's virtual stream can be materialized as a global-order merge.
type ScopeStreamModel struct {
	ScopeID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	StreamType string    `gorm:"type:varchar(255);primaryKey"`
	StreamID   string    `gorm:"type:varchar(255);primaryKey"`
	CreatedAt  time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ScopeStreamModel) TableName() string {
	return "scope_streams"
}
