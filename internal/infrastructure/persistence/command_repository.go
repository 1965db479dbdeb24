package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/evercore/backend/internal/domain/shared"
	"github.com/evercore/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCommandLedger implements shared.CommandLedger using GORM.
//
// The command_id primary key carries the whole-pipeline idempotency
// guarantee: a retried submission collides on insert and the original
// record's status and result are returned instead.
type GormCommandLedger struct {
	db *gorm.DB
}

// NewGormCommandLedger creates a new GORM-based command ledger
func NewGormCommandLedger(db *gorm.DB) *GormCommandLedger {
	return &GormCommandLedger{db: db}
}

// WithTx returns a new ledger instance bound to the given transaction
func (r *GormCommandLedger) WithTx(tx *gorm.DB) *GormCommandLedger {
	return &GormCommandLedger{db: tx}
}

// Record inserts the command or reports it as a duplicate
func (r *GormCommandLedger) Record(ctx context.Context, cmd *shared.CommandRecord) (*shared.RecordCommandResult, error) {
	if cmd.CommandID == "" || cmd.CommandType == "" {
		return nil, shared.ErrInvalidInput
	}

	now := time.Now().UTC()
	row := models.CommandRecordModelFromDomain(cmd)
	if row.Status == "" {
		row.Status = string(shared.CommandStatusPending)
	}
	row.CreatedAt = now
	row.UpdatedAt = now
	if row.IssuedAt.IsZero() {
		row.IssuedAt = now
	}

	err := r.db.WithContext(ctx).Create(row).Error
	if err == nil {
		return &shared.RecordCommandResult{
			Duplicate: false,
			Status:    shared.CommandStatus(row.Status),
		}, nil
	}
	if !isUniqueViolation(err) {
		return nil, err
	}

	var existing models.CommandRecordModel
	if err := r.db.WithContext(ctx).Where("command_id = ?", cmd.CommandID).First(&existing).Error; err != nil {
		return nil, err
	}
	return &shared.RecordCommandResult{
		Duplicate: true,
		Status:    shared.CommandStatus(existing.Status),
		Result:    existing.Result,
	}, nil
}

// UpdateResult sets a terminal status exactly once. A record that has
// already reached a terminal status returns ErrInvalidState untouched.
func (r *GormCommandLedger) UpdateResult(ctx context.Context, commandID string, status shared.CommandStatus, result []byte) error {
	if !status.IsTerminal() {
		return shared.ErrInvalidInput
	}

	res := r.db.WithContext(ctx).
		Model(&models.CommandRecordModel{}).
		Where("command_id = ? AND status = ?", commandID, shared.CommandStatusPending).
		Updates(map[string]interface{}{
			"status":     string(status),
			"result":     result,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var existing models.CommandRecordModel
		if err := r.db.WithContext(ctx).Where("command_id = ?", commandID).First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return shared.ErrNotFound
			}
			return err
		}
		return shared.ErrInvalidState
	}
	return nil
}

// Get returns the ledger entry for commandID, or ErrNotFound
func (r *GormCommandLedger) Get(ctx context.Context, commandID string) (*shared.CommandRecord, error) {
	var row models.CommandRecordModel
	err := r.db.WithContext(ctx).Where("command_id = ?", commandID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return row.ToDomain(), nil
}

// LinkEvents records which events a command produced
func (r *GormCommandLedger) LinkEvents(ctx context.Context, commandID, boundedContext string, eventIDs []uuid.UUID) error {
	if len(eventIDs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]models.CommandEventLinkModel, len(eventIDs))
	for i, id := range eventIDs {
		rows[i] = models.CommandEventLinkModel{
			CommandID:      commandID,
			EventID:        id,
			BoundedContext: boundedContext,
			CreatedAt:      now,
		}
	}
	// Re-linking after a retry is a no-op
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// EventsForCommand returns the event IDs a command produced
func (r *GormCommandLedger) EventsForCommand(ctx context.Context, commandID string) ([]uuid.UUID, error) {
	var rows []models.CommandEventLinkModel
	err := r.db.WithContext(ctx).
		Where("command_id = ?", commandID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(rows))
	for i, row := range rows {
		ids[i] = row.EventID
	}
	return ids, nil
}

// TraceCorrelation returns all commands and events under a correlation ID
func (r *GormCommandLedger) TraceCorrelation(ctx context.Context, correlationID string) (*shared.CorrelationTrace, error) {
	var commandRows []models.CommandRecordModel
	if err := r.db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		Order("created_at ASC").
		Find(&commandRows).Error; err != nil {
		return nil, err
	}

	var eventRows []models.EventModel
	if err := r.db.WithContext(ctx).
		Select("event_id").
		Where("correlation_id = ?", correlationID).
		Order("global_position ASC").
		Find(&eventRows).Error; err != nil {
		return nil, err
	}

	trace := &shared.CorrelationTrace{
		CorrelationID: correlationID,
		Commands:      make([]*shared.CommandRecord, len(commandRows)),
		EventIDs:      make([]uuid.UUID, len(eventRows)),
	}
	for i := range commandRows {
		trace.Commands[i] = commandRows[i].ToDomain()
	}
	for i := range eventRows {
		trace.EventIDs[i] = eventRows[i].EventID
	}
	return trace, nil
}

// DeleteExpired removes records whose TTL window has closed. Records
// without an expiry, and records still inside their window, are never
// touched: they must keep answering duplicate checks.
func (r *GormCommandLedger) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Delete(&models.CommandRecordModel{})
	return res.RowsAffected, res.Error
}

// Ensure GormCommandLedger implements CommandLedger
var _ shared.CommandLedger = (*GormCommandLedger)(nil)
