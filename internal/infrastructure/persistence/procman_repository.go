package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/evercore/backend/internal/domain/shared"
	"github.com/evercore/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormProcessManagerStateRepository implements
// shared.ProcessManagerStateRepository using GORM.
//
// Patch applies sparse updates guarded by the state version, so two
// executors racing on the same instance cannot interleave writes: the
// loser observes ErrConcurrencyConflict and re-reads.
type GormProcessManagerStateRepository struct {
	db *gorm.DB
}

// NewGormProcessManagerStateRepository creates a new GORM-based PM state repository
func NewGormProcessManagerStateRepository(db *gorm.DB) *GormProcessManagerStateRepository {
	return &GormProcessManagerStateRepository{db: db}
}

// WithTx returns a new repository instance bound to the given transaction
func (r *GormProcessManagerStateRepository) WithTx(tx *gorm.DB) *GormProcessManagerStateRepository {
	return &GormProcessManagerStateRepository{db: tx}
}

// LoadOrCreate returns the instance state, creating it idle at checkpoint 0
func (r *GormProcessManagerStateRepository) LoadOrCreate(ctx context.Context, name, instanceID string) (*shared.ProcessManagerState, bool, error) {
	if name == "" || instanceID == "" {
		return nil, false, shared.ErrInvalidInput
	}

	var row models.ProcessManagerStateModel
	err := r.db.WithContext(ctx).
		Where("process_manager_name = ? AND instance_id = ?", name, instanceID).
		First(&row).Error
	if err == nil {
		return row.ToDomain(), false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	now := time.Now().UTC()
	row = models.ProcessManagerStateModel{
		ProcessManagerName: name,
		InstanceID:         instanceID,
		Status:             string(shared.ProcessManagerIdle),
		LastGlobalPosition: 0,
		StateVersion:       1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		// Lost a create race: load what the winner wrote
		if isUniqueViolation(err) {
			var existing models.ProcessManagerStateModel
			if err := r.db.WithContext(ctx).
				Where("process_manager_name = ? AND instance_id = ?", name, instanceID).
				First(&existing).Error; err != nil {
				return nil, false, err
			}
			return existing.ToDomain(), false, nil
		}
		return nil, false, err
	}
	return row.ToDomain(), true, nil
}

// Get returns the instance state, or ErrNotFound
func (r *GormProcessManagerStateRepository) Get(ctx context.Context, name, instanceID string) (*shared.ProcessManagerState, error) {
	var row models.ProcessManagerStateModel
	err := r.db.WithContext(ctx).
		Where("process_manager_name = ? AND instance_id = ?", name, instanceID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return row.ToDomain(), nil
}

// Patch applies a sparse update guarded by expectedStateVersion.
// The checkpoint is clamped monotonic: a patch can never move
// last_global_position backwards.
func (r *GormProcessManagerStateRepository) Patch(ctx context.Context, name, instanceID string, expectedStateVersion int64, patch shared.ProcessManagerStatePatch) (*shared.ProcessManagerState, error) {
	updates := map[string]interface{}{
		"state_version": gorm.Expr("state_version + 1"),
		"updated_at":    time.Now().UTC(),
	}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}
	if patch.LastGlobalPosition != nil {
		updates["last_global_position"] = gorm.Expr(
			"CASE WHEN last_global_position < ? THEN ? ELSE last_global_position END",
			*patch.LastGlobalPosition, *patch.LastGlobalPosition,
		)
	}
	if patch.CommandsEmittedDelta != 0 {
		updates["commands_emitted"] = gorm.Expr("commands_emitted + ?", patch.CommandsEmittedDelta)
	}
	if patch.CommandsFailedDelta != 0 {
		updates["commands_failed"] = gorm.Expr("commands_failed + ?", patch.CommandsFailedDelta)
	}
	if patch.CustomState != nil {
		updates["custom_state"] = patch.CustomState
	}
	if patch.CorrelationID != nil {
		updates["correlation_id"] = *patch.CorrelationID
	}
	if patch.TriggerEventID != nil {
		updates["trigger_event_id"] = *patch.TriggerEventID
	}
	if patch.ErrorMessage != nil {
		updates["error_message"] = *patch.ErrorMessage
	}

	res := r.db.WithContext(ctx).
		Model(&models.ProcessManagerStateModel{}).
		Where("process_manager_name = ? AND instance_id = ? AND state_version = ?", name, instanceID, expectedStateVersion).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, name, instanceID); err != nil {
			return nil, err
		}
		return nil, shared.ErrConcurrencyConflict
	}
	return r.Get(ctx, name, instanceID)
}

// ListByStatus returns instances of a PM in the given status
func (r *GormProcessManagerStateRepository) ListByStatus(ctx context.Context, name string, status shared.ProcessManagerStatus, limit int) ([]*shared.ProcessManagerState, error) {
	q := r.db.WithContext(ctx).
		Where("process_manager_name = ? AND status = ?", name, string(status)).
		Order("updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []models.ProcessManagerStateModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	states := make([]*shared.ProcessManagerState, len(rows))
	for i := range rows {
		states[i] = rows[i].ToDomain()
	}
	return states, nil
}

// Ensure GormProcessManagerStateRepository implements the interface
var _ shared.ProcessManagerStateRepository = (*GormProcessManagerStateRepository)(nil)
