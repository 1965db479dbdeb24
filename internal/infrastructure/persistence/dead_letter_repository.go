package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/evercore/backend/internal/domain/shared"
	"github.com/evercore/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormDeadLetterRepository implements shared.DeadLetterRepository using GORM
type GormDeadLetterRepository struct {
	db *gorm.DB
}

// NewGormDeadLetterRepository creates a new GORM-based dead letter repository
func NewGormDeadLetterRepository(db *gorm.DB) *GormDeadLetterRepository {
	return &GormDeadLetterRepository{db: db}
}

// WithTx returns a new repository instance bound to the given transaction
func (r *GormDeadLetterRepository) WithTx(tx *gorm.DB) *GormDeadLetterRepository {
	return &GormDeadLetterRepository{db: tx}
}

// Upsert creates a pending entry or increments an existing pending
// entry's attempt count. A non-pending entry is returned untouched.
func (r *GormDeadLetterRepository) Upsert(ctx context.Context, letter *shared.DeadLetter) (*shared.DeadLetter, error) {
	if letter.ProcessManagerName == "" || letter.InstanceID == "" {
		return nil, shared.ErrInvalidInput
	}

	var result *shared.DeadLetter
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.DeadLetterModel
		err := tx.
			Where("process_manager_name = ? AND instance_id = ? AND event_id = ?",
				letter.ProcessManagerName, letter.InstanceID, letter.EventID).
			First(&existing).Error

		if err == nil {
			if shared.DeadLetterStatus(existing.Status) != shared.DeadLetterPending {
				// Resolved letters are immutable to repeat failures
				result = existing.ToDomain()
				return nil
			}
			updates := map[string]interface{}{
				"attempt_count": gorm.Expr("attempt_count + 1"),
				"error":         letter.Error,
				"updated_at":    time.Now().UTC(),
			}
			if letter.FailedCommand != nil {
				updates["failed_command"] = letter.FailedCommand
			}
			if err := tx.Model(&existing).Updates(updates).Error; err != nil {
				return err
			}
			var refreshed models.DeadLetterModel
			if err := tx.Where("id = ?", existing.ID).First(&refreshed).Error; err != nil {
				return err
			}
			result = refreshed.ToDomain()
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		row := models.DeadLetterModel{
			ID:                 uuid.New(),
			ProcessManagerName: letter.ProcessManagerName,
			InstanceID:         letter.InstanceID,
			EventID:            letter.EventID,
			AttemptCount:       1,
			Error:              letter.Error,
			FailedCommand:      letter.FailedCommand,
			Event:              letter.Event,
			Status:             string(shared.DeadLetterPending),
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		result = row.ToDomain()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Get returns a dead letter by ID, or ErrNotFound
func (r *GormDeadLetterRepository) Get(ctx context.Context, id uuid.UUID) (*shared.DeadLetter, error) {
	var row models.DeadLetterModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return row.ToDomain(), nil
}

// Find returns dead letters matching the filter with a total count
func (r *GormDeadLetterRepository) Find(ctx context.Context, filter shared.DeadLetterFilter) ([]*shared.DeadLetter, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.DeadLetterModel{})
	if filter.ProcessManagerName != "" {
		q = q.Where("process_manager_name = ?", filter.ProcessManagerName)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 50
	}

	var rows []models.DeadLetterModel
	if err := q.
		Order("updated_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	letters := make([]*shared.DeadLetter, len(rows))
	for i := range rows {
		letters[i] = rows[i].ToDomain()
	}
	return letters, total, nil
}

// Resolve moves a pending entry to replayed or ignored. Both are
// terminal; resolving an already-resolved entry returns ErrInvalidState.
func (r *GormDeadLetterRepository) Resolve(ctx context.Context, id uuid.UUID, status shared.DeadLetterStatus) error {
	if status != shared.DeadLetterReplayed && status != shared.DeadLetterIgnored {
		return shared.ErrInvalidInput
	}

	res := r.db.WithContext(ctx).
		Model(&models.DeadLetterModel{}).
		Where("id = ? AND status = ?", id, string(shared.DeadLetterPending)).
		Updates(map[string]interface{}{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var row models.DeadLetterModel
		if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return shared.ErrNotFound
			}
			return err
		}
		return shared.ErrInvalidState
	}
	return nil
}

// Ensure GormDeadLetterRepository implements DeadLetterRepository
var _ shared.DeadLetterRepository = (*GormDeadLetterRepository)(nil)
