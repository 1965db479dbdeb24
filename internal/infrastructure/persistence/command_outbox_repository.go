package persistence

import (
	"context"
	"time"

	"github.com/evercore/backend/internal/domain/shared"
	"github.com/evercore/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCommandOutboxRepository implements shared.CommandOutboxRepository using GORM
type GormCommandOutboxRepository struct {
	db *gorm.DB
}

// NewGormCommandOutboxRepository creates a new GORM-based command outbox repository
func NewGormCommandOutboxRepository(db *gorm.DB) *GormCommandOutboxRepository {
	return &GormCommandOutboxRepository{db: db}
}

// WithTx returns a new repository instance bound to the given transaction
func (r *GormCommandOutboxRepository) WithTx(tx *gorm.DB) *GormCommandOutboxRepository {
	return &GormCommandOutboxRepository{db: tx}
}

// Save persists one or more outbox entries
func (r *GormCommandOutboxRepository) Save(ctx context.Context, entries ...*shared.CommandOutboxEntry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([]*models.CommandOutboxModel, len(entries))
	for i, e := range entries {
		rows[i] = models.CommandOutboxModelFromDomain(e)
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

// FindPending retrieves pending entries up to the specified limit
func (r *GormCommandOutboxRepository) FindPending(ctx context.Context, limit int) ([]*shared.CommandOutboxEntry, error) {
	var rows []*models.CommandOutboxModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(shared.OutboxStatusPending)).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return toOutboxEntries(rows), err
}

// FindRetryable retrieves failed entries that are due for retry
func (r *GormCommandOutboxRepository) FindRetryable(ctx context.Context, before time.Time, limit int) ([]*shared.CommandOutboxEntry, error) {
	var rows []*models.CommandOutboxModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ?", string(shared.OutboxStatusFailed), before).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&rows).Error
	return toOutboxEntries(rows), err
}

// MarkProcessing atomically marks entries as processing and returns them
func (r *GormCommandOutboxRepository) MarkProcessing(ctx context.Context, ids []uuid.UUID) ([]*shared.CommandOutboxEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var rows []*models.CommandOutboxModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		// sqlite has no row locks; postgres uses SKIP LOCKED so
		// competing pollers never block on each other's claims
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{
				Strength: "UPDATE",
				Options:  "SKIP LOCKED",
			})
		}
		if err := q.
			Where("id IN ? AND status IN ?", ids, []string{
				string(shared.OutboxStatusPending),
				string(shared.OutboxStatusFailed),
			}).
			Find(&rows).Error; err != nil {
			return err
		}

		if len(rows) == 0 {
			return nil
		}

		rowIDs := make([]uuid.UUID, len(rows))
		for i, row := range rows {
			rowIDs[i] = row.ID
		}

		now := time.Now().UTC()
		if err := tx.Model(&models.CommandOutboxModel{}).
			Where("id IN ?", rowIDs).
			Updates(map[string]interface{}{
				"status":     string(shared.OutboxStatusProcessing),
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		for _, row := range rows {
			row.Status = string(shared.OutboxStatusProcessing)
			row.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toOutboxEntries(rows), nil
}

// Update updates an existing outbox entry
func (r *GormCommandOutboxRepository) Update(ctx context.Context, entry *shared.CommandOutboxEntry) error {
	entry.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Save(models.CommandOutboxModelFromDomain(entry)).Error
}

// DeleteOlderThan deletes sent entries older than the specified time
func (r *GormCommandOutboxRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND processed_at < ?", string(shared.OutboxStatusSent), before).
		Delete(&models.CommandOutboxModel{})
	return res.RowsAffected, res.Error
}

// CountByStatus returns count of entries for each status
func (r *GormCommandOutboxRepository) CountByStatus(ctx context.Context) (map[shared.OutboxStatus]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}

	var results []statusCount
	err := r.db.WithContext(ctx).
		Model(&models.CommandOutboxModel{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[shared.OutboxStatus]int64)
	for _, res := range results {
		counts[shared.OutboxStatus(res.Status)] = res.Count
	}
	return counts, nil
}

func toOutboxEntries(rows []*models.CommandOutboxModel) []*shared.CommandOutboxEntry {
	entries := make([]*shared.CommandOutboxEntry, len(rows))
	for i, row := range rows {
		entries[i] = row.ToDomain()
	}
	return entries
}

// Ensure GormCommandOutboxRepository implements CommandOutboxRepository
var _ shared.CommandOutboxRepository = (*GormCommandOutboxRepository)(nil)
