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

// GormScopeRepository implements shared.ScopeRepository using GORM.
//
// Commit advances the scope with `UPDATE ... WHERE current_version = ?`;
// a zero row count means another committer won the race and the caller
// gets a conflict result. This makes the scope-commit conflict check a
// hard invariant rather than best-effort.
type GormScopeRepository struct {
	db *gorm.DB
}

// NewGormScopeRepository creates a new GORM-based scope repository
func NewGormScopeRepository(db *gorm.DB) *GormScopeRepository {
	return &GormScopeRepository{db: db}
}

// WithTx returns a new repository instance bound to the given transaction
func (r *GormScopeRepository) WithTx(tx *gorm.DB) *GormScopeRepository {
	return &GormScopeRepository{db: tx}
}

// GetOrCreate returns the scope for scopeKey, creating it at version 0
func (r *GormScopeRepository) GetOrCreate(ctx context.Context, scopeKey, scopeType, tenantID string) (*shared.Scope, bool, error) {
	if scopeKey == "" {
		return nil, false, shared.ErrInvalidInput
	}

	var scope *shared.Scope
	var created bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.ScopeModel
		err := tx.Where("scope_key = ?", scopeKey).First(&row).Error
		if err == nil {
			scope, err = r.attachStreams(tx, &row)
			return err
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		row = models.ScopeModel{
			ID:             uuid.New(),
			ScopeKey:       scopeKey,
			ScopeType:      scopeType,
			TenantID:       tenantID,
			CurrentVersion: 0,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Create(&row).Error; err != nil {
			// Lost a create race: another caller registered the scope first
			if isUniqueViolation(err) {
				var existing models.ScopeModel
				if err := tx.Where("scope_key = ?", scopeKey).First(&existing).Error; err != nil {
					return err
				}
				scope, err = r.attachStreams(tx, &existing)
				return err
			}
			return err
		}
		created = true
		scope = row.ToDomain()
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return scope, created, nil
}

// Get returns the scope for scopeKey, or ErrNotFound
func (r *GormScopeRepository) Get(ctx context.Context, scopeKey string) (*shared.Scope, error) {
	var row models.ScopeModel
	err := r.db.WithContext(ctx).Where("scope_key = ?", scopeKey).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return r.attachStreams(r.db.WithContext(ctx), &row)
}

// Commit advances the scope from expectedVersion to expectedVersion+1
// and registers any new underlying streams in the same transaction
func (r *GormScopeRepository) Commit(ctx context.Context, scopeKey string, expectedVersion int64, streams []shared.StreamKey) (*shared.ScopeCommitResult, error) {
	var result *shared.ScopeCommitResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.ScopeModel
		if err := tx.Where("scope_key = ?", scopeKey).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return shared.ErrNotFound
			}
			return err
		}

		res := tx.Model(&models.ScopeModel{}).
			Where("scope_key = ? AND current_version = ?", scopeKey, expectedVersion).
			Updates(map[string]interface{}{
				"current_version": expectedVersion + 1,
				"updated_at":      time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Re-read for the loser's benefit: report who won
			var current models.ScopeModel
			if err := tx.Where("scope_key = ?", scopeKey).First(&current).Error; err != nil {
				return err
			}
			result = &shared.ScopeCommitResult{
				Status:         shared.AppendStatusConflict,
				CurrentVersion: current.CurrentVersion,
			}
			return nil
		}

		if len(streams) > 0 {
			rows := make([]models.ScopeStreamModel, len(streams))
			now := time.Now().UTC()
			for i, k := range streams {
				rows[i] = models.ScopeStreamModel{
					ScopeID:    row.ID,
					StreamType: k.StreamType,
					StreamID:   k.StreamID,
					CreatedAt:  now,
				}
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
				return err
			}
		}

		result = &shared.ScopeCommitResult{
			Status:     shared.AppendStatusSuccess,
			NewVersion: expectedVersion + 1,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *GormScopeRepository) attachStreams(tx *gorm.DB, row *models.ScopeModel) (*shared.Scope, error) {
	var streamRows []models.ScopeStreamModel
	if err := tx.
		Where("scope_id = ?", row.ID).
		Order("created_at ASC").
		Find(&streamRows).Error; err != nil {
		return nil, err
	}
	scope := row.ToDomain()
	scope.Streams = make([]shared.StreamKey, len(streamRows))
	for i, s := range streamRows {
		scope.Streams[i] = shared.StreamKey{StreamType: s.StreamType, StreamID: s.StreamID}
	}
	return scope, nil
}

// Ensure GormScopeRepository implements ScopeRepository
var _ shared.ScopeRepository = (*GormScopeRepository)(nil)
