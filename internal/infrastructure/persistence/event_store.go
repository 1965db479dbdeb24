package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/evercore/backend/internal/domain/shared"
	"github.com/evercore/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormEventStore implements shared.EventStore using GORM.
//
// Appends run inside one database transaction. Per-stream optimistic
// concurrency is checked against MAX(version) and backed by the unique
// (stream_type, stream_id, version) index: a concurrent writer that
// slips past the read check fails the insert, and the violation is
// translated into a conflict result rather than an error.
type GormEventStore struct {
	db *gorm.DB
}

// NewGormEventStore creates a new GORM-based event store
func NewGormEventStore(db *gorm.DB) *GormEventStore {
	return &GormEventStore{db: db}
}

// WithTx returns a new store instance bound to the given transaction
func (s *GormEventStore) WithTx(tx *gorm.DB) *GormEventStore {
	return &GormEventStore{db: tx}
}

// AppendToStream atomically appends a batch of events to one stream
func (s *GormEventStore) AppendToStream(ctx context.Context, streamType, streamID string, expectedVersion int64, boundedContext string, events []shared.ProposedEvent) (*shared.AppendResult, error) {
	if len(events) == 0 {
		return nil, shared.ErrInvalidInput
	}
	if streamType == "" || streamID == "" {
		return nil, shared.ErrInvalidInput
	}

	var result *shared.AppendResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Idempotency gate: a batch carrying an already-seen key returns
		// the originally recorded result and writes nothing.
		keys := idempotencyKeys(events)
		if len(keys) > 0 {
			prior, err := s.findByIdempotencyKeys(tx, keys)
			if err != nil {
				return err
			}
			if len(prior) > 0 {
				result = dedupResult(prior)
				return nil
			}
		}

		current, err := streamVersion(tx, streamType, streamID)
		if err != nil {
			return err
		}
		if current != expectedVersion {
			result = &shared.AppendResult{
				Status:         shared.AppendStatusConflict,
				CurrentVersion: current,
			}
			return nil
		}

		now := time.Now().UTC()
		rows := make([]*models.EventModel, len(events))
		for i, e := range events {
			rows[i] = models.EventModelFromProposed(streamType, streamID, boundedContext, expectedVersion+int64(i)+1, e, now)
		}

		if err := tx.Create(&rows).Error; err != nil {
			if !isUniqueViolation(err) {
				return err
			}
			// Either a concurrent writer took our versions or a concurrent
			// append committed one of our idempotency keys first.
			if len(keys) > 0 {
				prior, lookupErr := s.findByIdempotencyKeys(tx, keys)
				if lookupErr != nil {
					return lookupErr
				}
				if len(prior) > 0 {
					result = dedupResult(prior)
					return nil
				}
			}
			current, verErr := streamVersion(tx, streamType, streamID)
			if verErr != nil {
				return verErr
			}
			result = &shared.AppendResult{
				Status:         shared.AppendStatusConflict,
				CurrentVersion: current,
			}
			return nil
		}

		appended := &shared.AppendResult{
			Status:          shared.AppendStatusSuccess,
			NewVersion:      expectedVersion + int64(len(events)),
			EventIDs:        make([]uuid.UUID, len(rows)),
			GlobalPositions: make([]int64, len(rows)),
		}
		for i, row := range rows {
			appended.EventIDs[i] = row.EventID
			appended.GlobalPositions[i] = row.GlobalPosition
		}
		result = appended
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReadStream returns a stream's events ordered by version ascending
func (s *GormEventStore) ReadStream(ctx context.Context, streamType, streamID string, fromVersion int64, limit int) ([]*shared.EventRecord, error) {
	q := s.db.WithContext(ctx).
		Where("stream_type = ? AND stream_id = ?", streamType, streamID).
		Order("version ASC")
	if fromVersion > 0 {
		q = q.Where("version > ?", fromVersion)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []*models.EventModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

// ReadFromPosition returns globally ordered events after fromPosition
func (s *GormEventStore) ReadFromPosition(ctx context.Context, fromPosition int64, limit int, filter *shared.ReadFilter) ([]*shared.EventRecord, error) {
	q := s.db.WithContext(ctx).
		Where("global_position > ?", fromPosition).
		Order("global_position ASC")
	if filter != nil {
		if len(filter.StreamTypes) > 0 {
			q = q.Where("stream_type IN ?", filter.StreamTypes)
		}
		if len(filter.EventTypes) > 0 {
			q = q.Where("event_type IN ?", filter.EventTypes)
		}
		if len(filter.Categories) > 0 {
			q = q.Where("category IN ?", filter.Categories)
		}
		if len(filter.BoundedContexts) > 0 {
			q = q.Where("bounded_context IN ?", filter.BoundedContexts)
		}
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []*models.EventModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

// ReadStreams returns a globally ordered merge of the given streams
func (s *GormEventStore) ReadStreams(ctx context.Context, streams []shared.StreamKey, fromPosition int64, limit int) ([]*shared.EventRecord, error) {
	if len(streams) == 0 {
		return nil, nil
	}

	q := s.db.WithContext(ctx).
		Where("global_position > ?", fromPosition).
		Where(streamKeysCondition(s.db, streams)).
		Order("global_position ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []*models.EventModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

// GetStreamVersion returns the stream's current version, 0 if absent
func (s *GormEventStore) GetStreamVersion(ctx context.Context, streamType, streamID string) (int64, error) {
	return streamVersion(s.db.WithContext(ctx), streamType, streamID)
}

// GetGlobalPosition returns the highest assigned global position
func (s *GormEventStore) GetGlobalPosition(ctx context.Context) (int64, error) {
	var position int64
	err := s.db.WithContext(ctx).
		Model(&models.EventModel{}).
		Select("COALESCE(MAX(global_position), 0)").
		Scan(&position).Error
	return position, err
}

func (s *GormEventStore) findByIdempotencyKeys(tx *gorm.DB, keys []string) ([]*models.EventModel, error) {
	var rows []*models.EventModel
	err := tx.
		Where("idempotency_key IN ?", keys).
		Order("global_position ASC").
		Find(&rows).Error
	return rows, err
}

// dedupResult reconstructs the original append result from the events
// recorded under the batch's idempotency keys
func dedupResult(prior []*models.EventModel) *shared.AppendResult {
	result := &shared.AppendResult{
		Status:          shared.AppendStatusSuccess,
		Deduplicated:    true,
		EventIDs:        make([]uuid.UUID, len(prior)),
		GlobalPositions: make([]int64, len(prior)),
	}
	for i, row := range prior {
		result.EventIDs[i] = row.EventID
		result.GlobalPositions[i] = row.GlobalPosition
		if row.Version > result.NewVersion {
			result.NewVersion = row.Version
		}
	}
	return result
}

func streamVersion(tx *gorm.DB, streamType, streamID string) (int64, error) {
	var version int64
	err := tx.
		Model(&models.EventModel{}).
		Where("stream_type = ? AND stream_id = ?", streamType, streamID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&version).Error
	return version, err
}

// streamKeysCondition builds an OR of per-stream predicates. Tuple IN is
// not portable across postgres and the sqlite driver used in tests.
func streamKeysCondition(db *gorm.DB, streams []shared.StreamKey) *gorm.DB {
	cond := db.Where("stream_type = ? AND stream_id = ?", streams[0].StreamType, streams[0].StreamID)
	for _, k := range streams[1:] {
		cond = cond.Or(db.Where("stream_type = ? AND stream_id = ?", k.StreamType, k.StreamID))
	}
	return cond
}

func idempotencyKeys(events []shared.ProposedEvent) []string {
	var keys []string
	for _, e := range events {
		if e.IdempotencyKey != "" {
			keys = append(keys, e.IdempotencyKey)
		}
	}
	return keys
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}

func toRecords(rows []*models.EventModel) []*shared.EventRecord {
	records := make([]*shared.EventRecord, len(rows))
	for i, row := range rows {
		records[i] = row.ToDomain()
	}
	return records
}

// Ensure GormEventStore implements EventStore
var _ shared.EventStore = (*GormEventStore)(nil)
