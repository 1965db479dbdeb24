package command

import (
	"context"
	"time"

	"github.com/evercore/backend/internal/domain/shared"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Bus fronts the command-deduplication ledger. Every command enters
// through Record, which either admits it as new or resolves it as a
// duplicate with the original outcome, so retries at any layer above
// produce at most one effect below.
type Bus struct {
	ledger      shared.CommandLedger
	cache       shared.IdempotencyStore
	cacheConfig shared.IdempotencyConfig
	validate    *validator.Validate
	logger      *zap.Logger
}

// BusOption is a functional option for Bus
type BusOption func(*Bus)

// WithDedupeCache installs a fast-path cache in front of the ledger.
// The cache only short-circuits; the ledger stays the source of truth
// and cache errors degrade to ledger-only checks.
func WithDedupeCache(store shared.IdempotencyStore, config shared.IdempotencyConfig) BusOption {
	return func(b *Bus) {
		b.cache = store
		b.cacheConfig = config
	}
}

// NewBus creates a command bus over the ledger
func NewBus(ledger shared.CommandLedger, logger *zap.Logger, opts ...BusOption) *Bus {
	b := &Bus{
		ledger:      ledger,
		cacheConfig: shared.DefaultIdempotencyConfig(),
		validate:    validator.New(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SubmitCommand is the boundary DTO for recording a command
type SubmitCommand struct {
	CommandID     string `validate:"required"`
	CommandType   string `validate:"required"`
	TargetContext string
	Payload       []byte
	Metadata      shared.CommandMetadata
	TTL           time.Duration
}

// Record admits a command into the ledger or resolves it as a
// duplicate. Duplicates return the previously recorded status and
// result unchanged; nothing is re-executed.
func (b *Bus) Record(ctx context.Context, cmd SubmitCommand) (*shared.RecordCommandResult, error) {
	if err := b.validate.Struct(cmd); err != nil {
		return nil, shared.NewDomainError("INVALID_INPUT", err.Error())
	}

	// Fast path: a cache hit still reads the ledger for the recorded
	// outcome, it only saves the insert attempt
	if b.cache != nil && b.cacheConfig.Enabled {
		seen, err := b.cache.IsSeen(ctx, cmd.CommandID)
		if err != nil {
			b.logger.Warn("dedupe cache check failed, falling back to ledger",
				zap.String("command_id", cmd.CommandID),
				zap.Error(err),
			)
		} else if seen {
			record, err := b.ledger.Get(ctx, cmd.CommandID)
			if err == nil {
				b.logger.Debug("duplicate command resolved from cache",
					zap.String("command_id", cmd.CommandID),
					zap.String("status", string(record.Status)),
				)
				return &shared.RecordCommandResult{
					Duplicate: true,
					Status:    record.Status,
					Result:    record.Result,
				}, nil
			}
			// Cache claims seen but the ledger disagrees (expired and
			// swept, or a stale cache); the insert below decides
		}
	}

	issuedAt := cmd.Metadata.Timestamp
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}

	record := &shared.CommandRecord{
		CommandID:     cmd.CommandID,
		CommandType:   cmd.CommandType,
		TargetContext: cmd.TargetContext,
		Payload:       cmd.Payload,
		Status:        shared.CommandStatusPending,
		CorrelationID: cmd.Metadata.CorrelationID,
		UserID:        cmd.Metadata.UserID,
		IssuedAt:      issuedAt,
	}
	if cmd.TTL > 0 {
		expires := issuedAt.Add(cmd.TTL)
		record.ExpiresAt = &expires
	}

	result, err := b.ledger.Record(ctx, record)
	if err != nil {
		return nil, err
	}

	if result.Duplicate {
		b.logger.Debug("duplicate command detected",
			zap.String("command_id", cmd.CommandID),
			zap.String("status", string(result.Status)),
		)
	} else if b.cache != nil && b.cacheConfig.Enabled {
		if _, err := b.cache.MarkSeen(ctx, cmd.CommandID, b.cacheConfig.TTL); err != nil {
			b.logger.Warn("failed to prime dedupe cache",
				zap.String("command_id", cmd.CommandID),
				zap.Error(err),
			)
		}
	}

	return result, nil
}

// UpdateResult sets a command's terminal status exactly once.
// pending is the only state a terminal status may be written from.
func (b *Bus) UpdateResult(ctx context.Context, commandID string, status shared.CommandStatus, result []byte) error {
	if !status.IsTerminal() {
		return shared.NewDomainError("INVALID_INPUT", "command result status must be terminal")
	}

	if err := b.ledger.UpdateResult(ctx, commandID, status, result); err != nil {
		return err
	}

	b.logger.Debug("command resolved",
		zap.String("command_id", commandID),
		zap.String("status", string(status)),
	)
	return nil
}

// Get returns the ledger entry for a command
func (b *Bus) Get(ctx context.Context, commandID string) (*shared.CommandRecord, error) {
	return b.ledger.Get(ctx, commandID)
}

// LinkEvents records which events a command produced
func (b *Bus) LinkEvents(ctx context.Context, commandID, boundedContext string, eventIDs []uuid.UUID) error {
	if len(eventIDs) == 0 {
		return nil
	}
	return b.ledger.LinkEvents(ctx, commandID, boundedContext, eventIDs)
}

// EventsForCommand returns the event IDs a command produced
func (b *Bus) EventsForCommand(ctx context.Context, commandID string) ([]uuid.UUID, error) {
	return b.ledger.EventsForCommand(ctx, commandID)
}

// Trace returns every command and event recorded under a correlation ID
func (b *Bus) Trace(ctx context.Context, correlationID string) (*shared.CorrelationTrace, error) {
	if correlationID == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "correlation id is required")
	}
	return b.ledger.TraceCorrelation(ctx, correlationID)
}

// SweepExpired removes ledger records whose dedupe window has closed
func (b *Bus) SweepExpired(ctx context.Context) (int64, error) {
	deleted, err := b.ledger.DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		b.logger.Info("swept expired command records", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}
