package scope

import (
	"context"
	"errors"
	"fmt"

	"github.com/evercore/backend/internal/application/eventstore"
	"github.com/evercore/backend/internal/domain/shared"
	"github.com/evercore/backend/internal/infrastructure/event"
	"go.uber.org/zap"
)

// DefaultMaxCommitRetries bounds decide-then-commit retry loops
const DefaultMaxCommitRetries = 3

// Manager coordinates dynamic consistency boundaries: virtual streams
// spanning several aggregates, advanced only through version-checked
// commits. The commit is the sole atomic decision point; everything
// before it is a pure computation that a conflict simply discards.
type Manager struct {
	scopes     shared.ScopeRepository
	store      shared.EventStore
	codec      *event.PayloadCodec
	tx         shared.TransactionRunner
	logger     *zap.Logger
	maxRetries int
}

// ManagerOption is a functional option for Manager
type ManagerOption func(*Manager)

// WithMaxCommitRetries sets how often a decision is retried on conflict
func WithMaxCommitRetries(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxRetries = n
		}
	}
}

// NewManager creates a scope manager
func NewManager(
	scopes shared.ScopeRepository,
	store shared.EventStore,
	codec *event.PayloadCodec,
	tx shared.TransactionRunner,
	logger *zap.Logger,
	opts ...ManagerOption,
) *Manager {
	m := &Manager{
		scopes:     scopes,
		store:      store,
		codec:      codec,
		tx:         tx,
		logger:     logger,
		maxRetries: DefaultMaxCommitRetries,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrCreateScope returns the scope for scopeKey, creating it lazily
// at version 0. The second return reports whether it was created.
func (m *Manager) GetOrCreateScope(ctx context.Context, scopeKey, scopeType, tenantID string) (*shared.Scope, bool, error) {
	if scopeKey == "" {
		return nil, false, fmt.Errorf("%w: scope key is required", shared.ErrInvalidInput)
	}
	return m.scopes.GetOrCreate(ctx, scopeKey, scopeType, tenantID)
}

// CheckScopeVersion is a read-only pre-flight: it reports whether
// expectedVersion still matches without attempting a commit.
func (m *Manager) CheckScopeVersion(ctx context.Context, scopeKey string, expectedVersion int64) (*shared.ScopeCheckResult, error) {
	scope, err := m.scopes.Get(ctx, scopeKey)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return &shared.ScopeCheckResult{Status: shared.ScopeCheckNotFound}, nil
		}
		return nil, err
	}

	if scope.CurrentVersion != expectedVersion {
		return &shared.ScopeCheckResult{
			Status:         shared.ScopeCheckMismatch,
			CurrentVersion: scope.CurrentVersion,
		}, nil
	}
	return &shared.ScopeCheckResult{
		Status:         shared.ScopeCheckMatch,
		CurrentVersion: scope.CurrentVersion,
	}, nil
}

// CommitScope advances the scope from expectedVersion to
// expectedVersion+1, registering any new streams. Conflicts are a
// returned status, never an error.
func (m *Manager) CommitScope(ctx context.Context, scopeKey string, expectedVersion int64, streams []shared.StreamKey) (*shared.ScopeCommitResult, error) {
	result, err := m.scopes.Commit(ctx, scopeKey, expectedVersion, streams)
	if err != nil {
		return nil, err
	}

	if result.Status == shared.AppendStatusConflict {
		m.logger.Debug("scope commit conflict",
			zap.String("scope_key", scopeKey),
			zap.Int64("expected_version", expectedVersion),
			zap.Int64("current_version", result.CurrentVersion),
		)
	}
	return result, nil
}

// ReadVirtualStream materializes the scope's virtual stream: a
// global-order merge of every registered underlying stream.
func (m *Manager) ReadVirtualStream(ctx context.Context, scopeKey string, fromPosition int64, limit int) ([]*eventstore.DecodedEvent, error) {
	scope, err := m.scopes.Get(ctx, scopeKey)
	if err != nil {
		return nil, err
	}
	if len(scope.Streams) == 0 {
		return nil, nil
	}

	records, err := m.store.ReadStreams(ctx, scope.Streams, fromPosition, limit)
	if err != nil {
		return nil, err
	}
	return eventstore.DecodeAll(m.codec, records)
}
