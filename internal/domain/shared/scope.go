package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Scope is a dynamic consistency boundary: a virtual stream spanning
// multiple aggregates for one atomic decision. Scopes are created lazily
// via get-or-create and advanced only through version-checked commits.
type Scope struct {
	ID             uuid.UUID
	ScopeKey       string
	ScopeType      string
	TenantID       string
	CurrentVersion int64
	Streams        []StreamKey
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ScopeCheckStatus is the outcome of a read-only version pre-flight
type ScopeCheckStatus string

const (
	ScopeCheckMatch    ScopeCheckStatus = "match"
	ScopeCheckMismatch ScopeCheckStatus = "mismatch"
	ScopeCheckNotFound ScopeCheckStatus = "not_found"
)

// ScopeCheckResult carries the current version alongside a mismatch
type ScopeCheckResult struct {
	Status         ScopeCheckStatus
	CurrentVersion int64
}

// ScopeCommitResult is the outcome of CommitScope. On success NewVersion
// holds expectedVersion+1; on conflict CurrentVersion holds the version
// that won the race.
type ScopeCommitResult struct {
	Status         AppendStatus
	NewVersion     int64
	CurrentVersion int64
}

// ScopeRepository persists consistency scopes.
//
// Commit is the sole atomic commit point of the decide-then-commit
// protocol: it advances the scope version with a version-checked update
// and registers any new underlying streams in the same transaction.
type ScopeRepository interface {
	// GetOrCreate returns the scope for scopeKey, creating it at version 0.
	// The second return value reports whether the scope was newly created.
	GetOrCreate(ctx context.Context, scopeKey, scopeType, tenantID string) (*Scope, bool, error)

	// Get returns the scope for scopeKey, or ErrNotFound
	Get(ctx context.Context, scopeKey string) (*Scope, error)

	// Commit advances the scope from expectedVersion to expectedVersion+1
	Commit(ctx context.Context, scopeKey string, expectedVersion int64, streams []StreamKey) (*ScopeCommitResult, error)
}
