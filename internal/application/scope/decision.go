package scope

import (
	"context"
	"errors"

	"github.com/evercore/backend/internal/application/eventstore"
	"github.com/evercore/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// StreamAppend is one per-stream batch a decision wants appended
type StreamAppend struct {
	StreamType      string
	StreamID        string
	ExpectedVersion int64
	BoundedContext  string
	Events          []eventstore.ProposedPayload
}

// Decision is the pure outcome of a decide function. Rejected decisions
// commit nothing; otherwise the appends land atomically with the scope
// commit. RegisterStreams widens the scope's virtual stream for future
// reads.
type Decision struct {
	Rejected        *shared.DomainError
	Appends         []StreamAppend
	RegisterStreams []shared.StreamKey
}

// DecideFunc computes a decision from the scope and its full virtual
// stream. It must be pure: no side effects, safe to discard and rerun
// after a conflict.
type DecideFunc func(scope *shared.Scope, history []*eventstore.DecodedEvent) (*Decision, error)

// DecisionStatus is the outcome of ExecuteDecision
type DecisionStatus string

const (
	DecisionCommitted DecisionStatus = "committed"
	DecisionRejected  DecisionStatus = "rejected"
	DecisionConflict  DecisionStatus = "conflict"
)

// DecisionOutcome reports how a decide-then-commit round ended.
// Conflict means every retry lost the race; the caller re-submits or
// surfaces the conflict.
type DecisionOutcome struct {
	Status        DecisionStatus
	ScopeVersion  int64
	Rejection     *shared.DomainError
	AppendResults []*shared.AppendResult
	Attempts      int
}

// errCommitConflict aborts the host transaction so a losing decision
// rolls back its appends
var errCommitConflict = errors.New("scope commit conflict")

// ExecuteDecision runs the decide-then-commit protocol:
//
//  1. get-or-create the scope
//  2. read its virtual stream
//  3. run the pure decide function
//  4. in one transaction, append the decided events and commit the
//     scope against the version the decision was based on
//
// A conflict on any append or on the scope commit rolls the whole
// transaction back, discards the decision, and retries from a fresh
// read. A rejection returns before anything is written.
func (m *Manager) ExecuteDecision(ctx context.Context, scopeKey, scopeType, tenantID string, decide DecideFunc) (*DecisionOutcome, error) {
	outcome := &DecisionOutcome{}

	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		outcome.Attempts = attempt

		scope, _, err := m.scopes.GetOrCreate(ctx, scopeKey, scopeType, tenantID)
		if err != nil {
			return nil, err
		}

		var history []*eventstore.DecodedEvent
		if len(scope.Streams) > 0 {
			records, err := m.store.ReadStreams(ctx, scope.Streams, 0, 0)
			if err != nil {
				return nil, err
			}
			history, err = eventstore.DecodeAll(m.codec, records)
			if err != nil {
				return nil, err
			}
		}

		decision, err := decide(scope, history)
		if err != nil {
			return nil, err
		}

		if decision.Rejected != nil {
			outcome.Status = DecisionRejected
			outcome.Rejection = decision.Rejected
			outcome.ScopeVersion = scope.CurrentVersion
			return outcome, nil
		}

		// Serialize outside the transaction; encoding is pure
		batches := make([][]shared.ProposedEvent, len(decision.Appends))
		for i, a := range decision.Appends {
			batches[i], err = eventstore.EncodeBatch(m.codec, a.Events)
			if err != nil {
				return nil, err
			}
		}

		var results []*shared.AppendResult
		var commitResult *shared.ScopeCommitResult
		err = m.tx.InTransaction(ctx, func(s shared.TxStores) error {
			results = results[:0]
			for i, a := range decision.Appends {
				res, err := s.Events.AppendToStream(ctx, a.StreamType, a.StreamID, a.ExpectedVersion, a.BoundedContext, batches[i])
				if err != nil {
					return err
				}
				if res.Status == shared.AppendStatusConflict {
					return errCommitConflict
				}
				results = append(results, res)
			}

			commitResult, err = s.Scopes.Commit(ctx, scopeKey, scope.CurrentVersion, decision.RegisterStreams)
			if err != nil {
				return err
			}
			if commitResult.Status == shared.AppendStatusConflict {
				return errCommitConflict
			}
			return nil
		})

		if errors.Is(err, errCommitConflict) {
			m.logger.Debug("decision lost the race, retrying from fresh read",
				zap.String("scope_key", scopeKey),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, err
		}

		outcome.Status = DecisionCommitted
		outcome.ScopeVersion = commitResult.NewVersion
		outcome.AppendResults = results
		return outcome, nil
	}

	outcome.Status = DecisionConflict
	m.logger.Warn("decision retries exhausted",
		zap.String("scope_key", scopeKey),
		zap.Int("attempts", outcome.Attempts),
	)
	return outcome, nil
}
