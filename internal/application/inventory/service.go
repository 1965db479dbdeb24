package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/evercore/backend/internal/application/command"
	"github.com/evercore/backend/internal/application/eventstore"
	"github.com/evercore/backend/internal/application/scope"
	"github.com/evercore/backend/internal/domain/inventory"
	"github.com/evercore/backend/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultCommandTTL is the dedupe window for inventory commands
const DefaultCommandTTL = 24 * time.Hour

// appendRetries bounds the re-read loop when a single-stream append
// loses an optimistic concurrency race
const appendRetries = 3

// Service executes inventory commands against the event store. Every
// command passes through the dedupe ledger first, so a retried command
// resolves to its original outcome instead of re-deciding.
type Service struct {
	events *eventstore.Service
	scopes *scope.Manager
	bus    *command.Bus
	logger *zap.Logger
}

// NewService creates the inventory command service
func NewService(events *eventstore.Service, scopes *scope.Manager, bus *command.Bus, logger *zap.Logger) *Service {
	return &Service{
		events: events,
		scopes: scopes,
		bus:    bus,
		logger: logger,
	}
}

// CommandOutcome is the resolved result of one command submission
type CommandOutcome struct {
	CommandID string               `json:"command_id"`
	Duplicate bool                 `json:"duplicate"`
	Status    shared.CommandStatus `json:"status"`
	Result    json.RawMessage      `json:"result,omitempty"`
}

// commandResult is the JSON recorded in the ledger for a resolved command
type commandResult struct {
	Code       string      `json:"code,omitempty"`
	Message    string      `json:"message,omitempty"`
	EventIDs   []uuid.UUID `json:"event_ids,omitempty"`
	NewVersion int64       `json:"new_version,omitempty"`
}

// CreateProduct handles a CreateProduct command
func (s *Service) CreateProduct(ctx context.Context, commandID string, meta shared.CommandMetadata, cmd inventory.CreateProduct) (*CommandOutcome, error) {
	return s.executeSingle(ctx, commandID, "inventory.create_product", meta, cmd.ProductID, cmd.Decide)
}

// AddStock handles an AddStock command
func (s *Service) AddStock(ctx context.Context, commandID string, meta shared.CommandMetadata, cmd inventory.AddStock) (*CommandOutcome, error) {
	return s.executeSingle(ctx, commandID, "inventory.add_stock", meta, cmd.ProductID, cmd.Decide)
}

// ReserveStock handles a single-product reservation
func (s *Service) ReserveStock(ctx context.Context, commandID string, meta shared.CommandMetadata, cmd inventory.ReserveStock) (*CommandOutcome, error) {
	return s.executeSingle(ctx, commandID, "inventory.reserve_stock", meta, cmd.ProductID, cmd.Decide)
}

// executeSingle runs the read-decide-append loop for one product
// stream: fold the stream into state, run the pure decider, append at
// the version the decision saw, and retry from a fresh read when the
// append loses the race.
func (s *Service) executeSingle(
	ctx context.Context,
	commandID, commandType string,
	meta shared.CommandMetadata,
	productID string,
	decide func(inventory.ProductState) ([]shared.EventPayload, *shared.DomainError),
) (*CommandOutcome, error) {
	recorded, err := s.bus.Record(ctx, command.SubmitCommand{
		CommandID:     commandID,
		CommandType:   commandType,
		TargetContext: inventory.BoundedContext,
		Metadata:      meta,
		TTL:           DefaultCommandTTL,
	})
	if err != nil {
		return nil, err
	}
	if recorded.Duplicate {
		return &CommandOutcome{CommandID: commandID, Duplicate: true, Status: recorded.Status, Result: recorded.Result}, nil
	}

	for attempt := 1; attempt <= appendRetries; attempt++ {
		history, err := s.events.ReadStream(ctx, inventory.StreamTypeProduct, productID, 0, 0)
		if err != nil {
			return nil, err
		}

		state := inventory.NewProductState()
		var version int64
		for _, ev := range history {
			state = state.Apply(ev.Payload)
			version = ev.Record.Version
		}

		payloads, rejection := decide(state)
		if rejection != nil {
			return s.resolve(ctx, commandID, shared.CommandStatusRejected, commandResult{
				Code:    rejection.Code,
				Message: rejection.Message,
			})
		}
		if len(payloads) == 0 {
			// Already answered; nothing new to record
			return s.resolve(ctx, commandID, shared.CommandStatusExecuted, commandResult{NewVersion: version})
		}

		result, err := s.events.Append(ctx, eventstore.AppendRequest{
			StreamType:      inventory.StreamTypeProduct,
			StreamID:        productID,
			ExpectedVersion: version,
			BoundedContext:  inventory.BoundedContext,
			Events:          s.toProposed(commandID, meta, payloads, ""),
		})
		if err != nil {
			return nil, err
		}
		if result.Status == shared.AppendStatusConflict {
			continue
		}

		if err := s.bus.LinkEvents(ctx, commandID, inventory.BoundedContext, result.EventIDs); err != nil {
			return nil, err
		}

		status, code := businessOutcome(payloads)
		return s.resolve(ctx, commandID, status, commandResult{
			Code:       code,
			EventIDs:   result.EventIDs,
			NewVersion: result.NewVersion,
		})
	}

	return s.resolve(ctx, commandID, shared.CommandStatusFailed, commandResult{
		Code:    "CONCURRENCY_CONFLICT",
		Message: fmt.Sprintf("append retries exhausted for product %s", productID),
	})
}

// BatchReserve runs a multi-product reservation through the
// decide-then-commit scope protocol: all lines reserve together or the
// short products record failure events and nothing reserves.
func (s *Service) BatchReserve(ctx context.Context, commandID string, meta shared.CommandMetadata, cmd inventory.BatchReserveStock) (*CommandOutcome, error) {
	recorded, err := s.bus.Record(ctx, command.SubmitCommand{
		CommandID:     commandID,
		CommandType:   "inventory.batch_reserve_stock",
		TargetContext: inventory.BoundedContext,
		Metadata:      meta,
		TTL:           DefaultCommandTTL,
	})
	if err != nil {
		return nil, err
	}
	if recorded.Duplicate {
		return &CommandOutcome{CommandID: commandID, Duplicate: true, Status: recorded.Status, Result: recorded.Result}, nil
	}

	// Malformed batches reject before any version check runs
	if rej := cmd.Validate(); rej != nil {
		return s.resolve(ctx, commandID, shared.CommandStatusRejected, commandResult{
			Code:    rej.Code,
			Message: rej.Message,
		})
	}

	var batch *inventory.BatchDecision
	outcome, err := s.scopes.ExecuteDecision(ctx, cmd.ScopeKey(), inventory.ScopeType, cmd.TenantID,
		func(_ *shared.Scope, _ []*eventstore.DecodedEvent) (*scope.Decision, error) {
			states := make(map[string]inventory.ProductState, len(cmd.Lines))
			versions := make(map[string]int64, len(cmd.Lines))
			for _, line := range cmd.Lines {
				history, err := s.events.ReadStream(ctx, inventory.StreamTypeProduct, line.ProductID, 0, 0)
				if err != nil {
					return nil, err
				}
				state := inventory.NewProductState()
				var version int64
				for _, ev := range history {
					state = state.Apply(ev.Payload)
					version = ev.Record.Version
				}
				states[line.ProductID] = state
				versions[line.ProductID] = version
			}

			decision, rejection := cmd.Decide(states)
			if rejection != nil {
				return &scope.Decision{Rejected: rejection}, nil
			}
			batch = decision

			d := &scope.Decision{}
			for productID, payloads := range decision.Events {
				d.Appends = append(d.Appends, scope.StreamAppend{
					StreamType:      inventory.StreamTypeProduct,
					StreamID:        productID,
					ExpectedVersion: versions[productID],
					BoundedContext:  inventory.BoundedContext,
					Events:          s.toProposed(commandID, meta, payloads, productID),
				})
				d.RegisterStreams = append(d.RegisterStreams, shared.StreamKey{
					StreamType: inventory.StreamTypeProduct,
					StreamID:   productID,
				})
			}
			return d, nil
		})
	if err != nil {
		return nil, err
	}

	switch outcome.Status {
	case scope.DecisionRejected:
		return s.resolve(ctx, commandID, shared.CommandStatusRejected, commandResult{
			Code:    outcome.Rejection.Code,
			Message: outcome.Rejection.Message,
		})
	case scope.DecisionConflict:
		return s.resolve(ctx, commandID, shared.CommandStatusFailed, commandResult{
			Code:    "CONCURRENCY_CONFLICT",
			Message: "scope commit retries exhausted",
		})
	}

	var eventIDs []uuid.UUID
	for _, res := range outcome.AppendResults {
		eventIDs = append(eventIDs, res.EventIDs...)
	}
	if err := s.bus.LinkEvents(ctx, commandID, inventory.BoundedContext, eventIDs); err != nil {
		return nil, err
	}

	if batch != nil && !batch.Succeeded {
		return s.resolve(ctx, commandID, shared.CommandStatusFailed, commandResult{
			Code:     "INSUFFICIENT_STOCK",
			EventIDs: eventIDs,
		})
	}
	return s.resolve(ctx, commandID, shared.CommandStatusExecuted, commandResult{
		EventIDs:   eventIDs,
		NewVersion: outcome.ScopeVersion,
	})
}

// ProductState folds and returns a product's current decision state
func (s *Service) ProductState(ctx context.Context, productID string) (inventory.ProductState, int64, error) {
	history, err := s.events.ReadStream(ctx, inventory.StreamTypeProduct, productID, 0, 0)
	if err != nil {
		return inventory.ProductState{}, 0, err
	}

	state := inventory.NewProductState()
	var version int64
	for _, ev := range history {
		state = state.Apply(ev.Payload)
		version = ev.Record.Version
	}
	return state, version, nil
}

func (s *Service) toProposed(commandID string, meta shared.CommandMetadata, payloads []shared.EventPayload, keySuffix string) []eventstore.ProposedPayload {
	proposed := make([]eventstore.ProposedPayload, len(payloads))
	for i, p := range payloads {
		key := fmt.Sprintf("%s:%d", commandID, i)
		if keySuffix != "" {
			key = fmt.Sprintf("%s:%s:%d", commandID, keySuffix, i)
		}
		proposed[i] = eventstore.ProposedPayload{
			Payload:        p,
			Category:       shared.CategoryDomain,
			CorrelationID:  meta.CorrelationID,
			CausationID:    commandID,
			IdempotencyKey: key,
		}
	}
	return proposed
}

func (s *Service) resolve(ctx context.Context, commandID string, status shared.CommandStatus, result commandResult) (*CommandOutcome, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	if err := s.bus.UpdateResult(ctx, commandID, status, data); err != nil {
		return nil, err
	}
	return &CommandOutcome{CommandID: commandID, Status: status, Result: data}, nil
}

// businessOutcome classifies a decided payload set: a failure event in
// the batch means the command resolved as a business failure even
// though the events committed
func businessOutcome(payloads []shared.EventPayload) (shared.CommandStatus, string) {
	for _, p := range payloads {
		if failed, ok := p.(*inventory.StockReservationFailed); ok {
			return shared.CommandStatusFailed, failed.Code
		}
	}
	return shared.CommandStatusExecuted, ""
}
