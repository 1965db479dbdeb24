package inventory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/evercore/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Deciders are pure: state plus command in, payloads or a rejection
// out. A rejection means nothing may be committed; an emitted
// failure event (insufficient stock) is a committed business outcome.

// CreateProduct registers a product in the catalog
type CreateProduct struct {
	ProductID string
	TenantID  string
	SKU       string
	Name      string
	UnitPrice decimal.Decimal
}

// Decide validates the command against current state
func (c CreateProduct) Decide(state ProductState) ([]shared.EventPayload, *shared.DomainError) {
	if state.Exists {
		return nil, shared.NewDomainError("ALREADY_EXISTS", fmt.Sprintf("product %s already exists", c.ProductID))
	}
	if c.ProductID == "" || c.SKU == "" || c.Name == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "product id, sku and name are required")
	}
	if c.UnitPrice.IsNegative() {
		return nil, shared.NewDomainError("INVALID_INPUT", "unit price cannot be negative")
	}

	return []shared.EventPayload{&ProductCreated{
		ProductID: c.ProductID,
		TenantID:  c.TenantID,
		SKU:       c.SKU,
		Name:      c.Name,
		UnitPrice: c.UnitPrice,
	}}, nil
}

// AddStock increases a product's available quantity
type AddStock struct {
	ProductID string
	Quantity  decimal.Decimal
	Reason    string
}

// Decide validates the command against current state
func (c AddStock) Decide(state ProductState) ([]shared.EventPayload, *shared.DomainError) {
	if !state.Exists {
		return nil, shared.NewDomainError("NOT_FOUND", fmt.Sprintf("product %s does not exist", c.ProductID))
	}
	if !c.Quantity.IsPositive() {
		return nil, shared.NewDomainError("INVALID_INPUT", "quantity must be positive")
	}

	return []shared.EventPayload{&StockAdded{
		ProductID: c.ProductID,
		Quantity:  c.Quantity,
		Reason:    c.Reason,
	}}, nil
}

// ReserveStock reserves quantity against one product
type ReserveStock struct {
	ReservationID string
	OrderID       string
	ProductID     string
	Quantity      decimal.Decimal
}

// Decide answers a reservation. Insufficient stock is not a rejection:
// the decision commits a StockReservationFailed event so downstream
// process managers observe the outcome.
func (c ReserveStock) Decide(state ProductState) ([]shared.EventPayload, *shared.DomainError) {
	if !state.Exists {
		return nil, shared.NewDomainError("NOT_FOUND", fmt.Sprintf("product %s does not exist", c.ProductID))
	}
	if c.ReservationID == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "reservation id is required")
	}
	if !c.Quantity.IsPositive() {
		return nil, shared.NewDomainError("INVALID_INPUT", "quantity must be positive")
	}
	if state.HasReservation(c.ReservationID) {
		// The reservation already answered; re-deciding it is a no-op
		return nil, nil
	}

	if state.Available.LessThan(c.Quantity) {
		return []shared.EventPayload{&StockReservationFailed{
			ReservationID: c.ReservationID,
			OrderID:       c.OrderID,
			ProductID:     c.ProductID,
			Requested:     c.Quantity,
			Available:     state.Available,
			Code:          "INSUFFICIENT_STOCK",
		}}, nil
	}

	return []shared.EventPayload{&StockReserved{
		ReservationID: c.ReservationID,
		OrderID:       c.OrderID,
		ProductID:     c.ProductID,
		Quantity:      c.Quantity,
	}}, nil
}

// ReservationLine is one product's share of a batch reservation
type ReservationLine struct {
	ProductID string
	Quantity  decimal.Decimal
}

// BatchReserveStock reserves quantities across several products as one
// all-or-nothing decision over a consistency scope
type BatchReserveStock struct {
	ReservationID string
	OrderID       string
	TenantID      string
	Lines         []ReservationLine
}

// ScopeType is the scope type used by batch reservations
const ScopeType = "inventory.batch_reservation"

// BatchScopeKey derives the deterministic scope key of a product set:
// same products, same key, regardless of ordering
func BatchScopeKey(tenantID string, productIDs []string) string {
	ids := make([]string, len(productIDs))
	copy(ids, productIDs)
	sort.Strings(ids)
	return fmt.Sprintf("reservation:%s:%s", tenantID, strings.Join(ids, "+"))
}

// ScopeKey returns the batch's scope key
func (c BatchReserveStock) ScopeKey() string {
	ids := make([]string, len(c.Lines))
	for i, line := range c.Lines {
		ids[i] = line.ProductID
	}
	return BatchScopeKey(c.TenantID, ids)
}

// Validate rejects malformed batches before any version check runs.
// Duplicate product IDs in one request are a rejection, not a merge.
func (c BatchReserveStock) Validate() *shared.DomainError {
	if c.ReservationID == "" {
		return shared.NewDomainError("INVALID_INPUT", "reservation id is required")
	}
	if len(c.Lines) == 0 {
		return shared.NewDomainError("INVALID_INPUT", "batch reservation needs at least one line")
	}

	seen := make(map[string]struct{}, len(c.Lines))
	for _, line := range c.Lines {
		if line.ProductID == "" {
			return shared.NewDomainError("INVALID_INPUT", "every line needs a product id")
		}
		if !line.Quantity.IsPositive() {
			return shared.NewDomainError("INVALID_INPUT", "every line quantity must be positive")
		}
		if _, dup := seen[line.ProductID]; dup {
			return shared.NewDomainError("REJECTED", fmt.Sprintf("duplicate product %s in batch", line.ProductID))
		}
		seen[line.ProductID] = struct{}{}
	}
	return nil
}

// BatchDecision is the all-or-nothing outcome of a batch reservation
type BatchDecision struct {
	// Succeeded is true when every line fits its product's availability
	Succeeded bool
	// Events holds per-product payloads: all StockReserved on success,
	// or one StockReservationFailed per short product on failure
	Events map[string][]shared.EventPayload
}

// Decide computes the batch outcome from the per-product states. Either
// every product reserves, or none does and each short product records a
// failure event.
func (c BatchReserveStock) Decide(states map[string]ProductState) (*BatchDecision, *shared.DomainError) {
	if rej := c.Validate(); rej != nil {
		return nil, rej
	}

	for _, line := range c.Lines {
		state, ok := states[line.ProductID]
		if !ok || !state.Exists {
			return nil, shared.NewDomainError("NOT_FOUND", fmt.Sprintf("product %s does not exist", line.ProductID))
		}
		if state.HasReservation(c.ReservationID) {
			// The whole batch shares one reservation ID; any product
			// having answered means the batch already decided
			return &BatchDecision{Succeeded: false, Events: nil}, nil
		}
	}

	var short []ReservationLine
	for _, line := range c.Lines {
		if states[line.ProductID].Available.LessThan(line.Quantity) {
			short = append(short, line)
		}
	}

	decision := &BatchDecision{Events: make(map[string][]shared.EventPayload, len(c.Lines))}
	if len(short) > 0 {
		for _, line := range short {
			decision.Events[line.ProductID] = []shared.EventPayload{&StockReservationFailed{
				ReservationID: c.ReservationID,
				OrderID:       c.OrderID,
				ProductID:     line.ProductID,
				Requested:     line.Quantity,
				Available:     states[line.ProductID].Available,
				Code:          "INSUFFICIENT_STOCK",
			}}
		}
		return decision, nil
	}

	decision.Succeeded = true
	for _, line := range c.Lines {
		decision.Events[line.ProductID] = []shared.EventPayload{&StockReserved{
			ReservationID: c.ReservationID,
			OrderID:       c.OrderID,
			ProductID:     line.ProductID,
			Quantity:      line.Quantity,
		}}
	}
	return decision, nil
}
