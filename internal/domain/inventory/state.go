package inventory

import (
	"github.com/evercore/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// ProductState is the decision state of one product, folded from its
// event stream. It tracks only what the deciders need.
type ProductState struct {
	Exists       bool
	ProductID    string
	TenantID     string
	SKU          string
	Name         string
	Available    decimal.Decimal
	Reserved     decimal.Decimal
	Reservations map[string]struct{}
}

// NewProductState returns the empty state of an unseen product
func NewProductState() ProductState {
	return ProductState{
		Available:    decimal.Zero,
		Reserved:     decimal.Zero,
		Reservations: make(map[string]struct{}),
	}
}

// Apply folds one event payload into the state. Unknown payload types
// are ignored so states stay forward-compatible with new event types.
func (s ProductState) Apply(payload shared.EventPayload) ProductState {
	switch p := payload.(type) {
	case *ProductCreated:
		s.Exists = true
		s.ProductID = p.ProductID
		s.TenantID = p.TenantID
		s.SKU = p.SKU
		s.Name = p.Name
	case *StockAdded:
		s.Available = s.Available.Add(p.Quantity)
	case *StockReserved:
		s.Available = s.Available.Sub(p.Quantity)
		s.Reserved = s.Reserved.Add(p.Quantity)
		s.Reservations[p.ReservationID] = struct{}{}
	case *StockReservationFailed:
		s.Reservations[p.ReservationID] = struct{}{}
	}
	return s
}

// FoldProduct replays a payload sequence into a product state
func FoldProduct(payloads []shared.EventPayload) ProductState {
	state := NewProductState()
	for _, p := range payloads {
		state = state.Apply(p)
	}
	return state
}

// HasReservation reports whether a reservation ID already answered,
// successfully or not
func (s ProductState) HasReservation(reservationID string) bool {
	_, ok := s.Reservations[reservationID]
	return ok
}
