package inventory

import (
	"github.com/shopspring/decimal"
)

// Stream and context names for the inventory bounded context
const (
	BoundedContext    = "inventory"
	StreamTypeProduct = "product"
)

// Event type identifiers
const (
	EventProductCreated         = "inventory.product_created"
	EventStockAdded             = "inventory.stock_added"
	EventStockReserved          = "inventory.stock_reserved"
	EventStockReservationFailed = "inventory.stock_reservation_failed"
	EventReservationCompleted   = "inventory.reservation_completed"
)

// ProductCreated records a product entering the catalog
type ProductCreated struct {
	ProductID string          `json:"product_id" validate:"required"`
	TenantID  string          `json:"tenant_id" validate:"required"`
	SKU       string          `json:"sku" validate:"required"`
	Name      string          `json:"name" validate:"required"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (ProductCreated) EventType() string { return EventProductCreated }

// StockAdded records stock arriving for a product.
// Schema v1 carried only product_id and an integer quantity; v2 moved
// quantity to a decimal string and added the reason field.
type StockAdded struct {
	ProductID string          `json:"product_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity" validate:"required"`
	Reason    string          `json:"reason"`
}

func (StockAdded) EventType() string { return EventStockAdded }

// StockAddedV1 is the retired first schema of StockAdded, kept for
// decoding historical events
type StockAddedV1 struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

func (StockAddedV1) EventType() string { return EventStockAdded }

// StockReserved records a successful reservation against one product
type StockReserved struct {
	ReservationID string          `json:"reservation_id" validate:"required"`
	OrderID       string          `json:"order_id"`
	ProductID     string          `json:"product_id" validate:"required"`
	Quantity      decimal.Decimal `json:"quantity" validate:"required"`
}

func (StockReserved) EventType() string { return EventStockReserved }

// StockReservationFailed records a reservation that could not be
// honored. This is a business outcome, not an error: the decision
// committed, the answer was no.
type StockReservationFailed struct {
	ReservationID string          `json:"reservation_id" validate:"required"`
	OrderID       string          `json:"order_id"`
	ProductID     string          `json:"product_id" validate:"required"`
	Requested     decimal.Decimal `json:"requested"`
	Available     decimal.Decimal `json:"available"`
	Code          string          `json:"code"`
}

func (StockReservationFailed) EventType() string { return EventStockReservationFailed }

// ReservationCompleted is the trigger event a reservation process
// manager emits once every product in a batch answered
type ReservationCompleted struct {
	ReservationID string `json:"reservation_id" validate:"required"`
	OrderID       string `json:"order_id"`
	Succeeded     bool   `json:"succeeded"`
}

func (ReservationCompleted) EventType() string { return EventReservationCompleted }
