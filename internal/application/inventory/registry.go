package inventory

import (
	"fmt"

	"github.com/evercore/backend/internal/domain/inventory"
	"github.com/evercore/backend/internal/domain/shared"
	"github.com/evercore/backend/internal/infrastructure/event"
)

// RegisterPayloads wires the inventory event schemas into the codec.
// StockAdded is on schema v2; the v1 upgrader turns the old integer
// quantity into the decimal string form and fills the reason field.
func RegisterPayloads(codec *event.PayloadCodec) error {
	codec.Register(&inventory.ProductCreated{})
	codec.Register(&inventory.StockReserved{})
	codec.Register(&inventory.StockReservationFailed{})
	codec.Register(&inventory.ReservationCompleted{})

	stockAddedV1ToV2 := event.NewBasePayloadUpgrader(1, 2, func(data map[string]any) (map[string]any, error) {
		qty, ok := data["quantity"]
		if !ok {
			return nil, fmt.Errorf("stock_added v1 payload has no quantity")
		}
		data["quantity"] = fmt.Sprintf("%v", qty)
		if _, ok := data["reason"]; !ok {
			data["reason"] = ""
		}
		return data, nil
	})

	return codec.RegisterVersioned(
		inventory.EventStockAdded,
		2,
		map[int]shared.EventPayload{
			1: &inventory.StockAddedV1{},
			2: &inventory.StockAdded{},
		},
		stockAddedV1ToV2,
	)
}
