package inventory

import (
	"encoding/json"
	"fmt"

	"github.com/evercore/backend/internal/application/eventstore"
	"github.com/evercore/backend/internal/application/procman"
	"github.com/evercore/backend/internal/domain/inventory"
	"github.com/evercore/backend/internal/domain/shared"
)

// ReservationProcessManagerName identifies the reservation PM
const ReservationProcessManagerName = "inventory.reservation"

// reservationProgress is the PM instance's opaque custom state
type reservationProgress struct {
	OrderID  string   `json:"order_id"`
	Reserved []string `json:"reserved"`
	Failed   []string `json:"failed"`
}

// confirmLinePayload is the command payload confirming one reserved line
type confirmLinePayload struct {
	ReservationID string `json:"reservation_id"`
	OrderID       string `json:"order_id"`
	ProductID     string `json:"product_id"`
	Quantity      string `json:"quantity"`
}

// rejectOrderPayload is the command payload rejecting the order
type rejectOrderPayload struct {
	ReservationID string `json:"reservation_id"`
	OrderID       string `json:"order_id"`
	ProductID     string `json:"product_id"`
	Code          string `json:"code"`
}

// NewReservationProcessManager defines the PM that closes the loop on
// reservations: one instance per reservation ID, confirming reserved
// lines to the ordering context and rejecting the order when any line
// fails. The handler is pure; it only returns commands.
func NewReservationProcessManager() *procman.Definition {
	return &procman.Definition{
		Name: ReservationProcessManagerName,
		EventTypes: []string{
			inventory.EventStockReserved,
			inventory.EventStockReservationFailed,
		},
		Resolve: func(rec *shared.EventRecord) string {
			var envelope struct {
				ReservationID string `json:"reservation_id"`
			}
			if err := json.Unmarshal(rec.Payload, &envelope); err != nil {
				return ""
			}
			return envelope.ReservationID
		},
		Handle: handleReservationEvent,
	}
}

func handleReservationEvent(state *shared.ProcessManagerState, ev *eventstore.DecodedEvent) (*procman.HandlerResult, error) {
	progress := reservationProgress{}
	if len(state.CustomState) > 0 {
		if err := json.Unmarshal(state.CustomState, &progress); err != nil {
			return nil, fmt.Errorf("corrupt reservation progress: %w", err)
		}
	}

	switch p := ev.Payload.(type) {
	case *inventory.StockReserved:
		progress.OrderID = p.OrderID
		progress.Reserved = append(progress.Reserved, p.ProductID)

		payload, err := json.Marshal(confirmLinePayload{
			ReservationID: p.ReservationID,
			OrderID:       p.OrderID,
			ProductID:     p.ProductID,
			Quantity:      p.Quantity.String(),
		})
		if err != nil {
			return nil, err
		}
		custom, err := json.Marshal(progress)
		if err != nil {
			return nil, err
		}

		return &procman.HandlerResult{
			Commands: []*shared.QueuedCommand{{
				CommandID:     fmt.Sprintf("%s:confirm:%s", p.ReservationID, p.ProductID),
				CommandType:   "ordering.confirm_reservation_line",
				TargetContext: "ordering",
				Payload:       payload,
			}},
			CustomState: custom,
		}, nil

	case *inventory.StockReservationFailed:
		progress.OrderID = p.OrderID
		progress.Failed = append(progress.Failed, p.ProductID)

		payload, err := json.Marshal(rejectOrderPayload{
			ReservationID: p.ReservationID,
			OrderID:       p.OrderID,
			ProductID:     p.ProductID,
			Code:          p.Code,
		})
		if err != nil {
			return nil, err
		}
		custom, err := json.Marshal(progress)
		if err != nil {
			return nil, err
		}

		// A failed line ends the reservation; sibling successes are
		// compensated by the ordering context
		return &procman.HandlerResult{
			Commands: []*shared.QueuedCommand{{
				CommandID:     fmt.Sprintf("%s:reject", p.ReservationID),
				CommandType:   "ordering.reject_reservation",
				TargetContext: "ordering",
				Payload:       payload,
			}},
			CustomState: custom,
			Completed:   true,
		}, nil

	default:
		return &procman.HandlerResult{}, nil
	}
}
