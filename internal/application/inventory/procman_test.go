package inventory

import (
	"encoding/json"
	"testing"

	"github.com/evercore/backend/internal/application/eventstore"
	"github.com/evercore/backend/internal/domain/inventory"
	"github.com/evercore/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodedReservationEvent(payload shared.EventPayload) *eventstore.DecodedEvent {
	data, _ := json.Marshal(payload)
	return &eventstore.DecodedEvent{
		Record: &shared.EventRecord{
			EventType: payload.EventType(),
			Payload:   data,
		},
		Payload: payload,
	}
}

func TestReservationProcessManagerResolvesInstanceFromPayload(t *testing.T) {
	def := NewReservationProcessManager()
	require.Equal(t, ReservationProcessManagerName, def.Name)
	assert.ElementsMatch(t, []string{inventory.EventStockReserved, inventory.EventStockReservationFailed}, def.EventTypes)

	rec := decodedReservationEvent(&inventory.StockReserved{
		ReservationID: "r-1",
		OrderID:       "o-1",
		ProductID:     "p-1",
		Quantity:      decimal.NewFromInt(2),
	}).Record
	assert.Equal(t, "r-1", def.Resolve(rec))

	assert.Empty(t, def.Resolve(&shared.EventRecord{Payload: []byte("not json")}))
}

func TestHandleStockReservedConfirmsLine(t *testing.T) {
	state := &shared.ProcessManagerState{InstanceID: "r-1"}

	result, err := handleReservationEvent(state, decodedReservationEvent(&inventory.StockReserved{
		ReservationID: "r-1",
		OrderID:       "o-1",
		ProductID:     "p-1",
		Quantity:      decimal.NewFromInt(2),
	}))
	require.NoError(t, err)
	assert.False(t, result.Completed, "a confirmed line does not end the reservation")

	require.Len(t, result.Commands, 1)
	cmd := result.Commands[0]
	assert.Equal(t, "r-1:confirm:p-1", cmd.CommandID)
	assert.Equal(t, "ordering.confirm_reservation_line", cmd.CommandType)
	assert.Equal(t, "ordering", cmd.TargetContext)
	assert.JSONEq(t, `{"reservation_id":"r-1","order_id":"o-1","product_id":"p-1","quantity":"2"}`, string(cmd.Payload))

	assert.JSONEq(t, `{"order_id":"o-1","reserved":["p-1"],"failed":null}`, string(result.CustomState))
}

func TestHandleStockReservedAccumulatesProgress(t *testing.T) {
	state := &shared.ProcessManagerState{
		InstanceID:  "r-1",
		CustomState: []byte(`{"order_id":"o-1","reserved":["p-1"]}`),
	}

	result, err := handleReservationEvent(state, decodedReservationEvent(&inventory.StockReserved{
		ReservationID: "r-1",
		OrderID:       "o-1",
		ProductID:     "p-2",
		Quantity:      decimal.NewFromInt(1),
	}))
	require.NoError(t, err)

	var progress struct {
		Reserved []string `json:"reserved"`
	}
	require.NoError(t, json.Unmarshal(result.CustomState, &progress))
	assert.Equal(t, []string{"p-1", "p-2"}, progress.Reserved)
}

func TestHandleStockReservationFailedRejectsOrder(t *testing.T) {
	state := &shared.ProcessManagerState{InstanceID: "r-1"}

	result, err := handleReservationEvent(state, decodedReservationEvent(&inventory.StockReservationFailed{
		ReservationID: "r-1",
		OrderID:       "o-1",
		ProductID:     "p-2",
		Requested:     decimal.NewFromInt(5),
		Available:     decimal.NewFromInt(1),
		Code:          "INSUFFICIENT_STOCK",
	}))
	require.NoError(t, err)
	assert.True(t, result.Completed, "a failed line ends the reservation")

	require.Len(t, result.Commands, 1)
	cmd := result.Commands[0]
	assert.Equal(t, "r-1:reject", cmd.CommandID)
	assert.Equal(t, "ordering.reject_reservation", cmd.CommandType)
	assert.Equal(t, "ordering", cmd.TargetContext)
	assert.JSONEq(t, `{"reservation_id":"r-1","order_id":"o-1","product_id":"p-2","code":"INSUFFICIENT_STOCK"}`, string(cmd.Payload))
}

func TestHandleUnrelatedEventIsNoOp(t *testing.T) {
	state := &shared.ProcessManagerState{InstanceID: "r-1"}

	result, err := handleReservationEvent(state, decodedReservationEvent(&inventory.ProductCreated{
		ProductID: "p-1", TenantID: "t-1", SKU: "SKU-1", Name: "Widget",
	}))
	require.NoError(t, err)
	assert.Empty(t, result.Commands)
	assert.Nil(t, result.CustomState)
	assert.False(t, result.Completed)
}

func TestHandleCorruptProgressState(t *testing.T) {
	state := &shared.ProcessManagerState{
		InstanceID:  "r-1",
		CustomState: []byte("not json"),
	}

	_, err := handleReservationEvent(state, decodedReservationEvent(&inventory.StockReserved{
		ReservationID: "r-1", OrderID: "o-1", ProductID: "p-1", Quantity: decimal.NewFromInt(1),
	}))
	assert.Error(t, err)
}
