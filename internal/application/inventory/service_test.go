package inventory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/evercore/backend/internal/application/command"
	"github.com/evercore/backend/internal/application/eventstore"
	"github.com/evercore/backend/internal/application/scope"
	"github.com/evercore/backend/internal/domain/inventory"
	"github.com/evercore/backend/internal/domain/shared"
	"github.com/evercore/backend/internal/infrastructure/event"
	"github.com/evercore/backend/internal/infrastructure/persistence"
	"github.com/evercore/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type serviceFixture struct {
	service *Service
	events  *eventstore.Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.EventModel{},
		&models.ScopeModel{},
		&models.ScopeStreamModel{},
		&models.CommandRecordModel{},
		&models.CommandEventLinkModel{},
		&models.CommandOutboxModel{},
	))

	codec := eventCodec(t)

	store := persistence.NewGormEventStore(db)
	scopeRepo := persistence.NewGormScopeRepository(db)
	ledger := persistence.NewGormCommandLedger(db)
	outbox := persistence.NewGormCommandOutboxRepository(db)
	uow := persistence.NewUnitOfWork(db, store, scopeRepo, ledger, outbox)

	log := zap.NewNop()
	events := eventstore.NewService(store, codec, log)
	scopes := scope.NewManager(scopeRepo, store, codec, uow, log)
	bus := command.NewBus(ledger, log)

	return &serviceFixture{
		service: NewService(events, scopes, bus, log),
		events:  events,
	}
}

func eventCodec(t *testing.T) *event.PayloadCodec {
	t.Helper()
	codec := event.NewPayloadCodec()
	require.NoError(t, RegisterPayloads(codec))
	return codec
}

func meta() shared.CommandMetadata {
	return shared.CommandMetadata{CorrelationID: "corr-1"}
}

func decodeResult(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func (f *serviceFixture) seedProduct(t *testing.T, productID string, available int64) {
	t.Helper()
	ctx := context.Background()

	_, err := f.service.CreateProduct(ctx, "create:"+productID, meta(), inventory.CreateProduct{
		ProductID: productID,
		TenantID:  "t-1",
		SKU:       "SKU-" + productID,
		Name:      "Product " + productID,
		UnitPrice: decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	if available > 0 {
		_, err = f.service.AddStock(ctx, "stock:"+productID, meta(), inventory.AddStock{
			ProductID: productID,
			Quantity:  decimal.NewFromInt(available),
			Reason:    "initial",
		})
		require.NoError(t, err)
	}
}

func TestCreateProductThenDuplicate(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	cmd := inventory.CreateProduct{
		ProductID: "p-1",
		TenantID:  "t-1",
		SKU:       "SKU-1",
		Name:      "Widget",
		UnitPrice: decimal.NewFromInt(5),
	}

	outcome, err := f.service.CreateProduct(ctx, "cmd-1", meta(), cmd)
	require.NoError(t, err)
	assert.False(t, outcome.Duplicate)
	assert.Equal(t, shared.CommandStatusExecuted, outcome.Status)
	assert.Equal(t, float64(1), decodeResult(t, outcome.Result)["new_version"])

	// The retry resolves from the ledger without re-deciding
	dup, err := f.service.CreateProduct(ctx, "cmd-1", meta(), cmd)
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, shared.CommandStatusExecuted, dup.Status)
	assert.JSONEq(t, string(outcome.Result), string(dup.Result))

	state, version, err := f.service.ProductState(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, state.Exists)
	assert.Equal(t, int64(1), version)
}

func TestCreateProductAlreadyExistsRejected(t *testing.T) {
	f := newServiceFixture(t)
	f.seedProduct(t, "p-1", 0)

	outcome, err := f.service.CreateProduct(context.Background(), "cmd-2", meta(), inventory.CreateProduct{
		ProductID: "p-1",
		TenantID:  "t-1",
		SKU:       "SKU-1",
		Name:      "Widget",
		UnitPrice: decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	assert.Equal(t, shared.CommandStatusRejected, outcome.Status)
	assert.Equal(t, "ALREADY_EXISTS", decodeResult(t, outcome.Result)["code"])
}

func TestAddStockUnknownProductRejected(t *testing.T) {
	f := newServiceFixture(t)

	outcome, err := f.service.AddStock(context.Background(), "cmd-3", meta(), inventory.AddStock{
		ProductID: "ghost",
		Quantity:  decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	assert.Equal(t, shared.CommandStatusRejected, outcome.Status)
	assert.Equal(t, "NOT_FOUND", decodeResult(t, outcome.Result)["code"])
}

func TestReserveStock(t *testing.T) {
	f := newServiceFixture(t)
	f.seedProduct(t, "p-1", 10)
	ctx := context.Background()

	outcome, err := f.service.ReserveStock(ctx, "cmd-4", meta(), inventory.ReserveStock{
		ReservationID: "r-1",
		OrderID:       "o-1",
		ProductID:     "p-1",
		Quantity:      decimal.NewFromInt(4),
	})
	require.NoError(t, err)
	assert.Equal(t, shared.CommandStatusExecuted, outcome.Status)

	state, _, err := f.service.ProductState(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, state.Available.Equal(decimal.NewFromInt(6)))
	assert.True(t, state.Reserved.Equal(decimal.NewFromInt(4)))
	assert.True(t, state.HasReservation("r-1"))
}

func TestReserveStockInsufficientIsBusinessFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.seedProduct(t, "p-1", 3)
	ctx := context.Background()

	outcome, err := f.service.ReserveStock(ctx, "cmd-5", meta(), inventory.ReserveStock{
		ReservationID: "r-1",
		OrderID:       "o-1",
		ProductID:     "p-1",
		Quantity:      decimal.NewFromInt(5),
	})
	require.NoError(t, err)

	// Failed, not rejected: the outcome is recorded as an event
	assert.Equal(t, shared.CommandStatusFailed, outcome.Status)
	assert.Equal(t, "INSUFFICIENT_STOCK", decodeResult(t, outcome.Result)["code"])

	history, err := f.events.ReadStream(ctx, inventory.StreamTypeProduct, "p-1", 0, 0)
	require.NoError(t, err)
	last := history[len(history)-1].Payload
	failed, ok := last.(*inventory.StockReservationFailed)
	require.True(t, ok)
	assert.Equal(t, "r-1", failed.ReservationID)
	assert.True(t, failed.Available.Equal(decimal.NewFromInt(3)))

	state, _, err := f.service.ProductState(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, state.Available.Equal(decimal.NewFromInt(3)), "stock untouched")
	assert.True(t, state.HasReservation("r-1"), "reservation remembered as answered")
}

func TestReserveStockAnsweredReservationResolvesWithoutNewEvents(t *testing.T) {
	f := newServiceFixture(t)
	f.seedProduct(t, "p-1", 10)
	ctx := context.Background()

	_, err := f.service.ReserveStock(ctx, "cmd-6", meta(), inventory.ReserveStock{
		ReservationID: "r-1", OrderID: "o-1", ProductID: "p-1", Quantity: decimal.NewFromInt(4),
	})
	require.NoError(t, err)

	// Same reservation under a fresh command ID: the decider sees it
	// already answered and emits nothing
	outcome, err := f.service.ReserveStock(ctx, "cmd-7", meta(), inventory.ReserveStock{
		ReservationID: "r-1", OrderID: "o-1", ProductID: "p-1", Quantity: decimal.NewFromInt(4),
	})
	require.NoError(t, err)
	assert.Equal(t, shared.CommandStatusExecuted, outcome.Status)

	state, version, err := f.service.ProductState(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), version)
	assert.True(t, state.Reserved.Equal(decimal.NewFromInt(4)))
}

func TestBatchReserveAllSucceed(t *testing.T) {
	f := newServiceFixture(t)
	f.seedProduct(t, "p-1", 10)
	f.seedProduct(t, "p-2", 10)
	ctx := context.Background()

	outcome, err := f.service.BatchReserve(ctx, "cmd-8", meta(), inventory.BatchReserveStock{
		ReservationID: "r-1",
		OrderID:       "o-1",
		TenantID:      "t-1",
		Lines: []inventory.ReservationLine{
			{ProductID: "p-1", Quantity: decimal.NewFromInt(2)},
			{ProductID: "p-2", Quantity: decimal.NewFromInt(3)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, shared.CommandStatusExecuted, outcome.Status)

	for productID, want := range map[string]int64{"p-1": 2, "p-2": 3} {
		state, _, err := f.service.ProductState(ctx, productID)
		require.NoError(t, err)
		assert.True(t, state.Reserved.Equal(decimal.NewFromInt(want)), productID)
	}
}

func TestBatchReserveAllOrNothing(t *testing.T) {
	f := newServiceFixture(t)
	f.seedProduct(t, "p-1", 10)
	f.seedProduct(t, "p-2", 1)
	ctx := context.Background()

	outcome, err := f.service.BatchReserve(ctx, "cmd-9", meta(), inventory.BatchReserveStock{
		ReservationID: "r-1",
		OrderID:       "o-1",
		TenantID:      "t-1",
		Lines: []inventory.ReservationLine{
			{ProductID: "p-1", Quantity: decimal.NewFromInt(2)},
			{ProductID: "p-2", Quantity: decimal.NewFromInt(5)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, shared.CommandStatusFailed, outcome.Status)
	assert.Equal(t, "INSUFFICIENT_STOCK", decodeResult(t, outcome.Result)["code"])

	// The healthy line reserves nothing; only the short product records
	// a failure event
	state1, _, err := f.service.ProductState(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, state1.Reserved.IsZero())
	assert.False(t, state1.HasReservation("r-1"))

	state2, _, err := f.service.ProductState(ctx, "p-2")
	require.NoError(t, err)
	assert.True(t, state2.Reserved.IsZero())
	assert.True(t, state2.Available.Equal(decimal.NewFromInt(1)))
	assert.True(t, state2.HasReservation("r-1"))
}

func TestBatchReserveValidation(t *testing.T) {
	f := newServiceFixture(t)
	f.seedProduct(t, "p-1", 10)

	outcome, err := f.service.BatchReserve(context.Background(), "cmd-10", meta(), inventory.BatchReserveStock{
		ReservationID: "r-1",
		OrderID:       "o-1",
		TenantID:      "t-1",
		Lines: []inventory.ReservationLine{
			{ProductID: "p-1", Quantity: decimal.NewFromInt(2)},
			{ProductID: "p-1", Quantity: decimal.NewFromInt(3)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, shared.CommandStatusRejected, outcome.Status)
	assert.Equal(t, "REJECTED", decodeResult(t, outcome.Result)["code"])
}

func TestCompetingReservationsOnlyOneCommits(t *testing.T) {
	f := newServiceFixture(t)
	f.seedProduct(t, "p-1", 10)
	ctx := context.Background()

	// Two reservations race for the same product; together they demand
	// more than the 10 available
	reserve := func(cmdID, reservationID string) *CommandOutcome {
		outcome, err := f.service.BatchReserve(ctx, cmdID, meta(), inventory.BatchReserveStock{
			ReservationID: reservationID,
			OrderID:       "o-" + reservationID,
			TenantID:      "t-1",
			Lines:         []inventory.ReservationLine{{ProductID: "p-1", Quantity: decimal.NewFromInt(7)}},
		})
		require.NoError(t, err)
		return outcome
	}

	first := reserve("cmd-race-1", "r-1")
	second := reserve("cmd-race-2", "r-2")

	executed := 0
	for _, outcome := range []*CommandOutcome{first, second} {
		if outcome.Status == shared.CommandStatusExecuted {
			executed++
		}
	}
	assert.Equal(t, 1, executed, "exactly one reservation commits")

	assert.Equal(t, shared.CommandStatusFailed, second.Status)
	code := decodeResult(t, second.Result)["code"]
	assert.Contains(t, []any{"INSUFFICIENT_STOCK", "CONCURRENCY_CONFLICT"}, code)

	state, _, err := f.service.ProductState(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, state.Reserved.Equal(decimal.NewFromInt(7)), "only the winner's demand reserves")
	assert.True(t, state.Reserved.LessThanOrEqual(decimal.NewFromInt(10)),
		"total reserved never exceeds initial availability")
	assert.True(t, state.Available.Equal(decimal.NewFromInt(3)))
	assert.True(t, state.HasReservation("r-1"))
	assert.True(t, state.HasReservation("r-2"), "the loser is answered with a recorded failure")
}

func TestBatchReserveDuplicateCommand(t *testing.T) {
	f := newServiceFixture(t)
	f.seedProduct(t, "p-1", 10)
	ctx := context.Background()

	batch := inventory.BatchReserveStock{
		ReservationID: "r-1",
		OrderID:       "o-1",
		TenantID:      "t-1",
		Lines:         []inventory.ReservationLine{{ProductID: "p-1", Quantity: decimal.NewFromInt(2)}},
	}

	first, err := f.service.BatchReserve(ctx, "cmd-11", meta(), batch)
	require.NoError(t, err)

	dup, err := f.service.BatchReserve(ctx, "cmd-11", meta(), batch)
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)
	assert.JSONEq(t, string(first.Result), string(dup.Result))

	state, version, err := f.service.ProductState(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), version, "the retry appended nothing")
	assert.True(t, state.Reserved.Equal(decimal.NewFromInt(2)))
}
