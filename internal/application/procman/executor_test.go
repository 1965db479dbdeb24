package procman

import (
	"context"
	"errors"
	"testing"

	"github.com/evercore/backend/internal/application/eventstore"
	"github.com/evercore/backend/internal/domain/shared"
	"github.com/evercore/backend/internal/infrastructure/event"
	"github.com/evercore/backend/internal/infrastructure/persistence"
	"github.com/evercore/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type lineReserved struct {
	ReservationID string `json:"reservation_id"`
	ProductID     string `json:"product_id"`
}

func (lineReserved) EventType() string { return "fulfillment.line_reserved" }

type fakeQueue struct {
	enqueued []*shared.QueuedCommand
	err      error
}

func (q *fakeQueue) Enqueue(_ context.Context, cmd *shared.QueuedCommand) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.enqueued = append(q.enqueued, cmd)
	return uuid.NewString(), nil
}

type executorFixture struct {
	executor *Executor
	states   *persistence.GormProcessManagerStateRepository
	letters  *persistence.GormDeadLetterRepository
	queue    *fakeQueue
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.ProcessManagerStateModel{},
		&models.DeadLetterModel{},
	))

	codec := event.NewPayloadCodec()
	codec.Register(&lineReserved{})

	states := persistence.NewGormProcessManagerStateRepository(db)
	letters := persistence.NewGormDeadLetterRepository(db)
	queue := &fakeQueue{}

	return &executorFixture{
		executor: NewExecutor(states, letters, queue, codec, zap.NewNop()),
		states:   states,
		letters:  letters,
		queue:    queue,
	}
}

func reservedEvent(globalPosition int64, instanceID string) *eventstore.DecodedEvent {
	return &eventstore.DecodedEvent{
		Record: &shared.EventRecord{
			EventID:        uuid.New(),
			StreamType:     "reservation",
			StreamID:       instanceID,
			EventType:      "fulfillment.line_reserved",
			SchemaVersion:  1,
			Category:       shared.CategoryDomain,
			CorrelationID:  "corr-1",
			Version:        1,
			GlobalPosition: globalPosition,
			Payload:        []byte(`{"reservation_id":"` + instanceID + `","product_id":"p-1"}`),
		},
		Payload: &lineReserved{ReservationID: instanceID, ProductID: "p-1"},
	}
}

func confirmDefinition(handle HandlerFunc) *Definition {
	return &Definition{
		Name:       "fulfillment",
		EventTypes: []string{"fulfillment.line_reserved"},
		Handle:     handle,
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newExecutorFixture(t)
	def := confirmDefinition(func(*shared.ProcessManagerState, *eventstore.DecodedEvent) (*HandlerResult, error) {
		return nil, nil
	})

	require.NoError(t, f.executor.Register(def))
	assert.ErrorIs(t, f.executor.Register(def), shared.ErrAlreadyExists)
	assert.ErrorIs(t, f.executor.Register(&Definition{Name: "no-handler"}), shared.ErrInvalidInput)
	assert.Len(t, f.executor.Definitions(), 1)
}

func TestProcessEventEmitsCommandsAndAdvancesCheckpoint(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	def := confirmDefinition(func(_ *shared.ProcessManagerState, ev *eventstore.DecodedEvent) (*HandlerResult, error) {
		reserved := ev.Payload.(*lineReserved)
		return &HandlerResult{
			Commands: []*shared.QueuedCommand{{
				CommandType:   "ordering.confirm_line",
				TargetContext: "ordering",
				Payload:       []byte(`{"product_id":"` + reserved.ProductID + `"}`),
			}},
			CustomState: []byte(`{"confirmed":1}`),
		}, nil
	})

	ev := reservedEvent(10, "r-1")
	result, err := f.executor.ProcessEvent(ctx, def, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, result.Outcome)
	assert.Equal(t, "r-1", result.InstanceID)
	assert.Equal(t, 1, result.CommandsEmitted)

	// The executor fills the envelope fields the handler left blank
	require.Len(t, f.queue.enqueued, 1)
	cmd := f.queue.enqueued[0]
	assert.NotEmpty(t, cmd.CommandID)
	assert.Equal(t, "corr-1", cmd.CorrelationID)
	assert.Equal(t, ev.Record.EventID.String(), cmd.CausationID)
	assert.Equal(t, "r-1", cmd.PartitionKey)
	assert.False(t, cmd.EnqueuedAt.IsZero())

	state, err := f.states.Get(ctx, "fulfillment", "r-1")
	require.NoError(t, err)
	assert.Equal(t, shared.ProcessManagerProcessing, state.Status)
	assert.Equal(t, int64(10), state.LastGlobalPosition)
	assert.Equal(t, int64(1), state.CommandsEmitted)
	assert.JSONEq(t, `{"confirmed":1}`, string(state.CustomState))
	require.NotNil(t, state.TriggerEventID)
	assert.Equal(t, ev.Record.EventID, *state.TriggerEventID)
}

func TestProcessEventCheckpointGate(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	calls := 0
	def := confirmDefinition(func(*shared.ProcessManagerState, *eventstore.DecodedEvent) (*HandlerResult, error) {
		calls++
		return &HandlerResult{}, nil
	})

	ev := reservedEvent(10, "r-1")
	_, err := f.executor.ProcessEvent(ctx, def, ev)
	require.NoError(t, err)

	// Redelivery of the same event is absorbed by the checkpoint
	result, err := f.executor.ProcessEvent(ctx, def, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, result.Outcome)

	// So is anything at or below the checkpoint
	result, err = f.executor.ProcessEvent(ctx, def, reservedEvent(5, "r-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, result.Outcome)

	assert.Equal(t, 1, calls)
}

func TestProcessEventCompletedInstanceStopsReacting(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	def := confirmDefinition(func(*shared.ProcessManagerState, *eventstore.DecodedEvent) (*HandlerResult, error) {
		return &HandlerResult{Completed: true}, nil
	})

	_, err := f.executor.ProcessEvent(ctx, def, reservedEvent(10, "r-1"))
	require.NoError(t, err)

	state, err := f.states.Get(ctx, "fulfillment", "r-1")
	require.NoError(t, err)
	assert.Equal(t, shared.ProcessManagerCompleted, state.Status)

	result, err := f.executor.ProcessEvent(ctx, def, reservedEvent(20, "r-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeTerminalState, result.Outcome)
}

func TestProcessEventHandlerErrorDeadLetters(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	def := confirmDefinition(func(*shared.ProcessManagerState, *eventstore.DecodedEvent) (*HandlerResult, error) {
		return nil, errors.New("downstream schema mismatch")
	})

	ev := reservedEvent(10, "r-1")
	result, err := f.executor.ProcessEvent(ctx, def, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadLettered, result.Outcome)
	require.NotEqual(t, uuid.Nil, result.DeadLetterID)

	letter, err := f.letters.Get(ctx, result.DeadLetterID)
	require.NoError(t, err)
	assert.Equal(t, shared.DeadLetterPending, letter.Status)
	assert.Equal(t, 1, letter.AttemptCount)
	assert.Equal(t, ev.Record.EventID, letter.EventID)
	assert.Contains(t, letter.Error, "schema mismatch")

	// The checkpoint must not advance past an unprocessed event
	state, err := f.states.Get(ctx, "fulfillment", "r-1")
	require.NoError(t, err)
	assert.Equal(t, shared.ProcessManagerFailed, state.Status)
	assert.Equal(t, int64(0), state.LastGlobalPosition)
	assert.Equal(t, int64(1), state.CommandsFailed)
	assert.Equal(t, "downstream schema mismatch", state.ErrorMessage)
}

func TestProcessEventPanicIsContained(t *testing.T) {
	f := newExecutorFixture(t)

	def := confirmDefinition(func(*shared.ProcessManagerState, *eventstore.DecodedEvent) (*HandlerResult, error) {
		panic("nil map write")
	})

	result, err := f.executor.ProcessEvent(context.Background(), def, reservedEvent(10, "r-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadLettered, result.Outcome)

	letter, err := f.letters.Get(context.Background(), result.DeadLetterID)
	require.NoError(t, err)
	assert.Contains(t, letter.Error, "handler panic")
}

func TestProcessEventEnqueueFailureDeadLettersCommand(t *testing.T) {
	f := newExecutorFixture(t)
	f.queue.err = errors.New("outbox unavailable")

	def := confirmDefinition(func(*shared.ProcessManagerState, *eventstore.DecodedEvent) (*HandlerResult, error) {
		return &HandlerResult{
			Commands: []*shared.QueuedCommand{{CommandType: "ordering.confirm_line", TargetContext: "ordering"}},
		}, nil
	})

	result, err := f.executor.ProcessEvent(context.Background(), def, reservedEvent(10, "r-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadLettered, result.Outcome)

	letter, err := f.letters.Get(context.Background(), result.DeadLetterID)
	require.NoError(t, err)
	assert.NotEmpty(t, letter.FailedCommand, "the undeliverable command rides along in the letter")
}

func TestRetryAndReset(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	failing := true
	def := confirmDefinition(func(*shared.ProcessManagerState, *eventstore.DecodedEvent) (*HandlerResult, error) {
		if failing {
			return nil, errors.New("transient")
		}
		return &HandlerResult{}, nil
	})

	_, err := f.executor.ProcessEvent(ctx, def, reservedEvent(10, "r-1"))
	require.NoError(t, err)

	// Retry is only valid from failed
	state, err := f.executor.Retry(ctx, "fulfillment", "r-1")
	require.NoError(t, err)
	assert.Equal(t, shared.ProcessManagerProcessing, state.Status)
	assert.Empty(t, state.ErrorMessage)

	var invalid *shared.ErrInvalidTransition
	_, err = f.executor.Retry(ctx, "fulfillment", "r-1")
	require.ErrorAs(t, err, &invalid)

	failing = false
	result, err := f.executor.ProcessEvent(ctx, def, reservedEvent(10, "r-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, result.Outcome)

	// Reset forces any state back to idle
	state, err = f.executor.Reset(ctx, "fulfillment", "r-1")
	require.NoError(t, err)
	assert.Equal(t, shared.ProcessManagerIdle, state.Status)
	assert.Equal(t, int64(10), state.LastGlobalPosition, "reset keeps the checkpoint")
}

func TestReplayDeadLetter(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	failing := true
	def := confirmDefinition(func(*shared.ProcessManagerState, *eventstore.DecodedEvent) (*HandlerResult, error) {
		if failing {
			return nil, errors.New("transient")
		}
		return &HandlerResult{
			Commands: []*shared.QueuedCommand{{CommandType: "ordering.confirm_line", TargetContext: "ordering"}},
		}, nil
	})
	require.NoError(t, f.executor.Register(def))

	result, err := f.executor.ProcessEvent(ctx, def, reservedEvent(10, "r-1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeDeadLettered, result.Outcome)
	letterID := result.DeadLetterID

	failing = false
	replayed, err := f.executor.ReplayDeadLetter(ctx, letterID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, replayed.Outcome)
	assert.Len(t, f.queue.enqueued, 1)

	letter, err := f.letters.Get(ctx, letterID)
	require.NoError(t, err)
	assert.Equal(t, shared.DeadLetterReplayed, letter.Status)

	state, err := f.executor.InstanceState(ctx, "fulfillment", "r-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), state.LastGlobalPosition)

	// A resolved letter cannot replay again
	_, err = f.executor.ReplayDeadLetter(ctx, letterID)
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestIgnoreDeadLetter(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	def := confirmDefinition(func(*shared.ProcessManagerState, *eventstore.DecodedEvent) (*HandlerResult, error) {
		return nil, errors.New("permanent")
	})

	result, err := f.executor.ProcessEvent(ctx, def, reservedEvent(10, "r-1"))
	require.NoError(t, err)

	require.NoError(t, f.executor.IgnoreDeadLetter(ctx, result.DeadLetterID))

	letters, total, err := f.executor.DeadLetters(ctx, shared.DeadLetterFilter{Status: shared.DeadLetterIgnored})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, letters, 1)
}
