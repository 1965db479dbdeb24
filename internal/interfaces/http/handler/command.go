package handler

import (
	"encoding/json"

	"github.com/evercore/backend/internal/application/command"
	"github.com/evercore/backend/internal/domain/shared"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CommandHandler exposes the command ledger for inspection and tracing
type CommandHandler struct {
	BaseHandler
	bus *command.Bus
}

// NewCommandHandler creates a new command ledger handler
func NewCommandHandler(bus *command.Bus) *CommandHandler {
	return &CommandHandler{bus: bus}
}

// RegisterRoutes registers command ledger routes
func (h *CommandHandler) RegisterRoutes(rg *gin.RouterGroup) {
	commands := rg.Group("/commands")
	{
		commands.GET("/:id", h.GetCommand)
		commands.GET("/:id/events", h.GetCommandEvents)
	}
	rg.GET("/correlations/:id", h.GetTrace)
}

// CommandRecordResponse represents one ledger entry
// @name HandlerCommandRecordResponse
type CommandRecordResponse struct {
	CommandID     string          `json:"command_id"`
	CommandType   string          `json:"command_type"`
	TargetContext string          `json:"target_context,omitempty"`
	Status        string          `json:"status"`
	Result        json.RawMessage `json:"result,omitempty"`
	CorrelationID string          `json:"correlation_id"`
	IssuedAt      string          `json:"issued_at"`
	ExpiresAt     *string         `json:"expires_at,omitempty"`
}

func toCommandRecordResponse(rec *shared.CommandRecord) CommandRecordResponse {
	resp := CommandRecordResponse{
		CommandID:     rec.CommandID,
		CommandType:   rec.CommandType,
		TargetContext: rec.TargetContext,
		Status:        string(rec.Status),
		Result:        json.RawMessage(rec.Result),
		CorrelationID: rec.CorrelationID,
		IssuedAt:      rec.IssuedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if rec.ExpiresAt != nil {
		expires := rec.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		resp.ExpiresAt = &expires
	}
	return resp
}

// GetCommand godoc
// @ID           getCommand
// @Summary      Get a command ledger entry
// @Description  Returns the ledger entry for a command ID
// @Tags         commands
// @Produce      json
// @Param        id path string true "Command ID"
// @Success      200 {object} APIResponse[CommandRecordResponse]
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /commands/{id} [get]
func (h *CommandHandler) GetCommand(c *gin.Context) {
	rec, err := h.bus.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toCommandRecordResponse(rec))
}

// CommandEventsResponse lists the events one command produced
// @name HandlerCommandEventsResponse
type CommandEventsResponse struct {
	CommandID string   `json:"command_id"`
	EventIDs  []string `json:"event_ids"`
}

// GetCommandEvents godoc
// @ID           getCommandEvents
// @Summary      List events produced by a command
// @Description  Returns the IDs of events linked to a command
// @Tags         commands
// @Produce      json
// @Param        id path string true "Command ID"
// @Success      200 {object} APIResponse[CommandEventsResponse]
// @Failure      500 {object} ErrorResponse
// @Router       /commands/{id}/events [get]
func (h *CommandHandler) GetCommandEvents(c *gin.Context) {
	commandID := c.Param("id")

	eventIDs, err := h.bus.EventsForCommand(c.Request.Context(), commandID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, CommandEventsResponse{
		CommandID: commandID,
		EventIDs:  uuidStrings(eventIDs),
	})
}

// TraceResponse represents a correlation trace across commands and events
// @name HandlerTraceResponse
type TraceResponse struct {
	CorrelationID string                  `json:"correlation_id"`
	Commands      []CommandRecordResponse `json:"commands"`
	EventIDs      []string                `json:"event_ids"`
}

// GetTrace godoc
// @ID           getCorrelationTrace
// @Summary      Trace a correlation ID
// @Description  Returns every command and event recorded under a correlation ID
// @Tags         commands
// @Produce      json
// @Param        id path string true "Correlation ID"
// @Success      200 {object} APIResponse[TraceResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /correlations/{id} [get]
func (h *CommandHandler) GetTrace(c *gin.Context) {
	trace, err := h.bus.Trace(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	commands := make([]CommandRecordResponse, 0, len(trace.Commands))
	for _, rec := range trace.Commands {
		commands = append(commands, toCommandRecordResponse(rec))
	}

	h.Success(c, TraceResponse{
		CorrelationID: trace.CorrelationID,
		Commands:      commands,
		EventIDs:      uuidStrings(trace.EventIDs),
	})
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
