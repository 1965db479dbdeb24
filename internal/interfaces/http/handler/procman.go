package handler

import (
	"encoding/json"
	"strconv"

	"github.com/evercore/backend/internal/application/procman"
	"github.com/evercore/backend/internal/domain/shared"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ProcessManagerHandler exposes process manager instances and dead
// letters to operators
type ProcessManagerHandler struct {
	BaseHandler
	executor *procman.Executor
}

// NewProcessManagerHandler creates a new process manager handler
func NewProcessManagerHandler(executor *procman.Executor) *ProcessManagerHandler {
	return &ProcessManagerHandler{executor: executor}
}

// RegisterRoutes registers process manager routes
func (h *ProcessManagerHandler) RegisterRoutes(rg *gin.RouterGroup) {
	pms := rg.Group("/process-managers")
	{
		pms.GET("/:name/instances", h.ListInstances)
		pms.GET("/:name/instances/:instance", h.GetInstance)
		pms.POST("/:name/instances/:instance/retry", h.RetryInstance)
		pms.POST("/:name/instances/:instance/reset", h.ResetInstance)
	}
	letters := rg.Group("/dead-letters")
	{
		letters.GET("", h.ListDeadLetters)
		letters.POST("/:id/replay", h.ReplayDeadLetter)
		letters.POST("/:id/ignore", h.IgnoreDeadLetter)
	}
}

// InstanceResponse represents one process manager instance
// @name HandlerInstanceResponse
type InstanceResponse struct {
	ProcessManagerName string          `json:"process_manager_name"`
	InstanceID         string          `json:"instance_id"`
	Status             string          `json:"status"`
	LastGlobalPosition int64           `json:"last_global_position"`
	StateVersion       int64           `json:"state_version"`
	CommandsEmitted    int64           `json:"commands_emitted"`
	CommandsFailed     int64           `json:"commands_failed"`
	CustomState        json.RawMessage `json:"custom_state,omitempty"`
	CorrelationID      string          `json:"correlation_id,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
}

func toInstanceResponse(state *shared.ProcessManagerState) InstanceResponse {
	return InstanceResponse{
		ProcessManagerName: state.ProcessManagerName,
		InstanceID:         state.InstanceID,
		Status:             string(state.Status),
		LastGlobalPosition: state.LastGlobalPosition,
		StateVersion:       state.StateVersion,
		CommandsEmitted:    state.CommandsEmitted,
		CommandsFailed:     state.CommandsFailed,
		CustomState:        json.RawMessage(state.CustomState),
		CorrelationID:      state.CorrelationID,
		ErrorMessage:       state.ErrorMessage,
	}
}

// ListInstances godoc
// @ID           listProcessManagerInstances
// @Summary      List process manager instances
// @Description  Lists instances of one process manager, optionally filtered by status
// @Tags         process-managers
// @Produce      json
// @Param        name path string true "Process manager name"
// @Param        status query string false "Filter by status" Enums(idle, processing, completed, failed)
// @Param        limit query int false "Maximum instances to return" default(100)
// @Success      200 {object} APIResponse[[]InstanceResponse]
// @Failure      500 {object} ErrorResponse
// @Router       /process-managers/{name}/instances [get]
func (h *ProcessManagerHandler) ListInstances(c *gin.Context) {
	name := c.Param("name")
	status := shared.ProcessManagerStatus(c.Query("status"))
	limit := parseLimit(c, 100)

	states, err := h.executor.ListInstances(c.Request.Context(), name, status, limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	out := make([]InstanceResponse, 0, len(states))
	for _, state := range states {
		out = append(out, toInstanceResponse(state))
	}
	h.Success(c, out)
}

// GetInstance godoc
// @ID           getProcessManagerInstance
// @Summary      Get a process manager instance
// @Description  Returns the state of one process manager instance
// @Tags         process-managers
// @Produce      json
// @Param        name path string true "Process manager name"
// @Param        instance path string true "Instance ID"
// @Success      200 {object} APIResponse[InstanceResponse]
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /process-managers/{name}/instances/{instance} [get]
func (h *ProcessManagerHandler) GetInstance(c *gin.Context) {
	state, err := h.executor.InstanceState(c.Request.Context(), c.Param("name"), c.Param("instance"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toInstanceResponse(state))
}

// RetryInstance godoc
// @ID           retryProcessManagerInstance
// @Summary      Retry a failed instance
// @Description  Transitions a failed instance back to processing so it can receive events again
// @Tags         process-managers
// @Produce      json
// @Param        name path string true "Process manager name"
// @Param        instance path string true "Instance ID"
// @Success      200 {object} APIResponse[InstanceResponse]
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /process-managers/{name}/instances/{instance}/retry [post]
func (h *ProcessManagerHandler) RetryInstance(c *gin.Context) {
	state, err := h.executor.Retry(c.Request.Context(), c.Param("name"), c.Param("instance"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toInstanceResponse(state))
}

// ResetInstance godoc
// @ID           resetProcessManagerInstance
// @Summary      Reset an instance to idle
// @Description  Returns an instance to idle; its checkpoint is preserved
// @Tags         process-managers
// @Produce      json
// @Param        name path string true "Process manager name"
// @Param        instance path string true "Instance ID"
// @Success      200 {object} APIResponse[InstanceResponse]
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /process-managers/{name}/instances/{instance}/reset [post]
func (h *ProcessManagerHandler) ResetInstance(c *gin.Context) {
	state, err := h.executor.Reset(c.Request.Context(), c.Param("name"), c.Param("instance"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toInstanceResponse(state))
}

// DeadLetterResponse represents one dead letter
// @name HandlerDeadLetterResponse
type DeadLetterResponse struct {
	ID                 string          `json:"id"`
	ProcessManagerName string          `json:"process_manager_name"`
	InstanceID         string          `json:"instance_id"`
	EventID            string          `json:"event_id"`
	AttemptCount       int             `json:"attempt_count"`
	Error              string          `json:"error"`
	FailedCommand      json.RawMessage `json:"failed_command,omitempty"`
	Event              json.RawMessage `json:"event,omitempty"`
	Status             string          `json:"status"`
}

func toDeadLetterResponse(letter *shared.DeadLetter) DeadLetterResponse {
	return DeadLetterResponse{
		ID:                 letter.ID.String(),
		ProcessManagerName: letter.ProcessManagerName,
		InstanceID:         letter.InstanceID,
		EventID:            letter.EventID.String(),
		AttemptCount:       letter.AttemptCount,
		Error:              letter.Error,
		FailedCommand:      json.RawMessage(letter.FailedCommand),
		Event:              json.RawMessage(letter.Event),
		Status:             string(letter.Status),
	}
}

// ListDeadLetters godoc
// @ID           listDeadLetters
// @Summary      List dead letters
// @Description  Returns a paginated list of dead letters
// @Tags         dead-letters
// @Produce      json
// @Param        process_manager query string false "Filter by process manager name"
// @Param        status query string false "Filter by status" Enums(pending, replayed, ignored)
// @Param        page query int false "Page number" default(1)
// @Param        page_size query int false "Items per page" default(20) maximum(100)
// @Success      200 {object} APIResponse[[]DeadLetterResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /dead-letters [get]
func (h *ProcessManagerHandler) ListDeadLetters(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	filter := shared.DeadLetterFilter{
		ProcessManagerName: c.Query("process_manager"),
		Status:             shared.DeadLetterStatus(c.Query("status")),
		Page:               page,
		PageSize:           pageSize,
	}

	letters, total, err := h.executor.DeadLetters(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	out := make([]DeadLetterResponse, 0, len(letters))
	for _, letter := range letters {
		out = append(out, toDeadLetterResponse(letter))
	}
	h.SuccessWithMeta(c, out, total, page, pageSize)
}

// ReplayResponse reports the outcome of a dead letter replay
// @name HandlerReplayResponse
type ReplayResponse struct {
	Outcome         string `json:"outcome"`
	InstanceID      string `json:"instance_id"`
	CommandsEmitted int    `json:"commands_emitted"`
	DeadLetterID    string `json:"dead_letter_id,omitempty"`
}

// ReplayDeadLetter godoc
// @ID           replayDeadLetter
// @Summary      Replay a dead letter
// @Description  Re-runs the stored event through the process manager
// @Tags         dead-letters
// @Produce      json
// @Param        id path string true "Dead letter ID" format(uuid)
// @Success      200 {object} APIResponse[ReplayResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /dead-letters/{id}/replay [post]
func (h *ProcessManagerHandler) ReplayDeadLetter(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid dead letter ID")
		return
	}

	result, err := h.executor.ReplayDeadLetter(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := ReplayResponse{
		Outcome:         string(result.Outcome),
		InstanceID:      result.InstanceID,
		CommandsEmitted: result.CommandsEmitted,
	}
	if result.DeadLetterID != uuid.Nil {
		resp.DeadLetterID = result.DeadLetterID.String()
	}
	h.Success(c, resp)
}

// IgnoreDeadLetter godoc
// @ID           ignoreDeadLetter
// @Summary      Ignore a dead letter
// @Description  Marks a pending dead letter as ignored
// @Tags         dead-letters
// @Produce      json
// @Param        id path string true "Dead letter ID" format(uuid)
// @Success      204 "No Content"
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /dead-letters/{id}/ignore [post]
func (h *ProcessManagerHandler) IgnoreDeadLetter(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid dead letter ID")
		return
	}

	if err := h.executor.IgnoreDeadLetter(c.Request.Context(), id); err != nil {
		h.HandleError(c, err)
		return
	}

	h.NoContent(c)
}
