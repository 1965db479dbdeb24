package handler

import (
	"encoding/json"
	"strconv"

	"github.com/evercore/backend/internal/application/eventstore"
	"github.com/evercore/backend/internal/domain/shared"
	"github.com/gin-gonic/gin"
)

// maxReadLimit caps page sizes on event read endpoints
const maxReadLimit = 1000

// EventStoreHandler exposes read access to the event log
type EventStoreHandler struct {
	BaseHandler
	events *eventstore.Service
}

// NewEventStoreHandler creates a new event store handler
func NewEventStoreHandler(events *eventstore.Service) *EventStoreHandler {
	return &EventStoreHandler{events: events}
}

// RegisterRoutes registers event store routes
func (h *EventStoreHandler) RegisterRoutes(rg *gin.RouterGroup) {
	streams := rg.Group("/streams")
	{
		streams.GET("/:type/:id/events", h.ReadStream)
		streams.GET("/:type/:id/version", h.GetStreamVersion)
	}
	events := rg.Group("/events")
	{
		events.GET("", h.ReadFromPosition)
		events.GET("/position", h.GetGlobalPosition)
	}
}

// EventResponse represents one stored event
// @name HandlerEventResponse
type EventResponse struct {
	EventID        string          `json:"event_id"`
	StreamType     string          `json:"stream_type"`
	StreamID       string          `json:"stream_id"`
	EventType      string          `json:"event_type"`
	SchemaVersion  int             `json:"schema_version"`
	Category       string          `json:"category"`
	BoundedContext string          `json:"bounded_context"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	CausationID    string          `json:"causation_id,omitempty"`
	Version        int64           `json:"version"`
	GlobalPosition int64           `json:"global_position"`
	Payload        json.RawMessage `json:"payload"`
	Timestamp      string          `json:"timestamp"`
}

func toEventResponse(ev *eventstore.DecodedEvent) EventResponse {
	rec := ev.Record
	return EventResponse{
		EventID:        rec.EventID.String(),
		StreamType:     rec.StreamType,
		StreamID:       rec.StreamID,
		EventType:      rec.EventType,
		SchemaVersion:  rec.SchemaVersion,
		Category:       string(rec.Category),
		BoundedContext: rec.BoundedContext,
		CorrelationID:  rec.CorrelationID,
		CausationID:    rec.CausationID,
		Version:        rec.Version,
		GlobalPosition: rec.GlobalPosition,
		Payload:        json.RawMessage(rec.Payload),
		Timestamp:      rec.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func toEventResponses(events []*eventstore.DecodedEvent) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, toEventResponse(ev))
	}
	return out
}

// parseLimit reads a bounded limit query parameter
func parseLimit(c *gin.Context, def int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > maxReadLimit {
		return maxReadLimit
	}
	return limit
}

// ReadStream godoc
// @ID           readStreamEvents
// @Summary      Read a stream's events
// @Description  Returns a stream's events ordered by version ascending
// @Tags         events
// @Produce      json
// @Param        type path string true "Stream type"
// @Param        id path string true "Stream ID"
// @Param        from_version query int false "Exclusive lower version bound" default(0)
// @Param        limit query int false "Maximum events to return" default(100)
// @Success      200 {object} APIResponse[[]EventResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /streams/{type}/{id}/events [get]
func (h *EventStoreHandler) ReadStream(c *gin.Context) {
	streamType := c.Param("type")
	streamID := c.Param("id")

	fromVersion, err := strconv.ParseInt(c.DefaultQuery("from_version", "0"), 10, 64)
	if err != nil || fromVersion < 0 {
		h.BadRequest(c, "Invalid from_version parameter")
		return
	}
	limit := parseLimit(c, 100)

	events, err := h.events.ReadStream(c.Request.Context(), streamType, streamID, fromVersion, limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toEventResponses(events))
}

// StreamVersionResponse reports a stream's current version
// @name HandlerStreamVersionResponse
type StreamVersionResponse struct {
	StreamType string `json:"stream_type"`
	StreamID   string `json:"stream_id"`
	Version    int64  `json:"version"`
}

// GetStreamVersion godoc
// @ID           getStreamVersion
// @Summary      Get a stream's current version
// @Description  Returns the stream's current version, 0 for an absent stream
// @Tags         events
// @Produce      json
// @Param        type path string true "Stream type"
// @Param        id path string true "Stream ID"
// @Success      200 {object} APIResponse[StreamVersionResponse]
// @Failure      500 {object} ErrorResponse
// @Router       /streams/{type}/{id}/version [get]
func (h *EventStoreHandler) GetStreamVersion(c *gin.Context) {
	streamType := c.Param("type")
	streamID := c.Param("id")

	version, err := h.events.StreamVersion(c.Request.Context(), streamType, streamID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, StreamVersionResponse{
		StreamType: streamType,
		StreamID:   streamID,
		Version:    version,
	})
}

// ReadFromPosition godoc
// @ID           readEventsFromPosition
// @Summary      Read the global event log
// @Description  Returns events after a global position, optionally filtered
// @Tags         events
// @Produce      json
// @Param        from_position query int false "Exclusive lower global position bound" default(0)
// @Param        limit query int false "Maximum events to return" default(100)
// @Param        event_type query []string false "Filter by event type"
// @Param        stream_type query []string false "Filter by stream type"
// @Param        bounded_context query []string false "Filter by bounded context"
// @Success      200 {object} APIResponse[[]EventResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /events [get]
func (h *EventStoreHandler) ReadFromPosition(c *gin.Context) {
	fromPosition, err := strconv.ParseInt(c.DefaultQuery("from_position", "0"), 10, 64)
	if err != nil || fromPosition < 0 {
		h.BadRequest(c, "Invalid from_position parameter")
		return
	}
	limit := parseLimit(c, 100)

	var filter *shared.ReadFilter
	eventTypes := c.QueryArray("event_type")
	streamTypes := c.QueryArray("stream_type")
	boundedContexts := c.QueryArray("bounded_context")
	if len(eventTypes) > 0 || len(streamTypes) > 0 || len(boundedContexts) > 0 {
		filter = &shared.ReadFilter{
			EventTypes:      eventTypes,
			StreamTypes:     streamTypes,
			BoundedContexts: boundedContexts,
		}
	}

	events, err := h.events.ReadFromPosition(c.Request.Context(), fromPosition, limit, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toEventResponses(events))
}

// GlobalPositionResponse reports the store's highest global position
// @name HandlerGlobalPositionResponse
type GlobalPositionResponse struct {
	GlobalPosition int64 `json:"global_position"`
}

// GetGlobalPosition godoc
// @ID           getGlobalPosition
// @Summary      Get the store's global position
// @Description  Returns the highest global position assigned so far
// @Tags         events
// @Produce      json
// @Success      200 {object} APIResponse[GlobalPositionResponse]
// @Failure      500 {object} ErrorResponse
// @Router       /events/position [get]
func (h *EventStoreHandler) GetGlobalPosition(c *gin.Context) {
	position, err := h.events.GlobalPosition(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, GlobalPositionResponse{GlobalPosition: position})
}
