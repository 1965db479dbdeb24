package handler

import (
	"strconv"

	"github.com/evercore/backend/internal/application/scope"
	"github.com/evercore/backend/internal/domain/shared"
	"github.com/gin-gonic/gin"
)

// ScopeHandler exposes consistency scopes and their virtual streams.
// Scope keys may contain path-hostile characters, so all endpoints take
// the key as a query parameter.
type ScopeHandler struct {
	BaseHandler
	scopes *scope.Manager
}

// NewScopeHandler creates a new scope handler
func NewScopeHandler(scopes *scope.Manager) *ScopeHandler {
	return &ScopeHandler{scopes: scopes}
}

// RegisterRoutes registers scope routes
func (h *ScopeHandler) RegisterRoutes(rg *gin.RouterGroup) {
	scopes := rg.Group("/scopes")
	{
		scopes.GET("", h.GetScope)
		scopes.GET("/events", h.ReadVirtualStream)
		scopes.GET("/check", h.CheckVersion)
	}
}

// ScopeResponse represents one consistency scope
// @name HandlerScopeResponse
type ScopeResponse struct {
	ID             string             `json:"id"`
	ScopeKey       string             `json:"scope_key"`
	ScopeType      string             `json:"scope_type"`
	TenantID       string             `json:"tenant_id,omitempty"`
	CurrentVersion int64              `json:"current_version"`
	Streams        []shared.StreamKey `json:"streams,omitempty"`
	Created        bool               `json:"created"`
}

// GetScope godoc
// @ID           getScope
// @Summary      Get or create a scope
// @Description  Returns the scope for a key, creating it at version 0 when absent
// @Tags         scopes
// @Produce      json
// @Param        key query string true "Scope key"
// @Param        type query string false "Scope type, used on creation"
// @Success      200 {object} APIResponse[ScopeResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /scopes [get]
func (h *ScopeHandler) GetScope(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		h.BadRequest(c, "Scope key is required")
		return
	}
	scopeType := c.Query("type")
	tenantID := getTenantID(c)

	sc, created, err := h.scopes.GetOrCreateScope(c.Request.Context(), key, scopeType, tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, ScopeResponse{
		ID:             sc.ID.String(),
		ScopeKey:       sc.ScopeKey,
		ScopeType:      sc.ScopeType,
		TenantID:       sc.TenantID,
		CurrentVersion: sc.CurrentVersion,
		Streams:        sc.Streams,
		Created:        created,
	})
}

// ReadVirtualStream godoc
// @ID           readScopeVirtualStream
// @Summary      Read a scope's virtual stream
// @Description  Merges the scope's registered streams in global order
// @Tags         scopes
// @Produce      json
// @Param        key query string true "Scope key"
// @Param        from_position query int false "Exclusive lower global position bound" default(0)
// @Param        limit query int false "Maximum events to return" default(100)
// @Success      200 {object} APIResponse[[]EventResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /scopes/events [get]
func (h *ScopeHandler) ReadVirtualStream(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		h.BadRequest(c, "Scope key is required")
		return
	}
	fromPosition, err := strconv.ParseInt(c.DefaultQuery("from_position", "0"), 10, 64)
	if err != nil || fromPosition < 0 {
		h.BadRequest(c, "Invalid from_position parameter")
		return
	}
	limit := parseLimit(c, 100)

	events, err := h.scopes.ReadVirtualStream(c.Request.Context(), key, fromPosition, limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toEventResponses(events))
}

// ScopeCheckResponse reports a version pre-flight outcome
// @name HandlerScopeCheckResponse
type ScopeCheckResponse struct {
	ScopeKey        string `json:"scope_key"`
	Status          string `json:"status"`
	ExpectedVersion int64  `json:"expected_version"`
	CurrentVersion  int64  `json:"current_version"`
}

// CheckVersion godoc
// @ID           checkScopeVersion
// @Summary      Check a scope's version
// @Description  Read-only pre-flight comparing an expected version to the current one
// @Tags         scopes
// @Produce      json
// @Param        key query string true "Scope key"
// @Param        expected_version query int true "Expected version"
// @Success      200 {object} APIResponse[ScopeCheckResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /scopes/check [get]
func (h *ScopeHandler) CheckVersion(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		h.BadRequest(c, "Scope key is required")
		return
	}
	expectedVersion, err := strconv.ParseInt(c.Query("expected_version"), 10, 64)
	if err != nil || expectedVersion < 0 {
		h.BadRequest(c, "Invalid expected_version parameter")
		return
	}

	result, err := h.scopes.CheckScopeVersion(c.Request.Context(), key, expectedVersion)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, ScopeCheckResponse{
		ScopeKey:        key,
		Status:          string(result.Status),
		ExpectedVersion: expectedVersion,
		CurrentVersion:  result.CurrentVersion,
	})
}
