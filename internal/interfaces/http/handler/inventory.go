package handler

import (
	"net/http"
	"time"

	inventoryapp "github.com/evercore/backend/internal/application/inventory"
	"github.com/evercore/backend/internal/domain/inventory"
	"github.com/evercore/backend/internal/domain/shared"
	"github.com/evercore/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InventoryHandler exposes the inventory command API
type InventoryHandler struct {
	BaseHandler
	service *inventoryapp.Service
}

// NewInventoryHandler creates a new inventory handler
func NewInventoryHandler(service *inventoryapp.Service) *InventoryHandler {
	return &InventoryHandler{service: service}
}

// RegisterRoutes registers inventory routes
func (h *InventoryHandler) RegisterRoutes(rg *gin.RouterGroup) {
	inv := rg.Group("/inventory")
	{
		inv.POST("/products", h.CreateProduct)
		inv.GET("/products/:id", h.GetProduct)
		inv.POST("/products/:id/stock", h.AddStock)
		inv.POST("/reservations", h.ReserveStock)
		inv.POST("/reservations/batch", h.BatchReserve)
	}
}

// commandEnvelope carries the idempotency and tracing fields every
// command submission shares. An omitted command_id gets a generated
// one, which opts the caller out of retry deduplication.
type commandEnvelope struct {
	CommandID     string `json:"command_id"`
	CorrelationID string `json:"correlation_id"`
}

func (e *commandEnvelope) metadata(c *gin.Context) (string, shared.CommandMetadata) {
	commandID := e.CommandID
	if commandID == "" {
		commandID = uuid.NewString()
	}
	correlationID := e.CorrelationID
	if correlationID == "" {
		correlationID = c.GetHeader("X-Correlation-ID")
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return commandID, shared.CommandMetadata{
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	}
}

// outcomeStatus maps a command outcome to an HTTP status code.
// Rejected and failed commands are still resolved submissions, so they
// answer 422 rather than a transport error.
func (h *InventoryHandler) respondOutcome(c *gin.Context, outcome *inventoryapp.CommandOutcome) {
	status := http.StatusOK
	switch outcome.Status {
	case shared.CommandStatusRejected, shared.CommandStatusFailed:
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, map[string]any{
		"success": outcome.Status == shared.CommandStatusExecuted,
		"data":    outcome,
	})
}

// CreateProductRequest is the request body for creating a product
// @name HandlerCreateProductRequest
type CreateProductRequest struct {
	commandEnvelope
	ProductID string `json:"product_id" binding:"required"`
	SKU       string `json:"sku" binding:"required"`
	Name      string `json:"name" binding:"required"`
	UnitPrice string `json:"unit_price"`
}

// CreateProduct godoc
// @ID           createInventoryProduct
// @Summary      Create a product
// @Description  Creates a product stream; retrying with the same command_id returns the original outcome
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Param        request body CreateProductRequest true "Create product request"
// @Success      200 {object} APIResponse[inventoryapp.CommandOutcome]
// @Failure      400 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /inventory/products [post]
func (h *InventoryHandler) CreateProduct(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	unitPrice := decimal.Zero
	if req.UnitPrice != "" {
		var err error
		unitPrice, err = decimal.NewFromString(req.UnitPrice)
		if err != nil {
			h.BadRequest(c, "Invalid unit_price")
			return
		}
	}

	commandID, meta := req.metadata(c)
	outcome, err := h.service.CreateProduct(c.Request.Context(), commandID, meta, inventory.CreateProduct{
		ProductID: req.ProductID,
		TenantID:  getTenantID(c),
		SKU:       req.SKU,
		Name:      req.Name,
		UnitPrice: unitPrice,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.respondOutcome(c, outcome)
}

// ProductResponse represents current product state
// @name HandlerProductResponse
type ProductResponse struct {
	ProductID string `json:"product_id"`
	TenantID  string `json:"tenant_id,omitempty"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Available string `json:"available"`
	Reserved  string `json:"reserved"`
	Version   int64  `json:"version"`
}

// GetProduct godoc
// @ID           getInventoryProduct
// @Summary      Get a product's current state
// @Description  Folds the product stream into its current state
// @Tags         inventory
// @Produce      json
// @Param        id path string true "Product ID"
// @Success      200 {object} APIResponse[ProductResponse]
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /inventory/products/{id} [get]
func (h *InventoryHandler) GetProduct(c *gin.Context) {
	productID := c.Param("id")

	state, version, err := h.service.ProductState(c.Request.Context(), productID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if !state.Exists {
		h.NotFound(c, "Product not found")
		return
	}

	h.Success(c, ProductResponse{
		ProductID: state.ProductID,
		TenantID:  state.TenantID,
		SKU:       state.SKU,
		Name:      state.Name,
		Available: state.Available.String(),
		Reserved:  state.Reserved.String(),
		Version:   version,
	})
}

// AddStockRequest is the request body for adding stock
// @name HandlerAddStockRequest
type AddStockRequest struct {
	commandEnvelope
	Quantity string `json:"quantity" binding:"required"`
	Reason   string `json:"reason"`
}

// AddStock godoc
// @ID           addInventoryStock
// @Summary      Add stock to a product
// @Description  Appends a stock addition to the product stream
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Param        id path string true "Product ID"
// @Param        request body AddStockRequest true "Add stock request"
// @Success      200 {object} APIResponse[inventoryapp.CommandOutcome]
// @Failure      400 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /inventory/products/{id}/stock [post]
func (h *InventoryHandler) AddStock(c *gin.Context) {
	var req AddStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		h.BadRequest(c, "Invalid quantity")
		return
	}

	commandID, meta := req.metadata(c)
	outcome, err := h.service.AddStock(c.Request.Context(), commandID, meta, inventory.AddStock{
		ProductID: c.Param("id"),
		Quantity:  quantity,
		Reason:    req.Reason,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.respondOutcome(c, outcome)
}

// ReserveStockRequest is the request body for a single-product reservation
// @name HandlerReserveStockRequest
type ReserveStockRequest struct {
	commandEnvelope
	ReservationID string `json:"reservation_id" binding:"required"`
	OrderID       string `json:"order_id"`
	ProductID     string `json:"product_id" binding:"required"`
	Quantity      string `json:"quantity" binding:"required"`
}

// ReserveStock godoc
// @ID           reserveInventoryStock
// @Summary      Reserve stock for one product
// @Description  Reserves a quantity; insufficient stock resolves as a failed outcome, not an error
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Param        request body ReserveStockRequest true "Reserve stock request"
// @Success      200 {object} APIResponse[inventoryapp.CommandOutcome]
// @Failure      400 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /inventory/reservations [post]
func (h *InventoryHandler) ReserveStock(c *gin.Context) {
	var req ReserveStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		h.BadRequest(c, "Invalid quantity")
		return
	}

	commandID, meta := req.metadata(c)
	outcome, err := h.service.ReserveStock(c.Request.Context(), commandID, meta, inventory.ReserveStock{
		ReservationID: req.ReservationID,
		OrderID:       req.OrderID,
		ProductID:     req.ProductID,
		Quantity:      quantity,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.respondOutcome(c, outcome)
}

// BatchReserveLine is one product line of a batch reservation
// @name HandlerBatchReserveLine
type BatchReserveLine struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  string `json:"quantity" binding:"required"`
}

// BatchReserveRequest is the request body for a batch reservation
// @name HandlerBatchReserveRequest
type BatchReserveRequest struct {
	commandEnvelope
	ReservationID string             `json:"reservation_id" binding:"required"`
	OrderID       string             `json:"order_id"`
	Lines         []BatchReserveLine `json:"lines" binding:"required,min=1,dive"`
}

// BatchReserve godoc
// @ID           batchReserveInventoryStock
// @Summary      Reserve stock across products atomically
// @Description  All-or-nothing reservation over a consistency scope spanning the product streams
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Param        request body BatchReserveRequest true "Batch reservation request"
// @Success      200 {object} APIResponse[inventoryapp.CommandOutcome]
// @Failure      400 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /inventory/reservations/batch [post]
func (h *InventoryHandler) BatchReserve(c *gin.Context) {
	var req BatchReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	lines := make([]inventory.ReservationLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		quantity, err := decimal.NewFromString(line.Quantity)
		if err != nil {
			h.BadRequest(c, "Invalid quantity for product "+line.ProductID)
			return
		}
		lines = append(lines, inventory.ReservationLine{
			ProductID: line.ProductID,
			Quantity:  quantity,
		})
	}

	commandID, meta := req.metadata(c)
	outcome, err := h.service.BatchReserve(c.Request.Context(), commandID, meta, inventory.BatchReserveStock{
		ReservationID: req.ReservationID,
		OrderID:       req.OrderID,
		TenantID:      getTenantID(c),
		Lines:         lines,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.respondOutcome(c, outcome)
}
