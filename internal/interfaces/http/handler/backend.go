package handler

import (
	"context"

	"github.com/connectorhq/magento-connector/internal/application/integration"
	domain "github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/connectorhq/magento-connector/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// BackendManager is the backend use-case surface the handler needs
type BackendManager interface {
	Create(ctx context.Context, req integration.CreateBackendRequest) (*domain.Backend, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Backend, error)
	List(ctx context.Context, activeOnly bool) ([]*domain.Backend, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (*domain.Backend, error)
}

// BackendHandler handles Magento backend registration
type BackendHandler struct {
	BaseHandler
	backends BackendManager
}

// NewBackendHandler creates a new BackendHandler
func NewBackendHandler(backends BackendManager) *BackendHandler {
	return &BackendHandler{backends: backends}
}

// Create registers a backend. POST /backends
func (h *BackendHandler) Create(c *gin.Context) {
	var req integration.CreateBackendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	backend, err := h.backends.Create(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, integration.ToBackendResponse(backend))
}

// Get returns one backend. GET /backends/:id
func (h *BackendHandler) Get(c *gin.Context) {
	id, ok := h.parseUUIDParam(c, "id")
	if !ok {
		return
	}
	backend, err := h.backends.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, integration.ToBackendResponse(backend))
}

// List returns the registered backends. GET /backends?active=true
func (h *BackendHandler) List(c *gin.Context) {
	activeOnly, ok := h.parseBoolQuery(c, "active", false)
	if !ok {
		return
	}
	backends, err := h.backends.List(c.Request.Context(), activeOnly)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, integration.ToBackendResponses(backends))
}

// SetActiveRequest toggles synchronization for a backend
type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetActive enables or disables a backend. PATCH /backends/:id
// An inactive backend keeps its bindings but no job runs against it.
func (h *BackendHandler) SetActive(c *gin.Context) {
	id, ok := h.parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	backend, err := h.backends.SetActive(c.Request.Context(), id, *req.Active)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, integration.ToBackendResponse(backend))
}
