package handler

import (
	"context"
	"errors"
	"io"

	"github.com/connectorhq/magento-connector/internal/application/integration"
	domain "github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/connectorhq/magento-connector/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SyncScheduler enqueues synchronization jobs. Every method returns as soon
// as the job is stored; the work itself runs in the job runner.
type SyncScheduler interface {
	DelayImportBatch(ctx context.Context, backendID uuid.UUID, model string) (*domain.JobHandle, error)
	DelayImportRecord(ctx context.Context, backendID uuid.UUID, model, externalID string, force bool) (*domain.JobHandle, error)
	DelayExportRecord(ctx context.Context, bindingID uuid.UUID, fields []string) (*domain.JobHandle, error)
	DelayExportInventory(ctx context.Context, bindingID uuid.UUID) (*domain.JobHandle, error)
	DelayExportDeleteRecord(ctx context.Context, backendID uuid.UUID, model, externalID string) (*domain.JobHandle, error)
}

// SyncHandler exposes import and export triggers
type SyncHandler struct {
	BaseHandler
	sync SyncScheduler
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(sync SyncScheduler) *SyncHandler {
	return &SyncHandler{sync: sync}
}

// ExportRequest restricts an export to some fields. An empty body exports
// every mapped field.
type ExportRequest struct {
	Fields []string `json:"fields" binding:"omitempty,dive,required"`
}

// ImportBatch schedules a batch import. POST /backends/:id/:model/import
func (h *SyncHandler) ImportBatch(c *gin.Context) {
	backendID, ok := h.parseUUIDParam(c, "id")
	if !ok {
		return
	}
	handle, err := h.sync.DelayImportBatch(c.Request.Context(), backendID, c.Param("model"))
	h.respond(c, handle, err)
}

// ImportRecord schedules the import of one record.
// POST /backends/:id/:model/records/:external_id/import?force=true
func (h *SyncHandler) ImportRecord(c *gin.Context) {
	backendID, ok := h.parseUUIDParam(c, "id")
	if !ok {
		return
	}
	force, ok := h.parseBoolQuery(c, "force", false)
	if !ok {
		return
	}
	handle, err := h.sync.DelayImportRecord(c.Request.Context(), backendID, c.Param("model"), c.Param("external_id"), force)
	h.respond(c, handle, err)
}

// ExportRecord schedules the export of a binding. POST /bindings/:id/export
func (h *SyncHandler) ExportRecord(c *gin.Context) {
	bindingID, ok := h.parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.HandleValidationError(c, err)
		return
	}
	handle, err := h.sync.DelayExportRecord(c.Request.Context(), bindingID, req.Fields)
	h.respond(c, handle, err)
}

// ExportInventory schedules a stock push for a product binding.
// POST /bindings/:id/export-inventory
func (h *SyncHandler) ExportInventory(c *gin.Context) {
	bindingID, ok := h.parseUUIDParam(c, "id")
	if !ok {
		return
	}
	handle, err := h.sync.DelayExportInventory(c.Request.Context(), bindingID)
	h.respond(c, handle, err)
}

// ExportDelete schedules the deletion of a remote record.
// DELETE /backends/:id/:model/records/:external_id
func (h *SyncHandler) ExportDelete(c *gin.Context) {
	backendID, ok := h.parseUUIDParam(c, "id")
	if !ok {
		return
	}
	handle, err := h.sync.DelayExportDeleteRecord(c.Request.Context(), backendID, c.Param("model"), c.Param("external_id"))
	h.respond(c, handle, err)
}

func (h *SyncHandler) respond(c *gin.Context, handle *domain.JobHandle, err error) {
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, integration.ToJobHandleResponse(handle))
}
