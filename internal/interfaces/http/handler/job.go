package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/connectorhq/magento-connector/internal/application/integration"
	domain "github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/connectorhq/magento-connector/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// JobReader reads the job queue
type JobReader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, int64, error)
}

// JobHandler exposes job state
type JobHandler struct {
	BaseHandler
	jobs JobReader
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(jobs JobReader) *JobHandler {
	return &JobHandler{jobs: jobs}
}

const (
	defaultJobPageSize = 20
	maxJobPageSize     = 100
)

// Get returns one job. GET /jobs/:id
func (h *JobHandler) Get(c *gin.Context) {
	id, ok := h.parseUUIDParam(c, "id")
	if !ok {
		return
	}
	job, err := h.jobs.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, integration.ToJobResponse(job))
}

// List pages through jobs. GET /jobs?status=FAILED&operation=import_record&page=1&page_size=20
func (h *JobHandler) List(c *gin.Context) {
	filter := domain.JobFilter{
		Status:    domain.JobStatus(c.Query("status")),
		Operation: c.Query("operation"),
		Page:      1,
		PageSize:  defaultJobPageSize,
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidInput, "Invalid status")
		return
	}
	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidInput, "Invalid page")
			return
		}
		filter.Page = page
	}
	if raw := c.Query("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 {
			h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidInput, "Invalid page_size")
			return
		}
		filter.PageSize = min(size, maxJobPageSize)
	}

	jobs, total, err := h.jobs.List(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]integration.JobResponse, len(jobs))
	for i, j := range jobs {
		out[i] = integration.ToJobResponse(j)
	}
	h.SuccessWithMeta(c, out, total, filter.Page, filter.PageSize)
}
