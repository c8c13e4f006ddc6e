package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/connectorhq/magento-connector/internal/application/integration"
	domain "github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/connectorhq/magento-connector/internal/interfaces/http/dto"
	"github.com/connectorhq/magento-connector/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// RequestIDKey is the context key for request ID
const RequestIDKey = middleware.RequestIDKey

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	if id := c.GetString(RequestIDKey); id != "" {
		return id
	}
	return c.GetHeader(RequestIDKey)
}

// parseUUIDParam reads a path parameter as a UUID. On failure it writes a
// 400 response and returns false.
func (h *BaseHandler) parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidInput, "Invalid "+name+": must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// parseBoolQuery reads an optional boolean query parameter.
func (h *BaseHandler) parseBoolQuery(c *gin.Context, name string, def bool) (bool, bool) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return def, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidInput, "Invalid "+name+": must be a boolean")
		return false, false
	}
	return v, true
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 response for work handed to the job queue
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// ErrorWithCode sends an error response, deriving status code from error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// Conflict sends a 409 conflict response
func (h *BaseHandler) Conflict(c *gin.Context, message string) {
	h.Error(c, http.StatusConflict, dto.ErrCodeConflict, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// errorMapping ties sentinel errors to API error codes. The first match wins.
var errorMapping = []struct {
	target  error
	code    string
	message string
}{
	{domain.ErrBackendNotFound, dto.ErrCodeNotFound, "Backend not found"},
	{domain.ErrBindingNotFound, dto.ErrCodeNotFound, "Binding not found"},
	{domain.ErrJobNotFound, dto.ErrCodeNotFound, "Job not found"},
	{domain.ErrEntityNotFound, dto.ErrCodeNotFound, "Record not found"},
	{domain.ErrComponentNotFound, dto.ErrCodeUnsupportedModel, "Model is not supported by this backend"},
	{domain.ErrUnknownOperation, dto.ErrCodeUnsupportedModel, "Operation is not supported"},
	{domain.ErrBackendInactive, dto.ErrCodeBackendInactive, "Backend is not active"},
	{domain.ErrDuplicateBinding, dto.ErrCodeConflict, "External record is already bound"},
	{domain.ErrBindingConflict, dto.ErrCodeConflict, "Binding already points to another external record"},
	{domain.ErrRecordLocked, dto.ErrCodeRecordLocked, "Record is being synchronized by another job"},
	{domain.ErrIDMissingInBackend, dto.ErrCodeRemoteMissing, "Record does not exist in the backend"},
	{integration.ErrBackendNameTaken, dto.ErrCodeAlreadyExists, "Backend name is already in use"},
	{domain.ErrBackendInvalidName, dto.ErrCodeInvalidInput, "Backend name is required"},
	{domain.ErrBackendInvalidVersion, dto.ErrCodeInvalidInput, "Backend version is not supported"},
	{domain.ErrBackendInvalidURL, dto.ErrCodeInvalidInput, "Backend location is required"},
}

// HandleError converts service errors to HTTP responses
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		c.JSON(http.StatusBadRequest, middleware.FormatValidationErrors(validationErrs, getRequestID(c)))
		return
	}

	for _, m := range errorMapping {
		if errors.Is(err, m.target) {
			h.ErrorWithCode(c, m.code, m.message)
			return
		}
	}

	_ = c.Error(err)
	h.InternalError(c, "An unexpected error occurred")
}
