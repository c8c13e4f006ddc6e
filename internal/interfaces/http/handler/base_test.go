package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/connectorhq/magento-connector/internal/application/integration"
	domain "github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/connectorhq/magento-connector/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestContext(method, target string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, nil)
	return c, w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestGetRequestID(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*gin.Context)
		expectedID string
	}{
		{
			name: "from context string",
			setup: func(c *gin.Context) {
				c.Set(RequestIDKey, "ctx-request-id")
			},
			expectedID: "ctx-request-id",
		},
		{
			name: "from header when context empty",
			setup: func(c *gin.Context) {
				c.Request.Header.Set(RequestIDKey, "header-request-id")
			},
			expectedID: "header-request-id",
		},
		{
			name:       "empty when not set",
			setup:      func(c *gin.Context) {},
			expectedID: "",
		},
		{
			name: "context takes precedence over header",
			setup: func(c *gin.Context) {
				c.Set(RequestIDKey, "ctx-id")
				c.Request.Header.Set(RequestIDKey, "header-id")
			},
			expectedID: "ctx-id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestContext(http.MethodGet, "/")
			tt.setup(c)
			assert.Equal(t, tt.expectedID, getRequestID(c))
		})
	}
}

func TestBaseHandlerSuccessResponses(t *testing.T) {
	h := &BaseHandler{}

	c, w := newTestContext(http.MethodGet, "/")
	h.Success(c, map[string]string{"k": "v"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeResponse(t, w).Success)

	c, w = newTestContext(http.MethodPost, "/")
	h.Created(c, map[string]string{"k": "v"})
	assert.Equal(t, http.StatusCreated, w.Code)

	c, w = newTestContext(http.MethodPost, "/")
	h.Accepted(c, map[string]string{"k": "v"})
	assert.Equal(t, http.StatusAccepted, w.Code)

	c, w = newTestContext(http.MethodGet, "/")
	h.SuccessWithMeta(c, []int{1, 2}, 12, 2, 5)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(12), resp.Meta.Total)
	assert.Equal(t, 2, resp.Meta.Page)
	assert.Equal(t, 5, resp.Meta.PageSize)
}

func TestBaseHandlerNoContent(t *testing.T) {
	h := &BaseHandler{}
	r := gin.New()
	r.DELETE("/x", h.NoContent)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/x", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestBaseHandlerErrorIncludesRequestID(t *testing.T) {
	h := &BaseHandler{}
	c, w := newTestContext(http.MethodGet, "/")
	c.Set(RequestIDKey, "req-1")

	h.NotFound(c, "nothing here")

	assert.Equal(t, http.StatusNotFound, w.Code)
	resp := decodeResponse(t, w)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeNotFound, resp.Error.Code)
	assert.Equal(t, "nothing here", resp.Error.Message)
	assert.Equal(t, "req-1", resp.Error.RequestID)
}

func TestBaseHandlerHandleError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"backend not found", domain.ErrBackendNotFound, http.StatusNotFound, dto.ErrCodeNotFound},
		{"wrapped binding not found", fmt.Errorf("load: %w", domain.ErrBindingNotFound), http.StatusNotFound, dto.ErrCodeNotFound},
		{"job not found", domain.ErrJobNotFound, http.StatusNotFound, dto.ErrCodeNotFound},
		{"unknown model", fmt.Errorf("magento.foo: %w", domain.ErrComponentNotFound), http.StatusNotFound, dto.ErrCodeUnsupportedModel},
		{"inactive backend", domain.ErrBackendInactive, http.StatusConflict, dto.ErrCodeBackendInactive},
		{"duplicate binding", domain.ErrDuplicateBinding, http.StatusConflict, dto.ErrCodeConflict},
		{"record locked", domain.ErrRecordLocked, http.StatusConflict, dto.ErrCodeRecordLocked},
		{"missing in backend", domain.ErrIDMissingInBackend, http.StatusUnprocessableEntity, dto.ErrCodeRemoteMissing},
		{"name taken", integration.ErrBackendNameTaken, http.StatusConflict, dto.ErrCodeAlreadyExists},
		{"invalid version", domain.ErrBackendInvalidVersion, http.StatusBadRequest, dto.ErrCodeInvalidInput},
		{"unexpected", errors.New("connection reset"), http.StatusInternalServerError, dto.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &BaseHandler{}
			c, w := newTestContext(http.MethodGet, "/")

			h.HandleError(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeResponse(t, w)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.NotContains(t, resp.Error.Message, "connection reset")
		})
	}
}

func TestBaseHandlerHandleErrorValidation(t *testing.T) {
	h := &BaseHandler{}
	c, w := newTestContext(http.MethodPost, "/")

	err := integration.NewValidator().Struct(integration.CreateBackendRequest{})
	require.Error(t, err)
	h.HandleError(c, err)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
	assert.NotEmpty(t, resp.Error.Details)
}

func TestBaseHandlerHandleErrorNil(t *testing.T) {
	h := &BaseHandler{}
	c, w := newTestContext(http.MethodGet, "/")
	h.HandleError(c, nil)
	assert.False(t, c.Writer.Written())
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestParseUUIDParam(t *testing.T) {
	h := &BaseHandler{}
	c, w := newTestContext(http.MethodGet, "/")
	c.Params = gin.Params{{Key: "id", Value: "not-a-uuid"}}

	_, ok := h.parseUUIDParam(c, "id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ErrCodeInvalidInput, decodeResponse(t, w).Error.Code)
}

func TestParseBoolQuery(t *testing.T) {
	h := &BaseHandler{}

	c, _ := newTestContext(http.MethodGet, "/?force=true")
	v, ok := h.parseBoolQuery(c, "force", false)
	assert.True(t, ok)
	assert.True(t, v)

	c, _ = newTestContext(http.MethodGet, "/")
	v, ok = h.parseBoolQuery(c, "force", false)
	assert.True(t, ok)
	assert.False(t, v)

	c, w := newTestContext(http.MethodGet, "/?force=maybe")
	_, ok = h.parseBoolQuery(c, "force", false)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
