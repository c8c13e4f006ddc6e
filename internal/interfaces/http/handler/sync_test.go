package handler

import (
	"context"
	"net/http"
	"testing"

	domain "github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/connectorhq/magento-connector/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSyncScheduler struct {
	mock.Mock
}

func (m *MockSyncScheduler) handle(args mock.Arguments) (*domain.JobHandle, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.JobHandle), args.Error(1)
}

func (m *MockSyncScheduler) DelayImportBatch(ctx context.Context, backendID uuid.UUID, model string) (*domain.JobHandle, error) {
	return m.handle(m.Called(ctx, backendID, model))
}

func (m *MockSyncScheduler) DelayImportRecord(ctx context.Context, backendID uuid.UUID, model, externalID string, force bool) (*domain.JobHandle, error) {
	return m.handle(m.Called(ctx, backendID, model, externalID, force))
}

func (m *MockSyncScheduler) DelayExportRecord(ctx context.Context, bindingID uuid.UUID, fields []string) (*domain.JobHandle, error) {
	return m.handle(m.Called(ctx, bindingID, fields))
}

func (m *MockSyncScheduler) DelayExportInventory(ctx context.Context, bindingID uuid.UUID) (*domain.JobHandle, error) {
	return m.handle(m.Called(ctx, bindingID))
}

func (m *MockSyncScheduler) DelayExportDeleteRecord(ctx context.Context, backendID uuid.UUID, model, externalID string) (*domain.JobHandle, error) {
	return m.handle(m.Called(ctx, backendID, model, externalID))
}

func setupSyncRouter(m *MockSyncScheduler) *gin.Engine {
	h := NewSyncHandler(m)
	r := gin.New()
	r.POST("/backends/:id/:model/import", h.ImportBatch)
	r.POST("/backends/:id/:model/records/:external_id/import", h.ImportRecord)
	r.DELETE("/backends/:id/:model/records/:external_id", h.ExportDelete)
	r.POST("/bindings/:id/export", h.ExportRecord)
	r.POST("/bindings/:id/export-inventory", h.ExportInventory)
	return r
}

func jobHandleData(t *testing.T, resp dto.Response) map[string]any {
	t.Helper()
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	return data
}

func TestSyncHandler_ImportBatch(t *testing.T) {
	m := new(MockSyncScheduler)
	backendID := uuid.New()
	jobID := uuid.New()
	m.On("DelayImportBatch", mock.Anything, backendID, "magento.product.product").
		Return(&domain.JobHandle{ID: jobID}, nil)

	w := serve(setupSyncRouter(m), http.MethodPost, "/backends/"+backendID.String()+"/magento.product.product/import", "")

	assert.Equal(t, http.StatusAccepted, w.Code)
	data := jobHandleData(t, decodeResponse(t, w))
	assert.Equal(t, jobID.String(), data["job_id"])
	assert.Equal(t, false, data["deduplicated"])
	m.AssertExpectations(t)
}

func TestSyncHandler_ImportRecord(t *testing.T) {
	m := new(MockSyncScheduler)
	backendID := uuid.New()
	existing := uuid.New()
	m.On("DelayImportRecord", mock.Anything, backendID, "magento.sale.order", "100000001", true).
		Return(&domain.JobHandle{ID: existing, Deduplicated: true}, nil)
	r := setupSyncRouter(m)

	w := serve(r, http.MethodPost, "/backends/"+backendID.String()+"/magento.sale.order/records/100000001/import?force=1", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, true, jobHandleData(t, decodeResponse(t, w))["deduplicated"])

	w = serve(r, http.MethodPost, "/backends/"+backendID.String()+"/magento.sale.order/records/100000001/import?force=yes", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	m.AssertNumberOfCalls(t, "DelayImportRecord", 1)
}

func TestSyncHandler_ImportErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unknown backend", domain.ErrBackendNotFound, http.StatusNotFound, dto.ErrCodeNotFound},
		{"unsupported model", domain.ErrComponentNotFound, http.StatusNotFound, dto.ErrCodeUnsupportedModel},
		{"inactive backend", domain.ErrBackendInactive, http.StatusConflict, dto.ErrCodeBackendInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(MockSyncScheduler)
			m.On("DelayImportBatch", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

			w := serve(setupSyncRouter(m), http.MethodPost, "/backends/"+uuid.NewString()+"/magento.foo/import", "")

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decodeResponse(t, w).Error.Code)
		})
	}
}

func TestSyncHandler_ExportRecord(t *testing.T) {
	m := new(MockSyncScheduler)
	bindingID := uuid.New()
	m.On("DelayExportRecord", mock.Anything, bindingID, []string{"name", "price"}).
		Return(&domain.JobHandle{ID: uuid.New()}, nil)
	m.On("DelayExportRecord", mock.Anything, bindingID, []string(nil)).
		Return(&domain.JobHandle{ID: uuid.New()}, nil)
	r := setupSyncRouter(m)

	w := serve(r, http.MethodPost, "/bindings/"+bindingID.String()+"/export", `{"fields":["name","price"]}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = serve(r, http.MethodPost, "/bindings/"+bindingID.String()+"/export", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = serve(r, http.MethodPost, "/bindings/"+bindingID.String()+"/export", `{"fields":"name"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	m.AssertNumberOfCalls(t, "DelayExportRecord", 2)
}

func TestSyncHandler_ExportInventory(t *testing.T) {
	m := new(MockSyncScheduler)
	bindingID := uuid.New()
	m.On("DelayExportInventory", mock.Anything, bindingID).Return(nil, domain.ErrBindingNotFound)

	w := serve(setupSyncRouter(m), http.MethodPost, "/bindings/"+bindingID.String()+"/export-inventory", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	m.AssertExpectations(t)
}

func TestSyncHandler_ExportDelete(t *testing.T) {
	m := new(MockSyncScheduler)
	backendID := uuid.New()
	m.On("DelayExportDeleteRecord", mock.Anything, backendID, "magento.product.product", "ABC-1").
		Return(&domain.JobHandle{ID: uuid.New()}, nil)

	w := serve(setupSyncRouter(m), http.MethodDelete, "/backends/"+backendID.String()+"/magento.product.product/records/ABC-1", "")

	assert.Equal(t, http.StatusAccepted, w.Code)
	m.AssertExpectations(t)
}
