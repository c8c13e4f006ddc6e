package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	domain "github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockJobReader struct {
	mock.Mock
}

func (m *MockJobReader) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Job), args.Error(1)
}

func (m *MockJobReader) List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*domain.Job), args.Get(1).(int64), args.Error(2)
}

func setupJobRouter(m *MockJobReader) *gin.Engine {
	h := NewJobHandler(m)
	r := gin.New()
	r.GET("/jobs", h.List)
	r.GET("/jobs/:id", h.Get)
	return r
}

func testJob() *domain.Job {
	return &domain.Job{
		ID:          uuid.New(),
		Operation:   "import_record",
		Args:        domain.Record{"model": "magento.sale.order", "external_id": "100000001"},
		Status:      domain.JobStatusFailed,
		Attempts:    5,
		MaxAttempts: 5,
		ETA:         time.Now(),
		LastError:   "remote fault 100: Requested order not exists.",
		CreatedAt:   time.Now(),
	}
}

func TestJobHandler_Get(t *testing.T) {
	m := new(MockJobReader)
	job := testJob()
	m.On("Get", mock.Anything, job.ID).Return(job, nil)
	missing := uuid.New()
	m.On("Get", mock.Anything, missing).Return(nil, domain.ErrJobNotFound)
	r := setupJobRouter(m)

	w := serve(r, http.MethodGet, "/jobs/"+job.ID.String(), "")
	assert.Equal(t, http.StatusOK, w.Code)
	data, ok := decodeResponse(t, w).Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "FAILED", data["status"])
	assert.Equal(t, "import_record", data["operation"])
	assert.Equal(t, float64(5), data["attempts"])

	w = serve(r, http.MethodGet, "/jobs/"+missing.String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobHandler_List(t *testing.T) {
	m := new(MockJobReader)
	want := domain.JobFilter{Status: domain.JobStatusFailed, Operation: "import_record", Page: 2, PageSize: 100}
	m.On("List", mock.Anything, want).Return([]*domain.Job{testJob()}, int64(101), nil)

	w := serve(setupJobRouter(m), http.MethodGet, "/jobs?status=FAILED&operation=import_record&page=2&page_size=500", "")

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(101), resp.Meta.Total)
	assert.Equal(t, 2, resp.Meta.TotalPages)
	m.AssertExpectations(t)
}

func TestJobHandler_ListDefaults(t *testing.T) {
	m := new(MockJobReader)
	m.On("List", mock.Anything, domain.JobFilter{Page: 1, PageSize: 20}).Return([]*domain.Job{}, int64(0), nil)

	w := serve(setupJobRouter(m), http.MethodGet, "/jobs", "")

	assert.Equal(t, http.StatusOK, w.Code)
	m.AssertExpectations(t)
}

func TestJobHandler_ListRejectsBadQuery(t *testing.T) {
	r := setupJobRouter(new(MockJobReader))
	for _, q := range []string{"status=LOST", "page=0", "page=x", "page_size=-1"} {
		w := serve(r, http.MethodGet, "/jobs?"+q, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}
