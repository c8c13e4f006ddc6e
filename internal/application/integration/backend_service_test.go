package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
)

// MockBackendRepository is a mock implementation of BackendRepository
type MockBackendRepository struct {
	mock.Mock
}

func (m *MockBackendRepository) Create(ctx context.Context, backend *integration.Backend) error {
	return m.Called(ctx, backend).Error(0)
}

func (m *MockBackendRepository) Update(ctx context.Context, backend *integration.Backend) error {
	return m.Called(ctx, backend).Error(0)
}

func (m *MockBackendRepository) GetByID(ctx context.Context, id uuid.UUID) (*integration.Backend, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Backend), args.Error(1)
}

func (m *MockBackendRepository) FindAll(ctx context.Context, activeOnly bool) ([]*integration.Backend, error) {
	args := m.Called(ctx, activeOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*integration.Backend), args.Error(1)
}

func validationFields(t *testing.T, err error) []string {
	t.Helper()
	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs), "expected validation errors, got %v", err)
	fields := make([]string, len(verrs))
	for i, e := range verrs {
		fields[i] = e.Field()
	}
	return fields
}

func TestBackendService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a Magento 2 backend", func(t *testing.T) {
		repo := new(MockBackendRepository)
		repo.On("FindAll", ctx, false).Return([]*integration.Backend{}, nil)
		repo.On("Create", ctx, mock.AnythingOfType("*integration.Backend")).Return(nil)
		svc := NewBackendService(repo, nil)

		backend, err := svc.Create(ctx, CreateBackendRequest{
			Name:         "shop",
			Version:      "2.0",
			Location:     "https://shop.example.com/",
			Token:        "secret",
			SyncStrategy: "odoo_first",
			DefaultLang:  "fr_FR",
		})
		require.NoError(t, err)
		assert.Equal(t, "https://shop.example.com", backend.Location)
		assert.Equal(t, integration.SyncOdooFirst, backend.SyncStrategy)
		assert.Equal(t, integration.DefaultStockField, backend.StockField)
		assert.Equal(t, "fr_FR", backend.DefaultLang)
		assert.True(t, backend.Active)
		repo.AssertExpectations(t)
	})

	t.Run("Magento 1.7 needs api credentials", func(t *testing.T) {
		svc := NewBackendService(new(MockBackendRepository), nil)
		_, err := svc.Create(ctx, CreateBackendRequest{
			Name:     "legacy",
			Version:  "1.7",
			Location: "https://legacy.example.com",
			Token:    "unused",
		})
		assert.ElementsMatch(t, []string{"username", "password"}, validationFields(t, err))
	})

	t.Run("Magento 2 needs a token", func(t *testing.T) {
		svc := NewBackendService(new(MockBackendRepository), nil)
		_, err := svc.Create(ctx, CreateBackendRequest{
			Name:     "shop",
			Version:  "2.0",
			Location: "https://shop.example.com",
		})
		assert.Equal(t, []string{"token"}, validationFields(t, err))
	})

	t.Run("rejects unknown values", func(t *testing.T) {
		svc := NewBackendService(new(MockBackendRepository), nil)
		_, err := svc.Create(ctx, CreateBackendRequest{
			Name:         "shop",
			Version:      "3.0",
			Location:     "not a url",
			SyncStrategy: "whoever_first",
		})
		assert.ElementsMatch(t, []string{"version", "location", "sync_strategy"}, validationFields(t, err))
	})

	t.Run("rejects a taken name", func(t *testing.T) {
		existing, err := integration.NewBackend("Shop", integration.Version20, "https://a.example.com")
		require.NoError(t, err)
		repo := new(MockBackendRepository)
		repo.On("FindAll", ctx, false).Return([]*integration.Backend{existing}, nil)
		svc := NewBackendService(repo, nil)

		_, err = svc.Create(ctx, CreateBackendRequest{
			Name: "shop", Version: "2.0", Location: "https://b.example.com", Token: "t",
		})
		assert.ErrorIs(t, err, ErrBackendNameTaken)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}

func TestBackendService_SetActive(t *testing.T) {
	ctx := context.Background()
	backend, err := integration.NewBackend("shop", integration.Version20, "https://shop.example.com")
	require.NoError(t, err)

	repo := new(MockBackendRepository)
	repo.On("GetByID", ctx, backend.ID).Return(backend, nil)
	repo.On("Update", ctx, backend).Return(nil).Once()
	svc := NewBackendService(repo, nil)

	got, err := svc.SetActive(ctx, backend.ID, false)
	require.NoError(t, err)
	assert.False(t, got.Active)

	// unchanged state is not written again
	_, err = svc.SetActive(ctx, backend.ID, false)
	require.NoError(t, err)
	repo.AssertNumberOfCalls(t, "Update", 1)

	missing := uuid.New()
	repo.On("GetByID", ctx, missing).Return(nil, integration.ErrBackendNotFound)
	_, err = svc.SetActive(ctx, missing, true)
	assert.ErrorIs(t, err, integration.ErrBackendNotFound)
}

func TestToBackendResponse_HidesCredentials(t *testing.T) {
	backend, err := integration.NewBackend("shop", integration.Version20, "https://shop.example.com")
	require.NoError(t, err)
	backend.Token = "secret"
	backend.Password = "key"

	resp := ToBackendResponse(backend)
	assert.True(t, resp.HasToken)
	assert.Equal(t, "2.0", resp.Version)
	assert.NotNil(t, resp.ImportCheckpoints)
}
