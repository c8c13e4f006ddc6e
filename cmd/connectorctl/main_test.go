package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/connectorhq/magento-connector/internal/application/connector"
	appintegration "github.com/connectorhq/magento-connector/internal/application/integration"
	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/connectorhq/magento-connector/internal/infrastructure/auth"
	"github.com/connectorhq/magento-connector/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSyncer struct {
	mock.Mock
}

func (m *MockSyncer) ImportBatch(ctx context.Context, backendID uuid.UUID, model string, filters integration.Filters) (*connector.BatchSummary, error) {
	args := m.Called(ctx, backendID, model, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*connector.BatchSummary), args.Error(1)
}

func (m *MockSyncer) ImportRecord(ctx context.Context, backendID uuid.UUID, model, externalID string, force bool) (string, error) {
	args := m.Called(ctx, backendID, model, externalID, force)
	return args.String(0), args.Error(1)
}

func (m *MockSyncer) ExportRecord(ctx context.Context, bindingID uuid.UUID, fields []string) (string, error) {
	args := m.Called(ctx, bindingID, fields)
	return args.String(0), args.Error(1)
}

func (m *MockSyncer) ExportInventory(ctx context.Context, bindingID uuid.UUID, fields []string) (string, error) {
	args := m.Called(ctx, bindingID, fields)
	return args.String(0), args.Error(1)
}

func (m *MockSyncer) ExportDeleteRecord(ctx context.Context, backendID uuid.UUID, model, externalID string) (string, error) {
	args := m.Called(ctx, backendID, model, externalID)
	return args.String(0), args.Error(1)
}

func (m *MockSyncer) handle(args mock.Arguments) (*integration.JobHandle, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.JobHandle), args.Error(1)
}

func (m *MockSyncer) DelayImportBatch(ctx context.Context, backendID uuid.UUID, model string) (*integration.JobHandle, error) {
	return m.handle(m.Called(ctx, backendID, model))
}

func (m *MockSyncer) DelayImportRecord(ctx context.Context, backendID uuid.UUID, model, externalID string, force bool) (*integration.JobHandle, error) {
	return m.handle(m.Called(ctx, backendID, model, externalID, force))
}

func (m *MockSyncer) DelayExportRecord(ctx context.Context, bindingID uuid.UUID, fields []string) (*integration.JobHandle, error) {
	return m.handle(m.Called(ctx, bindingID, fields))
}

func (m *MockSyncer) DelayExportInventory(ctx context.Context, bindingID uuid.UUID) (*integration.JobHandle, error) {
	return m.handle(m.Called(ctx, bindingID))
}

func (m *MockSyncer) DelayExportDeleteRecord(ctx context.Context, backendID uuid.UUID, model, externalID string) (*integration.JobHandle, error) {
	return m.handle(m.Called(ctx, backendID, model, externalID))
}

type MockBackendManager struct {
	mock.Mock
}

func (m *MockBackendManager) Create(ctx context.Context, req appintegration.CreateBackendRequest) (*integration.Backend, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Backend), args.Error(1)
}

func (m *MockBackendManager) List(ctx context.Context, activeOnly bool) ([]*integration.Backend, error) {
	args := m.Called(ctx, activeOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*integration.Backend), args.Error(1)
}

type harness struct {
	out      *bytes.Buffer
	sync     *MockSyncer
	backends *MockBackendManager
	opened   int
	closed   int
	cli      *cli
}

func newHarness() *harness {
	h := &harness{
		out:      &bytes.Buffer{},
		sync:     &MockSyncer{},
		backends: &MockBackendManager{},
	}
	h.cli = &cli{
		out: h.out,
		loadFn: func() (*config.Config, error) {
			return &config.Config{JWT: config.JWTConfig{
				Secret:          "0123456789abcdef0123456789abcdef",
				Issuer:          "magento-connector",
				TokenExpiration: time.Hour,
			}}, nil
		},
		openFn: func(context.Context, *config.Config) (*env, error) {
			h.opened++
			return &env{
				sync:     h.sync,
				backends: h.backends,
				close:    func() error { h.closed++; return nil },
			}, nil
		},
	}
	return h
}

func (h *harness) run(args ...string) error {
	root := h.cli.rootCmd()
	root.SetArgs(args)
	root.SetErr(&bytes.Buffer{})
	return root.ExecuteContext(context.Background())
}

func (h *harness) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(h.out.Bytes(), v))
}

func TestImportBatch_Enqueues(t *testing.T) {
	h := newHarness()
	backendID := uuid.New()
	jobID := uuid.New()
	h.sync.On("DelayImportBatch", mock.Anything, backendID, "magento.sale.order").
		Return(&integration.JobHandle{ID: jobID}, nil)

	require.NoError(t, h.run("import-batch", backendID.String(), "magento.sale.order"))

	var resp appintegration.JobHandleResponse
	h.decode(t, &resp)
	assert.Equal(t, jobID, resp.JobID)
	assert.False(t, resp.Deduplicated)
	assert.Equal(t, 1, h.closed)
	h.sync.AssertExpectations(t)
}

func TestImportBatch_Inline(t *testing.T) {
	h := newHarness()
	backendID := uuid.New()
	h.sync.On("ImportBatch", mock.Anything, backendID, "magento.website", integration.Filters{}).
		Return(&connector.BatchSummary{Found: 2, Imported: 2}, nil)

	require.NoError(t, h.run("import-batch", "--now", backendID.String(), "magento.website"))

	var summary connector.BatchSummary
	h.decode(t, &summary)
	assert.Equal(t, 2, summary.Imported)
	h.sync.AssertNotCalled(t, "DelayImportBatch", mock.Anything, mock.Anything, mock.Anything)
}

func TestImportBatch_InvalidBackendID(t *testing.T) {
	h := newHarness()

	err := h.run("import-batch", "not-a-uuid", "magento.sale.order")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid backend id")
	assert.Zero(t, h.opened)
}

func TestImportRecord_ForceFlag(t *testing.T) {
	h := newHarness()
	backendID := uuid.New()
	h.sync.On("DelayImportRecord", mock.Anything, backendID, "magento.product.product", "24-MB01", true).
		Return(&integration.JobHandle{ID: uuid.New(), Deduplicated: true}, nil)

	require.NoError(t, h.run("import-record", "--force", backendID.String(), "magento.product.product", "24-MB01"))

	var resp appintegration.JobHandleResponse
	h.decode(t, &resp)
	assert.True(t, resp.Deduplicated)
	h.sync.AssertExpectations(t)
}

func TestImportRecord_InlineError(t *testing.T) {
	h := newHarness()
	backendID := uuid.New()
	h.sync.On("ImportRecord", mock.Anything, backendID, "magento.product.product", "42", false).
		Return("", integration.ErrIDMissingInBackend)

	err := h.run("import-record", "--now", backendID.String(), "magento.product.product", "42")
	assert.ErrorIs(t, err, integration.ErrIDMissingInBackend)
	assert.Equal(t, 1, h.closed)
}

func TestExportRecord_Variants(t *testing.T) {
	bindingID := uuid.New()

	t.Run("delayed with fields", func(t *testing.T) {
		h := newHarness()
		h.sync.On("DelayExportRecord", mock.Anything, bindingID, []string{"name", "list_price"}).
			Return(&integration.JobHandle{ID: uuid.New()}, nil)
		require.NoError(t, h.run("export-record", "--fields", "name,list_price", bindingID.String()))
		h.sync.AssertExpectations(t)
	})

	t.Run("delayed inventory", func(t *testing.T) {
		h := newHarness()
		h.sync.On("DelayExportInventory", mock.Anything, bindingID).
			Return(&integration.JobHandle{ID: uuid.New()}, nil)
		require.NoError(t, h.run("export-record", "--inventory", bindingID.String()))
		h.sync.AssertExpectations(t)
	})

	t.Run("inline", func(t *testing.T) {
		h := newHarness()
		h.sync.On("ExportRecord", mock.Anything, bindingID, []string(nil)).Return("exported 24-MB01", nil)
		require.NoError(t, h.run("export-record", "--now", bindingID.String()))

		var res result
		h.decode(t, &res)
		assert.Equal(t, "exported 24-MB01", res.Result)
	})

	t.Run("inline inventory", func(t *testing.T) {
		h := newHarness()
		h.sync.On("ExportInventory", mock.Anything, bindingID, []string(nil)).Return("qty 3", nil)
		require.NoError(t, h.run("export-record", "--now", "--inventory", bindingID.String()))
		h.sync.AssertExpectations(t)
	})
}

func TestExportDelete(t *testing.T) {
	h := newHarness()
	backendID := uuid.New()
	h.sync.On("DelayExportDeleteRecord", mock.Anything, backendID, "magento.product.product", "24-MB01").
		Return(&integration.JobHandle{ID: uuid.New()}, nil)

	require.NoError(t, h.run("export-delete", backendID.String(), "magento.product.product", "24-MB01"))
	h.sync.AssertExpectations(t)
}

func TestBackendAdd(t *testing.T) {
	h := newHarness()
	backend, err := integration.NewBackend("shop", integration.Version20, "https://shop.example.com")
	require.NoError(t, err)
	backend.Token = "secret-token"

	h.backends.On("Create", mock.Anything, mock.MatchedBy(func(req appintegration.CreateBackendRequest) bool {
		return req.Name == "shop" && req.Version == "2.0" && req.Token == "secret-token" &&
			req.Location == "https://shop.example.com"
	})).Return(backend, nil)

	require.NoError(t, h.run("backend", "add",
		"--name", "shop",
		"--location", "https://shop.example.com",
		"--token", "secret-token",
	))

	var resp appintegration.BackendResponse
	h.decode(t, &resp)
	assert.Equal(t, backend.ID, resp.ID)
	assert.True(t, resp.HasToken)
	assert.NotContains(t, h.out.String(), "secret-token")
}

func TestBackendAdd_RequiresName(t *testing.T) {
	h := newHarness()
	err := h.run("backend", "add", "--location", "https://shop.example.com")
	require.Error(t, err)
	assert.Zero(t, h.opened)
}

func TestBackendList(t *testing.T) {
	h := newHarness()
	b1, _ := integration.NewBackend("a", integration.Version17, "https://a.example.com")
	b2, _ := integration.NewBackend("b", integration.Version20, "https://b.example.com")
	h.backends.On("List", mock.Anything, true).Return([]*integration.Backend{b1, b2}, nil)

	require.NoError(t, h.run("backend", "list", "--active"))

	var resp []appintegration.BackendResponse
	h.decode(t, &resp)
	require.Len(t, resp, 2)
	assert.Equal(t, "a", resp[0].Name)
	assert.Equal(t, "1.7", resp[0].Version)
}

func TestWorker_RequiresApp(t *testing.T) {
	h := newHarness()
	err := h.run("worker")
	require.Error(t, err)
	assert.Equal(t, 1, h.closed)
}

func TestToken(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("token", "--operator", "ops", "--ttl", "10m"))

	var resp struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	h.decode(t, &resp)
	assert.Zero(t, h.opened)

	cfg, err := h.cli.loadFn()
	require.NoError(t, err)
	claims, err := auth.NewJWTService(cfg.JWT).ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Operator)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), resp.ExpiresAt, time.Minute)
}

func TestOpenError(t *testing.T) {
	h := newHarness()
	h.cli.openFn = func(context.Context, *config.Config) (*env, error) {
		return nil, errors.New("database unreachable")
	}
	err := h.run("backend", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unreachable")
}
