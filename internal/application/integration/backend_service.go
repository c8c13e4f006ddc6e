package integration

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
)

// ErrBackendNameTaken is returned when another backend uses the name.
var ErrBackendNameTaken = errors.New("integration: backend name already in use")

// BackendService manages the registered Magento backends.
type BackendService struct {
	repo     integration.BackendRepository
	validate *validator.Validate
	logger   *zap.Logger
}

// NewBackendService creates a new BackendService
func NewBackendService(repo integration.BackendRepository, logger *zap.Logger) *BackendService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackendService{
		repo:     repo,
		validate: NewValidator(),
		logger:   logger,
	}
}

// NewValidator returns a validator reporting fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Create validates req and registers a new backend.
// Validation failures are returned as validator.ValidationErrors.
func (s *BackendService) Create(ctx context.Context, req CreateBackendRequest) (*integration.Backend, error) {
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindAll(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, b := range existing {
		if strings.EqualFold(b.Name, req.Name) {
			return nil, ErrBackendNameTaken
		}
	}

	backend, err := integration.NewBackend(req.Name, integration.Version(req.Version), req.Location)
	if err != nil {
		return nil, err
	}
	backend.Username = req.Username
	backend.Password = req.Password
	backend.Token = req.Token
	if req.SyncStrategy != "" {
		backend.SyncStrategy = integration.SyncStrategy(req.SyncStrategy)
	}
	if req.StockField != "" {
		backend.StockField = req.StockField
	}
	if req.DefaultLang != "" {
		backend.DefaultLang = req.DefaultLang
	}

	if err := s.repo.Create(ctx, backend); err != nil {
		return nil, err
	}
	s.logger.Info("Backend registered",
		zap.String("backend_id", backend.ID.String()),
		zap.String("name", backend.Name),
		zap.String("version", backend.Version.String()),
	)
	return backend, nil
}

// Get returns a backend by id
func (s *BackendService) Get(ctx context.Context, id uuid.UUID) (*integration.Backend, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns the backends, optionally only the active ones
func (s *BackendService) List(ctx context.Context, activeOnly bool) ([]*integration.Backend, error) {
	return s.repo.FindAll(ctx, activeOnly)
}

// SetActive enables or disables a backend. Inactive backends are skipped by
// scheduled imports and refuse new jobs.
func (s *BackendService) SetActive(ctx context.Context, id uuid.UUID, active bool) (*integration.Backend, error) {
	backend, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if backend.Active == active {
		return backend, nil
	}
	backend.Active = active
	backend.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, backend); err != nil {
		return nil, err
	}
	s.logger.Info("Backend state changed",
		zap.String("backend_id", backend.ID.String()),
		zap.Bool("active", active),
	)
	return backend, nil
}
