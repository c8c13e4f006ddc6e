package integration

import (
	"time"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Request DTOs
// ---------------------------------------------------------------------------

// CreateBackendRequest represents a request to register a Magento backend.
// Magento 1.7 authenticates with an API user and key, Magento 2 with an
// integration access token.
type CreateBackendRequest struct {
	Name         string `json:"name" validate:"required,max=100"`
	Version      string `json:"version" validate:"required,oneof=1.7 2.0"`
	Location     string `json:"location" validate:"required,url,max=512"`
	Username     string `json:"username,omitempty" validate:"required_if=Version 1.7,max=100"`
	Password     string `json:"password,omitempty" validate:"required_if=Version 1.7,max=255"`
	Token        string `json:"token,omitempty" validate:"required_if=Version 2.0,max=255"`
	SyncStrategy string `json:"sync_strategy,omitempty" validate:"omitempty,oneof=odoo_first magento_first"`
	StockField   string `json:"stock_field,omitempty" validate:"omitempty,max=64"`
	DefaultLang  string `json:"default_lang,omitempty" validate:"omitempty,max=10"`
}

// ---------------------------------------------------------------------------
// Response DTOs
// ---------------------------------------------------------------------------

// BackendResponse represents a backend in API responses. Credentials are
// never returned.
type BackendResponse struct {
	ID                uuid.UUID            `json:"id"`
	Name              string               `json:"name"`
	Version           string               `json:"version"`
	Location          string               `json:"location"`
	Username          string               `json:"username,omitempty"`
	HasToken          bool                 `json:"has_token"`
	SyncStrategy      string               `json:"sync_strategy"`
	StockField        string               `json:"stock_field"`
	DefaultLang       string               `json:"default_lang"`
	ImportCheckpoints map[string]time.Time `json:"import_checkpoints"`
	Active            bool                 `json:"active"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// JobResponse represents a deferred job in API responses
type JobResponse struct {
	ID          uuid.UUID      `json:"id"`
	Operation   string         `json:"operation"`
	Args        map[string]any `json:"args"`
	Priority    int            `json:"priority"`
	Status      string         `json:"status"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	ETA         time.Time      `json:"eta"`
	Result      string         `json:"result,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

// JobHandleResponse is returned when a job is enqueued
type JobHandleResponse struct {
	JobID        uuid.UUID `json:"job_id"`
	Deduplicated bool      `json:"deduplicated"`
}

// ---------------------------------------------------------------------------
// Conversion functions
// ---------------------------------------------------------------------------

// ToBackendResponse converts a domain Backend to a response DTO
func ToBackendResponse(b *integration.Backend) BackendResponse {
	checkpoints := make(map[string]time.Time, len(b.ImportCheckpoints))
	for model, at := range b.ImportCheckpoints {
		checkpoints[model] = at
	}
	return BackendResponse{
		ID:                b.ID,
		Name:              b.Name,
		Version:           b.Version.String(),
		Location:          b.Location,
		Username:          b.Username,
		HasToken:          b.Token != "",
		SyncStrategy:      string(b.SyncStrategy),
		StockField:        b.StockField,
		DefaultLang:       b.DefaultLang,
		ImportCheckpoints: checkpoints,
		Active:            b.Active,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

// ToBackendResponses converts a list of backends
func ToBackendResponses(backends []*integration.Backend) []BackendResponse {
	out := make([]BackendResponse, len(backends))
	for i, b := range backends {
		out[i] = ToBackendResponse(b)
	}
	return out
}

// ToJobResponse converts a domain Job to a response DTO
func ToJobResponse(j *integration.Job) JobResponse {
	return JobResponse{
		ID:          j.ID,
		Operation:   j.Operation,
		Args:        j.Args,
		Priority:    j.Priority,
		Status:      string(j.Status),
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		ETA:         j.ETA,
		Result:      j.Result,
		LastError:   j.LastError,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		FinishedAt:  j.FinishedAt,
	}
}

// ToJobHandleResponse converts a job handle
func ToJobHandleResponse(h *integration.JobHandle) JobHandleResponse {
	return JobHandleResponse{JobID: h.ID, Deduplicated: h.Deduplicated}
}
