package models

import (
	"encoding/json"
	"time"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Binding
// ---------------------------------------------------------------------------

// BindingModel is the persistence model for the Binding domain entity.
// ExternalID is NULL while unbound so the unique index only covers bound rows.
type BindingModel struct {
	ID            uuid.UUID  `gorm:"type:uuid;primary_key"`
	Model         string     `gorm:"type:varchar(128);not null;uniqueIndex:idx_binding_external,priority:1;index:idx_binding_internal,priority:1"`
	BackendID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_binding_external,priority:2;index:idx_binding_internal,priority:2"`
	ExternalID    *string    `gorm:"type:varchar(255);uniqueIndex:idx_binding_external,priority:3"`
	AltExternalID string     `gorm:"type:varchar(255);index"`
	InternalID    uuid.UUID  `gorm:"type:uuid;index:idx_binding_internal,priority:3"`
	Data          string     `gorm:"type:jsonb;column:data"`
	Values        string     `gorm:"type:jsonb;column:binding_values"`
	SyncDate      *time.Time `gorm:"index"`
	CreatedAt     time.Time  `gorm:"not null"`
	UpdatedAt     time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (BindingModel) TableName() string {
	return "connector_bindings"
}

// ToDomain converts the persistence model to a domain Binding.
func (m *BindingModel) ToDomain() *integration.Binding {
	b := &integration.Binding{
		ID:            m.ID,
		Model:         m.Model,
		BackendID:     m.BackendID,
		AltExternalID: m.AltExternalID,
		InternalID:    m.InternalID,
		SyncDate:      m.SyncDate,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.ExternalID != nil {
		b.ExternalID = *m.ExternalID
	}
	if m.Data != "" && m.Data != "{}" {
		b.Data = json.RawMessage(m.Data)
	}
	b.Values = decodeRecord(m.Values)
	return b
}

// FromDomain populates the persistence model from a domain Binding.
func (m *BindingModel) FromDomain(b *integration.Binding) {
	m.ID = b.ID
	m.Model = b.Model
	m.BackendID = b.BackendID
	m.ExternalID = nil
	if b.ExternalID != "" {
		ext := b.ExternalID
		m.ExternalID = &ext
	}
	m.AltExternalID = b.AltExternalID
	m.InternalID = b.InternalID
	m.Data = "{}"
	if len(b.Data) > 0 {
		m.Data = string(b.Data)
	}
	m.Values = encodeRecord(b.Values)
	m.SyncDate = b.SyncDate
	m.CreatedAt = b.CreatedAt
	m.UpdatedAt = b.UpdatedAt
}

// ---------------------------------------------------------------------------
// Backend
// ---------------------------------------------------------------------------

// BackendModel is the persistence model for the Backend domain entity.
type BackendModel struct {
	ID              uuid.UUID                `gorm:"type:uuid;primary_key"`
	Name            string                   `gorm:"type:varchar(100);not null;uniqueIndex"`
	Version         integration.Version      `gorm:"type:varchar(10);not null"`
	Location        string                   `gorm:"type:varchar(512);not null"`
	Username        string                   `gorm:"type:varchar(100)"`
	Password        string                   `gorm:"type:varchar(255)"`
	Token           string                   `gorm:"type:varchar(255)"`
	SyncStrategy    integration.SyncStrategy `gorm:"type:varchar(20);not null;default:'magento_first'"`
	StockField      string                   `gorm:"type:varchar(64);not null;default:'virtual_available'"`
	DefaultLang     string                   `gorm:"type:varchar(10)"`
	CheckpointsJSON string                   `gorm:"type:jsonb;column:import_checkpoints"`
	Active          bool                     `gorm:"not null;index"`
	CreatedAt       time.Time                `gorm:"not null"`
	UpdatedAt       time.Time                `gorm:"not null"`
}

// TableName returns the table name for GORM
func (BackendModel) TableName() string {
	return "connector_backends"
}

// ToDomain converts the persistence model to a domain Backend.
func (m *BackendModel) ToDomain() *integration.Backend {
	b := &integration.Backend{
		ID:                m.ID,
		Name:              m.Name,
		Version:           m.Version,
		Location:          m.Location,
		Username:          m.Username,
		Password:          m.Password,
		Token:             m.Token,
		SyncStrategy:      m.SyncStrategy,
		StockField:        m.StockField,
		DefaultLang:       m.DefaultLang,
		ImportCheckpoints: make(map[string]time.Time),
		Active:            m.Active,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	if m.CheckpointsJSON != "" {
		var checkpoints map[string]time.Time
		if err := json.Unmarshal([]byte(m.CheckpointsJSON), &checkpoints); err == nil && checkpoints != nil {
			b.ImportCheckpoints = checkpoints
		}
	}
	return b
}

// FromDomain populates the persistence model from a domain Backend.
func (m *BackendModel) FromDomain(b *integration.Backend) {
	m.ID = b.ID
	m.Name = b.Name
	m.Version = b.Version
	m.Location = b.Location
	m.Username = b.Username
	m.Password = b.Password
	m.Token = b.Token
	m.SyncStrategy = b.SyncStrategy
	m.StockField = b.StockField
	m.DefaultLang = b.DefaultLang
	m.CheckpointsJSON = "{}"
	if len(b.ImportCheckpoints) > 0 {
		if raw, err := json.Marshal(b.ImportCheckpoints); err == nil {
			m.CheckpointsJSON = string(raw)
		}
	}
	m.Active = b.Active
	m.CreatedAt = b.CreatedAt
	m.UpdatedAt = b.UpdatedAt
}

// ---------------------------------------------------------------------------
// Entity
// ---------------------------------------------------------------------------

// EntityModel stores internal records the connector materializes.
type EntityModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	Model     string    `gorm:"type:varchar(128);not null;index:idx_entity_key,priority:1"`
	Key       string    `gorm:"type:varchar(255);column:entity_key;index:idx_entity_key,priority:2"`
	Values    string    `gorm:"type:jsonb;column:field_values"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (EntityModel) TableName() string {
	return "connector_entities"
}

// ToDomain converts the persistence model to a domain Entity.
func (m *EntityModel) ToDomain() *integration.Entity {
	return &integration.Entity{
		ID:        m.ID,
		Model:     m.Model,
		Key:       m.Key,
		Values:    decodeRecord(m.Values),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain Entity.
func (m *EntityModel) FromDomain(e *integration.Entity) {
	m.ID = e.ID
	m.Model = e.Model
	m.Key = e.Key
	m.Values = encodeRecord(e.Values)
	m.CreatedAt = e.CreatedAt
	m.UpdatedAt = e.UpdatedAt
}

// ---------------------------------------------------------------------------
// Job
// ---------------------------------------------------------------------------

// JobModel is the persistence model for deferred jobs.
type JobModel struct {
	ID          uuid.UUID             `gorm:"type:uuid;primary_key"`
	Operation   string                `gorm:"type:varchar(64);not null;index"`
	Args        string                `gorm:"type:jsonb;column:args"`
	IdentityKey string                `gorm:"type:varchar(64);not null;index:idx_job_identity,priority:1"`
	Priority    int                   `gorm:"not null;index:idx_job_identity,priority:2;index:idx_job_due,priority:3"`
	Status      integration.JobStatus `gorm:"type:varchar(20);not null;default:'PENDING';index:idx_job_identity,priority:3;index:idx_job_due,priority:1"`
	Attempts    int                   `gorm:"not null"`
	MaxAttempts int                   `gorm:"not null"`
	ETA         time.Time             `gorm:"column:eta;not null;index:idx_job_due,priority:2"`
	Result      string                `gorm:"type:text"`
	LastError   string                `gorm:"type:text"`
	CreatedAt   time.Time             `gorm:"not null"`
	StartedAt   *time.Time
	FinishedAt  *time.Time `gorm:"index"`
}

// TableName returns the table name for GORM
func (JobModel) TableName() string {
	return "connector_jobs"
}

// ToDomain converts the persistence model to a domain Job.
func (m *JobModel) ToDomain() *integration.Job {
	return &integration.Job{
		ID:          m.ID,
		Operation:   m.Operation,
		Args:        decodeRecord(m.Args),
		IdentityKey: m.IdentityKey,
		Priority:    m.Priority,
		Status:      m.Status,
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		ETA:         m.ETA,
		Result:      m.Result,
		LastError:   m.LastError,
		CreatedAt:   m.CreatedAt,
		StartedAt:   m.StartedAt,
		FinishedAt:  m.FinishedAt,
	}
}

// FromDomain populates the persistence model from a domain Job.
func (m *JobModel) FromDomain(j *integration.Job) {
	m.ID = j.ID
	m.Operation = j.Operation
	m.Args = encodeRecord(j.Args)
	m.IdentityKey = j.IdentityKey
	m.Priority = j.Priority
	m.Status = j.Status
	m.Attempts = j.Attempts
	m.MaxAttempts = j.MaxAttempts
	m.ETA = j.ETA.UTC()
	m.Result = j.Result
	m.LastError = j.LastError
	m.CreatedAt = j.CreatedAt.UTC()
	m.StartedAt = utcPtr(j.StartedAt)
	m.FinishedAt = utcPtr(j.FinishedAt)
}

// utcPtr normalizes stored times so that due-date comparisons also hold on
// engines comparing them as text.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// ---------------------------------------------------------------------------
// JSON helpers
// ---------------------------------------------------------------------------

func encodeRecord(r integration.Record) string {
	raw, err := r.JSON()
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func decodeRecord(raw string) integration.Record {
	r, err := integration.DecodeRecord([]byte(raw))
	if err != nil {
		return integration.Record{}
	}
	return r
}
