package integration

import (
	"errors"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// Binding errors
	ErrBindingNotFound       = errors.New("integration: binding not found")
	ErrDuplicateBinding      = errors.New("integration: external id already bound on this backend")
	ErrBindingConflict       = errors.New("integration: binding already has a different external id")
	ErrBindingInvalidModel   = errors.New("integration: binding model is required")
	ErrBindingInvalidBackend = errors.New("integration: binding backend is required")

	// Backend errors
	ErrBackendNotFound       = errors.New("integration: backend not found")
	ErrBackendInvalidName    = errors.New("integration: backend name is required")
	ErrBackendInvalidVersion = errors.New("integration: unsupported backend version")
	ErrBackendInvalidURL     = errors.New("integration: backend location is required")
	ErrBackendInactive       = errors.New("integration: backend is not active")

	// Entity errors
	ErrEntityNotFound = errors.New("integration: entity not found")

	// Component lookup
	ErrComponentNotFound   = errors.New("integration: no component registered")
	ErrComponentRegistered = errors.New("integration: component already registered")

	// Remote errors
	ErrIDMissingInBackend = errors.New("integration: record does not exist in backend")
	ErrEmptyCreateResult  = errors.New("integration: create returned no external id")
	ErrCapabilityMissing  = errors.New("integration: adapter does not support this operation")
	ErrRecordLocked       = errors.New("integration: record is locked by a concurrent job")
	ErrJobNotFound        = errors.New("integration: job not found")
	ErrUnknownOperation   = errors.New("integration: unknown job operation")
)

// ---------------------------------------------------------------------------
// Typed errors
// ---------------------------------------------------------------------------

// MappingError is raised when a record references another record whose
// binding does not exist yet. The whole mapping is abandoned.
type MappingError struct {
	Model      string
	ExternalID string
	Reason     string
}

func (e *MappingError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("mapping error: %s", e.Reason)
	}
	return fmt.Sprintf("mapping error: %s %q: %s", e.Model, e.ExternalID, e.Reason)
}

// NewMappingError builds a MappingError for a missing related binding.
func NewMappingError(model, externalID string) *MappingError {
	return &MappingError{
		Model:      model,
		ExternalID: externalID,
		Reason:     "related record is not bound, import it first",
	}
}

// InvalidDataError is raised when fetched data fails validation.
type InvalidDataError struct {
	Reason string
}

func (e *InvalidDataError) Error() string {
	return "invalid data: " + e.Reason
}

// NothingToDoError cancels a job without failing it.
type NothingToDoError struct {
	Reason string
}

func (e *NothingToDoError) Error() string {
	return e.Reason
}

// RetryableJobError asks the job layer to retry later.
type RetryableJobError struct {
	Reason     string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableJobError) Error() string {
	return e.Reason
}

func (e *RetryableJobError) Unwrap() error {
	return e.Err
}

// RemoteFault is a fault reported by the remote backend (XML-RPC fault or
// REST error body).
type RemoteFault struct {
	Code    int
	Message string
	Err     error
}

func (e *RemoteFault) Error() string {
	return fmt.Sprintf("remote fault %d: %s", e.Code, e.Message)
}

func (e *RemoteFault) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether retrying err without operator action is
// pointless.
func IsPermanent(err error) bool {
	var mappingErr *MappingError
	var invalidErr *InvalidDataError
	return errors.As(err, &mappingErr) ||
		errors.As(err, &invalidErr) ||
		errors.Is(err, ErrEmptyCreateResult) ||
		errors.Is(err, ErrBindingConflict) ||
		errors.Is(err, ErrDuplicateBinding) ||
		errors.Is(err, ErrComponentNotFound) ||
		errors.Is(err, ErrUnknownOperation)
}

// IsNothingToDo reports whether err is a job cancellation.
func IsNothingToDo(err error) bool {
	var target *NothingToDoError
	return errors.As(err, &target)
}
