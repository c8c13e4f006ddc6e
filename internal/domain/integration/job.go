package integration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Job operations and priorities
// ---------------------------------------------------------------------------

// Operation names understood by the job dispatcher.
const (
	OperationImportBatch        = "import_batch"
	OperationImportRecord       = "import_record"
	OperationExportRecord       = "export_record"
	OperationExportDeleteRecord = "export_delete_record"
	OperationExportInventory    = "export_inventory"
)

// Default priorities; lower runs first.
const (
	PriorityImport = 10
	PriorityExport = 10
	PriorityStock  = 5
)

// ---------------------------------------------------------------------------
// JobStatus
// ---------------------------------------------------------------------------

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusStarted JobStatus = "STARTED"
	JobStatusDone    JobStatus = "DONE"
	JobStatusFailed  JobStatus = "FAILED"
)

// IsValid returns true if the status is valid
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusStarted, JobStatusDone, JobStatusFailed:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Job Entity
// ---------------------------------------------------------------------------

// Job is a deferred unit of work.
type Job struct {
	ID          uuid.UUID
	Operation   string
	Args        Record
	IdentityKey string
	Priority    int
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	// ETA is the earliest time the job may start
	ETA        time.Time
	Result     string
	LastError  string
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// DefaultMaxAttempts bounds retries of transient failures.
const DefaultMaxAttempts = 5

// JobRequest asks for deferred execution of an operation.
type JobRequest struct {
	Operation   string
	Args        Record
	Priority    int
	ETA         *time.Time
	MaxAttempts int
}

// JobHandle identifies an enqueued job. Deduplicated is true when the
// request collapsed into an already pending job.
type JobHandle struct {
	ID           uuid.UUID
	IdentityKey  string
	Deduplicated bool
}

// NewJob builds a pending job from a request.
func NewJob(id uuid.UUID, req JobRequest) *Job {
	now := time.Now()
	eta := now
	if req.ETA != nil {
		eta = *req.ETA
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	args := req.Args
	if args == nil {
		args = Record{}
	}
	return &Job{
		ID:          id,
		Operation:   req.Operation,
		Args:        args,
		IdentityKey: IdentityKey(req.Operation, args),
		Priority:    req.Priority,
		Status:      JobStatusPending,
		MaxAttempts: maxAttempts,
		ETA:         eta,
		CreatedAt:   now,
	}
}

// IdentityKey hashes an operation and its arguments. encoding/json sorts map
// keys, so equal arguments always produce the same key.
func IdentityKey(operation string, args Record) string {
	raw, _ := json.Marshal(args)
	sum := sha256.Sum256(append([]byte(operation+":"), raw...))
	return hex.EncodeToString(sum[:])
}

// MarkStarted moves the job to STARTED.
func (j *Job) MarkStarted() {
	now := time.Now()
	j.Status = JobStatusStarted
	j.Attempts++
	j.StartedAt = &now
}

// MarkDone records a successful (or cancelled) run.
func (j *Job) MarkDone(result string) {
	now := time.Now()
	j.Status = JobStatusDone
	j.Result = result
	j.LastError = ""
	j.FinishedAt = &now
}

// MarkFailed records a failure. Unless permanent or out of attempts, the job
// goes back to PENDING with an exponential backoff ETA.
func (j *Job) MarkFailed(errMsg string, permanent bool, retryAfter time.Duration) {
	now := time.Now()
	j.LastError = errMsg
	if permanent || j.Attempts >= j.MaxAttempts {
		j.Status = JobStatusFailed
		j.FinishedAt = &now
		return
	}
	if retryAfter <= 0 {
		retryAfter = time.Duration(1<<uint(j.Attempts)) * 10 * time.Second
	}
	j.Status = JobStatusPending
	j.ETA = now.Add(retryAfter)
}

// ---------------------------------------------------------------------------
// Job ports
// ---------------------------------------------------------------------------

// JobEnqueuer submits deferred work. Enqueueing twice with the same identity
// key and priority while the first job has not started returns the first
// job's handle.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, req JobRequest) (*JobHandle, error)
}

// JobDeduplicator arbitrates concurrent enqueues of the same identity.
type JobDeduplicator interface {
	// Claim registers jobID as owner of key unless another job owns it, in
	// which case the owner id is returned with claimed=false
	Claim(ctx context.Context, key string, jobID uuid.UUID, ttl time.Duration) (owner uuid.UUID, claimed bool, err error)
	// Release forgets the owner of key
	Release(ctx context.Context, key string) error
	// Close releases resources
	Close() error
}

// JobFilter narrows job listings.
type JobFilter struct {
	Status    JobStatus
	Operation string
	Page      int
	PageSize  int
	// SortBy and SortOrder order the listing; unknown values fall back to
	// created_at DESC
	SortBy    string
	SortOrder string
}

// JobRepository persists jobs.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	Update(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*Job, error)
	// FindPending returns the not-yet-started job with identity key and priority
	FindPending(ctx context.Context, identityKey string, priority int) (*Job, error)
	// ClaimDue atomically moves up to limit due pending jobs to STARTED
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Job, error)
	FindAll(ctx context.Context, filter JobFilter) ([]*Job, int64, error)
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}

// DedupKey is the deduplication key of an identity within a priority class.
func DedupKey(identityKey string, priority int) string {
	return identityKey + ":" + strconv.Itoa(priority)
}
