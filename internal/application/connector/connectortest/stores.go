// Package connectortest provides in-memory implementations of the connector
// ports for tests.
package connectortest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Bindings
// ---------------------------------------------------------------------------

// BindingStore is an in-memory integration.BindingRepository.
type BindingStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*integration.Binding
	// seq keeps insertion order
	seq map[uuid.UUID]int
	// LockErr is returned by Lock when set
	LockErr error
	// Locks counts Lock calls
	Locks int
}

// NewBindingStore creates an empty store.
func NewBindingStore() *BindingStore {
	return &BindingStore{items: make(map[uuid.UUID]*integration.Binding), seq: make(map[uuid.UUID]int)}
}

func (s *BindingStore) GetByID(_ context.Context, id uuid.UUID) (*integration.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.items[id]
	if !ok {
		return nil, integration.ErrBindingNotFound
	}
	return b, nil
}

func (s *BindingStore) FindByExternalID(_ context.Context, model string, backendID uuid.UUID, field integration.ExternalField, value string) ([]*integration.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*integration.Binding
	for _, b := range s.sorted() {
		if b.Model != model || b.BackendID != backendID {
			continue
		}
		v := b.ExternalID
		if field == integration.FieldAltExternalID {
			v = b.AltExternalID
		}
		if v == value {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *BindingStore) FindByInternalID(_ context.Context, model string, backendID, internalID uuid.UUID) ([]*integration.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*integration.Binding
	for _, b := range s.sorted() {
		if b.Model == model && b.InternalID == internalID && (backendID == uuid.Nil || b.BackendID == backendID) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *BindingStore) FindAll(_ context.Context, filter integration.BindingFilter) ([]*integration.Binding, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*integration.Binding
	for _, b := range s.sorted() {
		if filter.Model != "" && b.Model != filter.Model {
			continue
		}
		if filter.BackendID != uuid.Nil && b.BackendID != filter.BackendID {
			continue
		}
		if filter.Bound != nil && b.IsBound() != *filter.Bound {
			continue
		}
		out = append(out, b)
	}
	return out, int64(len(out)), nil
}

func (s *BindingStore) Create(_ context.Context, binding *integration.Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if binding.IsBound() {
		for _, b := range s.items {
			if b.Model == binding.Model && b.BackendID == binding.BackendID && b.ExternalID == binding.ExternalID {
				return integration.ErrDuplicateBinding
			}
		}
	}
	s.items[binding.ID] = binding
	s.seq[binding.ID] = len(s.seq)
	return nil
}

func (s *BindingStore) Update(_ context.Context, binding *integration.Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[binding.ID]; !ok {
		return integration.ErrBindingNotFound
	}
	s.items[binding.ID] = binding
	return nil
}

func (s *BindingStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return integration.ErrBindingNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *BindingStore) Lock(context.Context, uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Locks++
	return s.LockErr
}

// All returns every binding of model.
func (s *BindingStore) All(model string) []*integration.Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*integration.Binding
	for _, b := range s.sorted() {
		if b.Model == model {
			out = append(out, b)
		}
	}
	return out
}

func (s *BindingStore) sorted() []*integration.Binding {
	out := make([]*integration.Binding, 0, len(s.items))
	for _, b := range s.items {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out
}

// ---------------------------------------------------------------------------
// Entities
// ---------------------------------------------------------------------------

// EntityStore is an in-memory integration.EntityStore.
type EntityStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*integration.Entity
	// Writes counts Create and Update calls
	Writes int
}

// NewEntityStore creates an empty store.
func NewEntityStore() *EntityStore {
	return &EntityStore{items: make(map[uuid.UUID]*integration.Entity)}
}

func (s *EntityStore) Create(_ context.Context, entity *integration.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Writes++
	s.items[entity.ID] = entity
	return nil
}

func (s *EntityStore) Update(_ context.Context, entity *integration.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[entity.ID]; !ok {
		return integration.ErrEntityNotFound
	}
	s.Writes++
	s.items[entity.ID] = entity
	return nil
}

func (s *EntityStore) GetByID(_ context.Context, model string, id uuid.UUID) (*integration.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[id]
	if !ok || e.Model != model {
		return nil, integration.ErrEntityNotFound
	}
	return e, nil
}

func (s *EntityStore) FindByKey(_ context.Context, model, key string) ([]*integration.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*integration.Entity
	for _, e := range s.items {
		if e.Model == model && e.Key == key {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *EntityStore) Delete(_ context.Context, model string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.items[id]; !ok || e.Model != model {
		return integration.ErrEntityNotFound
	}
	delete(s.items, id)
	return nil
}

// All returns every entity of model.
func (s *EntityStore) All(model string) []*integration.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*integration.Entity
	for _, e := range s.items {
		if e.Model == model {
			out = append(out, e)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Backends
// ---------------------------------------------------------------------------

// BackendStore is an in-memory integration.BackendRepository.
type BackendStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*integration.Backend
}

// NewBackendStore creates a store holding backends.
func NewBackendStore(backends ...*integration.Backend) *BackendStore {
	s := &BackendStore{items: make(map[uuid.UUID]*integration.Backend)}
	for _, b := range backends {
		s.items[b.ID] = b
	}
	return s
}

func (s *BackendStore) Create(_ context.Context, backend *integration.Backend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[backend.ID] = backend
	return nil
}

func (s *BackendStore) Update(_ context.Context, backend *integration.Backend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[backend.ID]; !ok {
		return integration.ErrBackendNotFound
	}
	s.items[backend.ID] = backend
	return nil
}

func (s *BackendStore) GetByID(_ context.Context, id uuid.UUID) (*integration.Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.items[id]
	if !ok {
		return nil, integration.ErrBackendNotFound
	}
	return b, nil
}

func (s *BackendStore) FindAll(_ context.Context, activeOnly bool) ([]*integration.Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*integration.Backend
	for _, b := range s.items {
		if !activeOnly || b.Active {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ---------------------------------------------------------------------------
// Jobs
// ---------------------------------------------------------------------------

// JobQueue is an in-memory integration.JobEnqueuer with identity
// deduplication among pending jobs.
type JobQueue struct {
	mu   sync.Mutex
	Jobs []*integration.Job
}

// NewJobQueue creates an empty queue.
func NewJobQueue() *JobQueue {
	return &JobQueue{}
}

func (q *JobQueue) Enqueue(_ context.Context, req integration.JobRequest) (*integration.JobHandle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := integration.IdentityKey(req.Operation, req.Args)
	for _, j := range q.Jobs {
		if j.IdentityKey == key && j.Priority == req.Priority && j.Status == integration.JobStatusPending {
			return &integration.JobHandle{ID: j.ID, IdentityKey: key, Deduplicated: true}, nil
		}
	}
	job := integration.NewJob(uuid.New(), req)
	q.Jobs = append(q.Jobs, job)
	return &integration.JobHandle{ID: job.ID, IdentityKey: key}, nil
}

// Operations lists the operation of every queued job.
func (q *JobQueue) Operations() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.Jobs))
	for _, j := range q.Jobs {
		out = append(out, j.Operation)
	}
	return out
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// TxManager runs fn directly and counts calls.
type TxManager struct {
	Calls int
}

func (t *TxManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	t.Calls++
	return fn(ctx)
}

// FixedClock returns a clock stuck at t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var (
	_ integration.BindingRepository  = (*BindingStore)(nil)
	_ integration.EntityStore        = (*EntityStore)(nil)
	_ integration.BackendRepository  = (*BackendStore)(nil)
	_ integration.JobEnqueuer        = (*JobQueue)(nil)
	_ integration.TransactionManager = (*TxManager)(nil)
)
