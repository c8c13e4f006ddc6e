package cache

import (
	"context"
	"sync"
	"time"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/google/uuid"
)

// claim is the owner of an identity key until expiresAt
type claim struct {
	owner     uuid.UUID
	expiresAt time.Time
}

// InMemoryJobDeduplicator implements JobDeduplicator with a map.
// This is suitable for single-instance deployments and testing
type InMemoryJobDeduplicator struct {
	mu        sync.Mutex
	claims    map[string]claim
	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryJobDeduplicator creates an in-memory deduplicator.
// It starts a background goroutine that drops expired claims
func NewInMemoryJobDeduplicator() *InMemoryJobDeduplicator {
	d := &InMemoryJobDeduplicator{
		claims:   make(map[string]claim),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.cleanupLoop()

	return d
}

// Claim registers jobID as owner of key. An unexpired claim by another job
// wins and its owner is returned.
func (d *InMemoryJobDeduplicator) Claim(_ context.Context, key string, jobID uuid.UUID, ttl time.Duration) (uuid.UUID, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if c, exists := d.claims[key]; exists && now.Before(c.expiresAt) {
		return c.owner, c.owner == jobID, nil
	}
	d.claims[key] = claim{owner: jobID, expiresAt: now.Add(ttl)}
	return jobID, true, nil
}

// Release forgets the owner of key
func (d *InMemoryJobDeduplicator) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claims, key)
	return nil
}

// Close stops the cleanup goroutine. Safe to call multiple times
func (d *InMemoryJobDeduplicator) Close() error {
	d.closeOnce.Do(func() {
		close(d.stopChan)
		d.wg.Wait()
	})
	return nil
}

func (d *InMemoryJobDeduplicator) cleanupLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.cleanup()
		}
	}
}

func (d *InMemoryJobDeduplicator) cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, c := range d.claims {
		if !now.Before(c.expiresAt) {
			delete(d.claims, key)
		}
	}
}

// Size returns the number of claims held (for testing/monitoring)
func (d *InMemoryJobDeduplicator) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.claims)
}

var _ integration.JobDeduplicator = (*InMemoryJobDeduplicator)(nil)
