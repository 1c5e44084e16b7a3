package credcache

import (
	"context"
	"sync"
	"time"
)

// MemoryTier implements Tier using an in-memory map with TTL-based
// expiration. It stands in for a network cache in tests and single-node
// deployments.
type MemoryTier struct {
	mu      sync.RWMutex
	entries map[string]tierEntry
}

type tierEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryTier creates a new in-memory shared tier.
func NewMemoryTier() *MemoryTier {
	return &MemoryTier{entries: make(map[string]tierEntry)}
}

// Get returns the raw value for key, or ErrTierMiss.
func (t *MemoryTier) Get(_ context.Context, key string) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, ErrTierMiss
	}
	return entry.value, nil
}

// Set stores value under key for at most ttl.
func (t *MemoryTier) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[key] = tierEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Delete removes key.
func (t *MemoryTier) Delete(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.entries, key)
	return nil
}

// Verify interface compliance.
var _ Tier = (*MemoryTier)(nil)
