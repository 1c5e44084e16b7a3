package credcache

import (
	"sync"
	"time"

	"github.com/mdornseif/authkit/pkg/credential"
)

// localCache is the bounded in-process tier. A plain mutex-guarded map is
// enough: correctness does not depend on ordering between concurrent writes,
// only on TTL-bounded convergence.
type localCache struct {
	mu         sync.RWMutex
	entries    map[string]localEntry
	maxEntries int
}

type localEntry struct {
	cred      *credential.Credential
	expiresAt time.Time
}

func newLocalCache(maxEntries int) *localCache {
	return &localCache{
		entries:    make(map[string]localEntry),
		maxEntries: maxEntries,
	}
}

func (c *localCache) get(uid string, now time.Time) (*credential.Credential, bool) {
	c.mu.RLock()
	entry, ok := c.entries[uid]
	c.mu.RUnlock()

	if !ok || now.After(entry.expiresAt) {
		return nil, false
	}
	return entry.cred, true
}

func (c *localCache) set(uid string, cred *credential.Credential, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictLocked(expiresAt)
	}
	c.entries[uid] = localEntry{cred: cred, expiresAt: expiresAt}
}

func (c *localCache) delete(uid string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, uid)
}

// evictLocked drops expired entries; if nothing has expired yet it drops the
// entry closest to expiry. Entries are interchangeable snapshots, so which
// one goes does not matter for correctness.
func (c *localCache) evictLocked(now time.Time) {
	var oldestKey string
	var oldestExpiry time.Time
	for uid, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, uid)
			continue
		}
		if oldestKey == "" || entry.expiresAt.Before(oldestExpiry) {
			oldestKey = uid
			oldestExpiry = entry.expiresAt
		}
	}
	if len(c.entries) >= c.maxEntries && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
