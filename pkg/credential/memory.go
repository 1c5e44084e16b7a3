package credential

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements Store using an in-memory map. It is used in tests
// and single-node deployments without a database.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*Credential
}

// NewMemoryStore creates a new in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]*Credential)}
}

// Get retrieves a credential by uid. Returns ErrNotFound if absent.
func (s *MemoryStore) Get(_ context.Context, uid string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.creds[uid]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCredential(cred), nil
}

// GetOrCreate inserts the credential unless one with the same uid exists.
func (s *MemoryStore) GetOrCreate(_ context.Context, cred *Credential) (*Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.creds[cred.UID]; ok {
		return copyCredential(existing), false, nil
	}
	s.creds[cred.UID] = copyCredential(cred)
	return copyCredential(cred), true, nil
}

// Update overwrites the mutable fields of an existing credential.
func (s *MemoryStore) Update(_ context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.creds[cred.UID]
	if !ok {
		return ErrNotFound
	}
	updated := copyCredential(cred)
	updated.Secret = existing.Secret
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	s.creds[cred.UID] = updated
	return nil
}

// List returns all credentials ordered by uid. Not part of the Store
// interface; list endpoints in memory mode snapshot through it.
func (s *MemoryStore) List(_ context.Context) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Credential, 0, len(s.creds))
	for _, cred := range s.creds {
		out = append(out, copyCredential(cred))
	}
	slices.SortFunc(out, func(a, b *Credential) int {
		return strings.Compare(a.UID, b.UID)
	})
	return out, nil
}

func copyCredential(cred *Credential) *Credential {
	cp := *cred
	cp.Permissions = slices.Clone(cred.Permissions)
	return &cp
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
