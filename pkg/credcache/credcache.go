// Package credcache provides the two-tier read-through cache in front of the
// credential store: a bounded in-process cache with a short TTL and an
// optional shared network tier with a longer TTL. Credentials are read on
// every request but written rarely, so both tiers exist purely to keep the
// store off the hot path.
//
// A stale local entry can keep a de-provisioned account authorized until its
// TTL expires. The local TTL is therefore the documented staleness bound and
// must stay short (minutes, not hours).
package credcache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/mdornseif/authkit/pkg/credential"
)

const (
	// DefaultLocalTTL bounds how long a process-local snapshot may be served.
	DefaultLocalTTL = 5 * time.Minute

	// DefaultSharedTTL is the lifetime of entries in the shared tier.
	DefaultSharedTTL = 10 * time.Minute

	// DefaultMaxLocalEntries bounds the in-process cache size.
	DefaultMaxLocalEntries = 4096
)

// Tier is a shared cache backend (e.g. memcached or Redis). Calls may block
// or fail independently per request; failures degrade to a store read.
type Tier interface {
	// Get returns the raw value for key, or ErrTierMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for at most ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// ErrTierMiss is returned by a Tier when the key is not present.
var ErrTierMiss = errors.New("cache miss")

// Config configures a Resolver.
type Config struct {
	// LocalTTL is the process-local entry lifetime. Defaults to
	// DefaultLocalTTL. This is the acceptable staleness window.
	LocalTTL time.Duration

	// SharedTTL is the shared-tier entry lifetime. Defaults to
	// DefaultSharedTTL.
	SharedTTL time.Duration

	// MaxLocalEntries bounds the local cache. Defaults to
	// DefaultMaxLocalEntries.
	MaxLocalEntries int
}

// Resolver is the read-through credential resolver. It is owned by the
// server instance, not package state, so tests can construct isolated
// instances with their own TTLs.
type Resolver struct {
	store  credential.Store
	shared Tier // may be nil
	local  *localCache
	cfg    Config
	logger *slog.Logger

	now func() time.Time
}

// New creates a Resolver over store. shared may be nil when no network cache
// tier is deployed. logger may be nil for slog.Default().
func New(store credential.Store, shared Tier, cfg Config, logger *slog.Logger) *Resolver {
	if cfg.LocalTTL <= 0 {
		cfg.LocalTTL = DefaultLocalTTL
	}
	if cfg.SharedTTL <= 0 {
		cfg.SharedTTL = DefaultSharedTTL
	}
	if cfg.MaxLocalEntries <= 0 {
		cfg.MaxLocalEntries = DefaultMaxLocalEntries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  store,
		shared: shared,
		local:  newLocalCache(cfg.MaxLocalEntries),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func cacheKey(uid string) string {
	return "cred_" + uid
}

// Get resolves uid through local tier, shared tier and finally the store,
// populating both tiers on the way back. A transient store or tier failure
// is logged and surfaced as credential.ErrNotFound: a flaky cache must
// degrade to "please log in again", never to an authorization bypass or an
// opaque crash inside the authentication path.
func (r *Resolver) Get(ctx context.Context, uid string) (*credential.Credential, error) {
	if uid == "" {
		return nil, credential.ErrNotFound
	}

	if cred, ok := r.local.get(uid, r.now()); ok {
		return cred, nil
	}

	if r.shared != nil {
		raw, err := r.shared.Get(ctx, cacheKey(uid))
		switch {
		case err == nil:
			var cred credential.Credential
			if jerr := json.Unmarshal(raw, &cred); jerr == nil {
				r.local.set(uid, &cred, r.now().Add(r.cfg.LocalTTL))
				return &cred, nil
			}
			// undecodable entry, fall through to the store
		case !errors.Is(err, ErrTierMiss):
			r.logger.Warn("shared credential cache unavailable", "uid", uid, "error", err)
		}
	}

	cred, err := r.store.Get(ctx, uid)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, credential.ErrNotFound
		}
		r.logger.Error("credential store read failed", "uid", uid, "error", err)
		return nil, credential.ErrNotFound
	}

	r.populate(ctx, uid, cred)
	return cred, nil
}

// Invalidate drops uid from both tiers. Every successful write path must
// call this (or repopulate) so the next Get through either tier never
// returns the pre-update snapshot.
func (r *Resolver) Invalidate(ctx context.Context, uid string) {
	r.local.delete(uid)
	if r.shared != nil {
		if err := r.shared.Delete(ctx, cacheKey(uid)); err != nil {
			r.logger.Warn("shared credential cache invalidate failed", "uid", uid, "error", err)
		}
	}
}

func (r *Resolver) populate(ctx context.Context, uid string, cred *credential.Credential) {
	r.local.set(uid, cred, r.now().Add(r.cfg.LocalTTL))
	if r.shared != nil {
		raw, err := json.Marshal(cred)
		if err != nil {
			return
		}
		if err := r.shared.Set(ctx, cacheKey(uid), raw, r.cfg.SharedTTL); err != nil {
			r.logger.Warn("shared credential cache populate failed", "uid", uid, "error", err)
		}
	}
}
