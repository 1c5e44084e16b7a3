package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DefaultCookieName is the session cookie name.
const DefaultCookieName = "sessionid"

// DefaultTTL is the session lifetime when none is configured.
const DefaultTTL = 24 * time.Hour

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// CookieName overrides DefaultCookieName.
	CookieName string

	// TTL is the session lifetime. Defaults to DefaultTTL.
	TTL time.Duration

	// Secure marks the session cookie Secure. Leave false only for local
	// development over plain HTTP.
	Secure bool
}

// Manager binds sessions to browsers through an opaque cookie. It owns id
// generation, id regeneration after privilege changes and termination.
type Manager struct {
	store Store
	cfg   ManagerConfig
}

// NewManager creates a Manager over store.
func NewManager(store Store, cfg ManagerConfig) *Manager {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Manager{store: store, cfg: cfg}
}

// CookieName returns the configured session cookie name.
func (m *Manager) CookieName() string {
	return m.cfg.CookieName
}

// Load returns the session referenced by the request's cookie, or nil when
// the request carries no live session.
func (m *Manager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(m.cfg.CookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil //nolint:nilnil // no session bound to this browser
	}
	sess, err := m.store.Get(ctx, cookie.Value)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return sess, nil
}

// Ensure returns the request's session, creating and binding a fresh one
// when none exists. The Set-Cookie header is written immediately so the
// session survives the response.
func (m *Manager) Ensure(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Session, error) {
	sess, err := m.Load(ctx, r)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	now := time.Now()
	sess = &Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(m.cfg.TTL),
		State:        make(map[string]any),
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	m.setCookie(w, sess.ID, m.cfg.TTL)
	return sess, nil
}

// Save persists sess.
func (m *Manager) Save(ctx context.Context, sess *Session) error {
	return m.store.Save(ctx, sess)
}

// Regenerate gives sess a fresh id, invalidating the old cookie value. Call
// it on every privilege transition (login, logout) against fixation.
func (m *Manager) Regenerate(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if err := m.store.Delete(ctx, sess.ID); err != nil {
		return fmt.Errorf("deleting old session: %w", err)
	}
	sess.ID = uuid.NewString()
	if err := m.store.Create(ctx, sess); err != nil {
		return fmt.Errorf("recreating session: %w", err)
	}
	m.setCookie(w, sess.ID, m.cfg.TTL)
	return nil
}

// Terminate removes the session and expires its cookie.
func (m *Manager) Terminate(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return nil
	}
	if err := m.store.Delete(ctx, sess.ID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	m.clearCookie(w)
	return nil
}

func (m *Manager) setCookie(w http.ResponseWriter, id string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
