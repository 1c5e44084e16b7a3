// Package session provides per-browser session management. It defines the
// Store interface for session persistence, the Session type holding the
// login binding, and a cookie-backed Manager with id regeneration.
//
// The authentication core treats a session as a mutable record bound to the
// browser: at minimum the uid of the currently bound credential, which
// strategy authenticated it and when. Everything else lives in State.
package session

import (
	"context"
	"time"
)

// Session represents the per-browser mutable state.
type Session struct {
	// ID is the unique session identifier carried in the session cookie.
	ID string

	// UID is the currently bound credential id. Empty when anonymous.
	UID string

	// LoginVia tags which strategy authenticated this session
	// ("session", "http", "form", "sso", "oauth2").
	LoginVia string

	// LoginTime is when the current uid binding was established.
	LoginTime time.Time

	// OAuthState is the anti-forgery token minted before redirecting to the
	// identity provider. Held server-side, never in the URL we issue.
	OAuthState string

	// ContinueURL is where to send the browser after a login flow finishes.
	ContinueURL string

	// CreatedAt is when the session was established.
	CreatedAt time.Time

	// LastActiveAt is the most recent activity timestamp.
	LastActiveAt time.Time

	// ExpiresAt is when the session expires if not touched.
	ExpiresAt time.Time

	// State holds extensible session data.
	State map[string]any
}

// Authenticated reports whether a credential is bound.
func (s *Session) Authenticated() bool {
	return s != nil && s.UID != ""
}

// Store defines the interface for session persistence.
type Store interface {
	// Create persists a new session.
	Create(ctx context.Context, s *Session) error

	// Get retrieves a session by ID. Returns nil, nil if not found or expired.
	Get(ctx context.Context, id string) (*Session, error)

	// Save persists the mutable fields of an existing session and extends
	// its expiry by the store's TTL.
	Save(ctx context.Context, s *Session) error

	// Delete removes a session.
	Delete(ctx context.Context, id string) error

	// Cleanup removes expired sessions.
	Cleanup(ctx context.Context) error

	// Close stops background routines and releases resources.
	Close() error
}
