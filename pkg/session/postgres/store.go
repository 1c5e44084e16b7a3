// Package postgres provides PostgreSQL storage for sessions.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mdornseif/authkit/pkg/session"
)

// Store implements session.Store using PostgreSQL.
type Store struct {
	db     *sql.DB
	ttl    time.Duration
	cancel context.CancelFunc
	done   chan struct{}
}

// Config configures the PostgreSQL session store.
type Config struct {
	TTL time.Duration
}

// New creates a new PostgreSQL session store.
func New(db *sql.DB, cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = session.DefaultTTL
	}
	return &Store{
		db:  db,
		ttl: cfg.TTL,
	}
}

// Create persists a new session.
func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	stateJSON := []byte("{}")
	if len(sess.State) > 0 {
		if raw, err := json.Marshal(sess.State); err == nil {
			stateJSON = raw
		}
	}

	query := `
		INSERT INTO sessions (id, uid, login_via, login_time, oauth_state, continue_url, created_at, last_active_at, expires_at, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.UID, sess.LoginVia, nullTime(sess.LoginTime), sess.OAuthState,
		sess.ContinueURL, sess.CreatedAt, sess.LastActiveAt, sess.ExpiresAt, stateJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID. Returns nil, nil if not found or expired.
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	query := `
		SELECT id, uid, login_via, login_time, oauth_state, continue_url, created_at, last_active_at, expires_at, state
		FROM sessions
		WHERE id = $1 AND expires_at > NOW()
	`
	row := s.db.QueryRowContext(ctx, query, id)
	return scanSession(row)
}

// Save persists the mutable fields of an existing session and extends its
// expiry by the store's TTL.
func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	stateJSON := []byte("{}")
	if len(sess.State) > 0 {
		if raw, err := json.Marshal(sess.State); err == nil {
			stateJSON = raw
		}
	}

	query := `
		UPDATE sessions
		SET uid = $2, login_via = $3, login_time = $4, oauth_state = $5, continue_url = $6,
		    state = $7, last_active_at = NOW(), expires_at = NOW() + $8::interval
		WHERE id = $1
	`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.UID, sess.LoginVia, nullTime(sess.LoginTime), sess.OAuthState,
		sess.ContinueURL, stateJSON, fmt.Sprintf("%d seconds", int(s.ttl.Seconds())),
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Delete removes a session.
func (s *Store) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM sessions WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// Cleanup removes expired sessions.
func (s *Store) Cleanup(ctx context.Context) error {
	query := `DELETE FROM sessions WHERE expires_at <= NOW()`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("cleaning up sessions: %w", err)
	}
	return nil
}

// StartCleanupRoutine starts a background goroutine that periodically
// removes expired sessions. The goroutine is stopped when Close is called.
func (s *Store) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.Cleanup(ctx)
			}
		}
	}()
}

// Close stops the cleanup goroutine and waits for it to exit.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

func scanSession(row *sql.Row) (*session.Session, error) {
	var sess session.Session
	var loginTime sql.NullTime
	var stateJSON []byte
	err := row.Scan(
		&sess.ID, &sess.UID, &sess.LoginVia, &loginTime, &sess.OAuthState,
		&sess.ContinueURL, &sess.CreatedAt, &sess.LastActiveAt, &sess.ExpiresAt, &stateJSON,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	if loginTime.Valid {
		sess.LoginTime = loginTime.Time
	}
	if len(stateJSON) > 0 {
		if err := json.Unmarshal(stateJSON, &sess.State); err != nil {
			sess.State = make(map[string]any)
		}
	}
	return &sess, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// Verify interface compliance.
var _ session.Store = (*Store)(nil)
