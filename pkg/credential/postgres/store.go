// Package postgres provides PostgreSQL storage for credentials.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/mdornseif/authkit/pkg/credential"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// credentialColumns lists columns returned by credential SELECT queries.
var credentialColumns = []string{
	"uid", "secret", "tenant", "email", "admin", "permissions",
	"text", "provider", "subject", "created_at", "updated_at",
}

// Store implements credential.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL credential store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get retrieves a credential by uid.
func (s *Store) Get(ctx context.Context, uid string) (*credential.Credential, error) {
	query, args, err := psq.Select(credentialColumns...).
		From("credentials").
		Where(sq.Eq{"uid": uid}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building credential query: %w", err)
	}

	cred, err := scanCredential(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, credential.ErrNotFound
		}
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	return cred, nil
}

// GetOrCreate inserts the credential unless one with the same uid exists.
// The insert races are resolved by the database: ON CONFLICT DO NOTHING
// followed by a read makes callback replays idempotent.
func (s *Store) GetOrCreate(ctx context.Context, cred *credential.Credential) (*credential.Credential, bool, error) {
	query, args, err := psq.Insert("credentials").
		Columns(credentialColumns...).
		Values(cred.UID, cred.Secret, cred.Tenant, cred.Email, cred.Admin,
			pq.Array(cred.Permissions), cred.Text, cred.Provider, cred.Subject,
			cred.CreatedAt, cred.UpdatedAt).
		Suffix("ON CONFLICT (uid) DO NOTHING").
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("building credential insert: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("inserting credential: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("checking credential insert: %w", err)
	}

	out, err := s.Get(ctx, cred.UID)
	if err != nil {
		return nil, false, err
	}
	return out, inserted > 0, nil
}

// Update overwrites the mutable fields of an existing credential. The uid
// and secret are never changed.
func (s *Store) Update(ctx context.Context, cred *credential.Credential) error {
	query, args, err := psq.Update("credentials").
		Set("tenant", cred.Tenant).
		Set("email", cred.Email).
		Set("admin", cred.Admin).
		Set("permissions", pq.Array(cred.Permissions)).
		Set("text", cred.Text).
		Set("provider", cred.Provider).
		Set("subject", cred.Subject).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"uid": cred.UID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building credential update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking credential update: %w", err)
	}
	if n == 0 {
		return credential.ErrNotFound
	}
	return nil
}

// scanCredential scans a single credential row.
func scanCredential(row *sql.Row) (*credential.Credential, error) {
	var cred credential.Credential
	var email, text, provider, subject sql.NullString
	err := row.Scan(
		&cred.UID, &cred.Secret, &cred.Tenant, &email, &cred.Admin,
		pq.Array(&cred.Permissions), &text, &provider, &subject,
		&cred.CreatedAt, &cred.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	cred.Email = email.String
	cred.Text = text.String
	cred.Provider = provider.String
	cred.Subject = subject.String
	return &cred, nil
}

// Verify interface compliance.
var _ credential.Store = (*Store)(nil)
