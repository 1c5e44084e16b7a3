package server

import (
	"database/sql"
	"encoding/json"
	"net/http"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/mdornseif/authkit/pkg/audit"
	"github.com/mdornseif/authkit/pkg/authchain"
	"github.com/mdornseif/authkit/pkg/credential"
	"github.com/mdornseif/authkit/pkg/paginate"
)

// handleWhoami returns the authenticated credential, secret redacted.
func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request) {
	cred := authchain.CredentialFromContext(r.Context())
	if cred == nil {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}
	outcome := authchain.OutcomeFromContext(r.Context())

	writeJSON(w, http.StatusOK, map[string]any{
		"credential": cred.Redacted(),
		"login_via":  outcome.LoginVia,
	})
}

// handleCredentialList pages through all credentials, admin only. Supports
// both offset (start=) and cursor navigation plus calctotal.
func (s *Server) handleCredentialList(w http.ResponseWriter, r *http.Request) {
	cred := authchain.CredentialFromContext(r.Context())
	if cred == nil || !cred.Admin {
		http.Error(w, "admin access required", http.StatusForbidden)
		return
	}

	source, err := s.credentialSource(r)
	if err != nil {
		s.logger.Error("building credential source", "error", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}

	paginator := paginate.New(source, paginate.DefaultLimit)
	page, err := paginator.Paginate(r.Context(), paginate.ParseRequest(r, paginate.DefaultLimit))
	if err != nil {
		s.logger.Error("paginating credentials", "error", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}

	// Secrets never leave through list responses.
	for i, c := range page.Objects {
		page.Objects[i] = c.Redacted()
	}
	writeJSON(w, http.StatusOK, page)
}

// handleAuditList pages through the audit trail, admin only. Filters: uid,
// kind. Same navigation surface as the credential list: offset and cursor
// modes plus calctotal.
func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	cred := authchain.CredentialFromContext(r.Context())
	if cred == nil || !cred.Admin {
		http.Error(w, "admin access required", http.StatusForbidden)
		return
	}

	source, err := s.auditSource(r)
	if err != nil {
		s.logger.Error("building audit source", "error", err)
		http.Error(w, "audit trail unavailable", http.StatusInternalServerError)
		return
	}

	paginator := paginate.New(source, paginate.DefaultLimit)
	page, err := paginator.Paginate(r.Context(), paginate.ParseRequest(r, paginate.DefaultLimit))
	if err != nil {
		s.logger.Error("paginating audit trail", "error", err)
		http.Error(w, "audit trail unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// credentialSource returns the pagination source for the configured store
// flavor: a SQL source against the credentials table, or a snapshot of the
// in-memory store.
func (s *Server) credentialSource(r *http.Request) (paginate.Source[*credential.Credential], error) {
	if s.db != nil {
		builder := sq.Select("uid", "secret", "tenant", "email", "admin", "permissions",
			"text", "provider", "subject", "created_at", "updated_at").
			From("credentials").
			OrderBy("uid").
			PlaceholderFormat(sq.Dollar)
		return paginate.NewSQLSource(s.db, builder, scanCredentialRow), nil
	}

	mem, ok := s.store.(*credential.MemoryStore)
	if !ok {
		return paginate.NewSliceSource[*credential.Credential](nil), nil
	}
	creds, err := mem.List(r.Context())
	if err != nil {
		return nil, err
	}
	return paginate.NewSliceSource(creds), nil
}

// auditSource returns the pagination source for the configured trail flavor:
// a SQL source against the audit_events table, or a snapshot of the in-memory
// recorder. The uid and kind query parameters narrow either flavor.
func (s *Server) auditSource(r *http.Request) (paginate.Source[audit.Event], error) {
	q := r.URL.Query()
	if s.db != nil {
		builder := sq.Select("id", "timestamp", "kind", "uid", "via", "remote", "detail").
			From("audit_events").
			OrderBy("timestamp DESC", "id").
			PlaceholderFormat(sq.Dollar)
		if uid := q.Get("uid"); uid != "" {
			builder = builder.Where(sq.Eq{"uid": uid})
		}
		if kind := q.Get("kind"); kind != "" {
			builder = builder.Where(sq.Eq{"kind": kind})
		}
		return paginate.NewSQLSource(s.db, builder, scanAuditRow), nil
	}

	mem, ok := s.trail.(*audit.MemoryRecorder)
	if !ok {
		return paginate.NewSliceSource[audit.Event](nil), nil
	}
	events, err := mem.Query(r.Context(), audit.Filter{
		UID:  q.Get("uid"),
		Kind: audit.Kind(q.Get("kind")),
	})
	if err != nil {
		return nil, err
	}
	return paginate.NewSliceSource(events), nil
}

func scanAuditRow(rows *sql.Rows) (audit.Event, error) {
	var event audit.Event
	var kind string
	var via, remote, detail sql.NullString
	err := rows.Scan(&event.ID, &event.Timestamp, &kind, &event.UID,
		&via, &remote, &detail)
	if err != nil {
		return event, err
	}
	event.Kind = audit.Kind(kind)
	event.Via = via.String
	event.Remote = remote.String
	event.Detail = detail.String
	return event, nil
}

func scanCredentialRow(rows *sql.Rows) (*credential.Credential, error) {
	var cred credential.Credential
	var email, text, provider, subject sql.NullString
	err := rows.Scan(
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

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
