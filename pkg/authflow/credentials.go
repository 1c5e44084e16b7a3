package authflow

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mdornseif/authkit/pkg/audit"
	"github.com/mdornseif/authkit/pkg/authchain"
	"github.com/mdornseif/authkit/pkg/credential"
)

// credentialRequest is the provisioning API request body.
type credentialRequest struct {
	UID         string   `json:"uid"`
	Tenant      string   `json:"tenant"`
	Email       string   `json:"email"`
	Admin       bool     `json:"admin"`
	Text        string   `json:"text"`
	Permissions []string `json:"permissions"`
}

// GetCredential returns a credential by uid, secret redacted. Admin only.
func (h *Handler) GetCredential(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	uid := strings.TrimSpace(r.URL.Query().Get("uid"))
	if uid == "" {
		http.Error(w, "uid parameter required", http.StatusBadRequest)
		return
	}

	cred, err := h.store.Get(r.Context(), uid)
	if errors.Is(err, credential.ErrNotFound) {
		http.Error(w, "no such credential", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("loading credential", "uid", uid, "error", err)
		http.Error(w, "credential store unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cred.Redacted())
}

// PostCredential creates or updates a credential. On creation the response
// includes the generated secret; this is the only time it is ever returned.
// Admin only.
func (h *Handler) PostCredential(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	ctx := r.Context()

	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "unparseable request body", http.StatusBadRequest)
		return
	}
	if err := h.allowlist.Validate(req.Permissions); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	admin := authchain.CredentialFromContext(ctx)
	fresh := credential.New(credential.Options{
		UID:         strings.TrimSpace(req.UID),
		Tenant:      req.Tenant,
		Email:       req.Email,
		Admin:       req.Admin,
		Text:        req.Text,
		Permissions: req.Permissions,
	})
	cred, created, err := h.store.GetOrCreate(ctx, fresh)
	if err != nil {
		h.logger.Error("storing credential", "uid", fresh.UID, "error", err)
		http.Error(w, "credential store unavailable", http.StatusInternalServerError)
		return
	}

	if created {
		h.logger.Info("credential created", "uid", cred.UID, "by", adminUID(admin))
		h.record(ctx, audit.NewEvent(audit.KindCredentialCreated, cred.UID).
			WithDetail("by "+adminUID(admin)))
		// The one response that carries the secret.
		writeJSON(w, http.StatusCreated, cred)
		return
	}

	// Existing uid: apply the mutable fields. The secret never changes here.
	cred.Tenant = fresh.Tenant
	cred.Email = req.Email
	cred.Admin = req.Admin
	cred.Text = req.Text
	if len(req.Permissions) > 0 {
		cred.Permissions = fresh.Permissions
	}
	if err := h.store.Update(ctx, cred); err != nil {
		h.logger.Error("updating credential", "uid", cred.UID, "error", err)
		http.Error(w, "credential store unavailable", http.StatusInternalServerError)
		return
	}
	h.resolver.Invalidate(ctx, cred.UID)
	h.logger.Info("credential updated", "uid", cred.UID, "by", adminUID(admin))
	h.record(ctx, audit.NewEvent(audit.KindCredentialUpdated, cred.UID).
		WithDetail("by "+adminUID(admin)))
	writeJSON(w, http.StatusOK, cred.Redacted())
}

// requireAdmin enforces that the chain authenticated an admin credential.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	cred := authchain.CredentialFromContext(r.Context())
	if cred == nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="API Login"`)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return false
	}
	if !cred.Admin {
		http.Error(w, "admin access required", http.StatusForbidden)
		return false
	}
	return true
}

func adminUID(cred *credential.Credential) string {
	if cred == nil {
		return ""
	}
	return cred.UID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
