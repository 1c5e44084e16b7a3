// Package authflow provides the HTTP login surface: the interactive and
// HTTP-Basic login endpoint, the OAuth2 authorization-code callback, logout
// and the credential provisioning API. It feeds the same credential store
// and session manager the per-request authentication chain reads from.
package authflow

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mdornseif/authkit/pkg/audit"
	"github.com/mdornseif/authkit/pkg/authchain"
	"github.com/mdornseif/authkit/pkg/credcache"
	"github.com/mdornseif/authkit/pkg/credential"
	"github.com/mdornseif/authkit/pkg/session"
)

// Handler bundles the login endpoints.
type Handler struct {
	store     credential.Store
	resolver  *credcache.Resolver
	sessions  *session.Manager
	sso       *authchain.SSOCookie
	oauth     *OAuthConfig // nil disables the OAuth2 flow
	allowlist *credential.Allowlist
	rec       audit.Recorder // nil disables the audit trail
	logger    *slog.Logger
}

// New creates the login surface. oauth and rec may be nil when no identity
// provider or audit trail is configured.
func New(store credential.Store, resolver *credcache.Resolver, sessions *session.Manager,
	sso *authchain.SSOCookie, oauth *OAuthConfig, allowlist *credential.Allowlist,
	rec audit.Recorder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if allowlist == nil {
		allowlist = credential.NewAllowlist(nil)
	}
	return &Handler{
		store:     store,
		resolver:  resolver,
		sessions:  sessions,
		sso:       sso,
		oauth:     oauth,
		allowlist: allowlist,
		rec:       rec,
		logger:    logger,
	}
}

// record writes to the audit trail; a failing trail never blocks the login
// path.
func (h *Handler) record(ctx context.Context, event audit.Event) {
	if h.rec == nil {
		return
	}
	if err := h.rec.Record(ctx, event); err != nil {
		h.logger.Warn("recording audit event", "kind", event.Kind, "error", err)
	}
}

// Mount attaches the endpoints under r, conventionally at /auth.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/login", h.GetLogin)
	r.Post("/login", h.PostLogin)
	r.Get("/logout", h.Logout)
	r.Post("/logout", h.Logout)
	r.Get("/oauth2callback", h.OAuth2Callback)
	r.Get("/credentials", h.GetCredential)
	r.Post("/credentials", h.PostCredential)
}

// loginUser binds cred to the session, regenerates the session id against
// fixation and issues the cross-domain SSO cookie.
func (h *Handler) loginUser(ctx context.Context, w http.ResponseWriter, r *http.Request,
	sess *session.Session, cred *credential.Credential, via string) {
	sess.UID = cred.UID
	sess.LoginVia = via
	sess.LoginTime = time.Now()
	if err := h.sessions.Regenerate(ctx, w, sess); err != nil {
		h.logger.Warn("regenerating session id", "error", err)
		if err := h.sessions.Save(ctx, sess); err != nil {
			h.logger.Warn("saving session", "error", err)
		}
	}
	if h.sso != nil {
		if err := h.sso.Issue(w, r.Host, cred.UID); err != nil {
			h.logger.Warn("issuing sso cookie", "error", err)
		}
	}
}

// verifiedCredential resolves uid and checks secret, returning nil on any
// mismatch.
func (h *Handler) verifiedCredential(ctx context.Context, uid, secret string) *credential.Credential {
	if uid == "" {
		return nil
	}
	cred, err := h.resolver.Get(ctx, uid)
	if err != nil || cred.Secret != secret {
		return nil
	}
	return cred
}

// continueURL extracts and sanitizes the post-login destination. Absolute
// URLs are only honored for hosts inside the current cookie domain, so the
// login endpoint cannot be used as an open redirector.
func continueURL(r *http.Request, fallback string) string {
	raw := r.FormValue("continue")
	if raw == "" {
		return fallback
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fallback
	}
	if u.Host == "" && strings.HasPrefix(u.Path, "/") {
		return u.String()
	}
	domain := authchain.BroadestCookieDomain(r.Host)
	if domain != "" && (u.Host == r.Host || strings.HasSuffix(u.Hostname(), "."+domain) || u.Hostname() == domain) {
		return u.String()
	}
	return fallback
}
