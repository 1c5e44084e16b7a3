package authflow

import (
	"encoding/base64"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/mdornseif/authkit/pkg/audit"
	"github.com/mdornseif/authkit/pkg/session"
)

// GetLogin serves the interactive login page. A request that already carries
// usable material (an authenticated session, an HTTP Basic header or form
// parameters) is logged in straight away and redirected to its destination.
func (h *Handler) GetLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dest := continueURL(r, "/")

	sess, err := h.sessions.Ensure(ctx, w, r)
	if err != nil {
		h.logger.Error("ensuring session", "error", err)
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}
	if sess.Authenticated() {
		http.Redirect(w, r, dest, http.StatusFound)
		return
	}

	// Basic credentials on the login URL itself log in the session, so
	// script clients can bootstrap a cookie session from uid:secret.
	if uid, secret, ok := basicCredentials(r); ok {
		cred := h.verifiedCredential(ctx, uid, secret)
		if cred == nil {
			h.logger.Warn("failed HTTP login", "uid", uid, "remote", r.RemoteAddr)
			h.record(ctx, audit.NewEvent(audit.KindLoginFailed, uid).WithVia("http").WithRemote(r.RemoteAddr))
			w.Header().Set("WWW-Authenticate", `Basic realm="API Login"`)
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		h.loginUser(ctx, w, r, sess, cred, "http")
		h.record(ctx, audit.NewEvent(audit.KindLogin, cred.UID).WithVia("http").WithRemote(r.RemoteAddr))
		http.Redirect(w, r, dest, http.StatusFound)
		return
	}

	// Some clients put the credentials into the query string.
	if uid := r.FormValue("username"); uid != "" {
		h.formLogin(w, r, uid, r.FormValue("password"), dest)
		return
	}

	h.renderForm(w, r, sess, dest, "", http.StatusOK)
}

// PostLogin handles the login form submission.
func (h *Handler) PostLogin(w http.ResponseWriter, r *http.Request) {
	dest := continueURL(r, "/")
	h.formLogin(w, r, r.PostFormValue("username"), r.PostFormValue("password"), dest)
}

func (h *Handler) formLogin(w http.ResponseWriter, r *http.Request, uid, secret, dest string) {
	ctx := r.Context()
	sess, err := h.sessions.Ensure(ctx, w, r)
	if err != nil {
		h.logger.Error("ensuring session", "error", err)
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}

	cred := h.verifiedCredential(ctx, uid, secret)
	if cred == nil {
		h.logger.Warn("failed form login", "uid", uid, "remote", r.RemoteAddr)
		h.record(ctx, audit.NewEvent(audit.KindLoginFailed, uid).WithVia("form").WithRemote(r.RemoteAddr))
		h.renderForm(w, r, sess, dest, "Wrong username or password.", http.StatusUnauthorized)
		return
	}

	h.loginUser(ctx, w, r, sess, cred, "form")
	h.logger.Info("form login", "uid", cred.UID, "remote", r.RemoteAddr)
	h.record(ctx, audit.NewEvent(audit.KindLogin, cred.UID).WithVia("form").WithRemote(r.RemoteAddr))
	http.Redirect(w, r, dest, http.StatusFound)
}

// renderForm shows the login form. When an identity provider is configured
// it mints the anti-forgery state nonce and records the destination on the
// session so the callback knows where to continue to.
func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, sess *session.Session, dest, message string, status int) {
	oauthURL := ""
	if h.oauth != nil {
		sess.ContinueURL = dest
		state, err := h.oauth.ensureState(r.Context(), h.sessions, sess)
		if err != nil {
			h.logger.Warn("minting oauth state", "error", err)
		} else {
			oauthURL = h.oauth.authorizationURL(r, state)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, loginFormHead)
	if message != "" {
		fmt.Fprintf(w, "<p>%s</p>\n", html.EscapeString(message))
	}
	fmt.Fprintf(w, loginFormBody, html.EscapeString(dest))
	if oauthURL != "" {
		fmt.Fprintf(w, "<p><a href=%q>Sign in with %s</a></p>\n",
			oauthURL, html.EscapeString(h.oauth.Provider))
	}
	fmt.Fprint(w, loginFormFoot)
}

const loginFormHead = `<!DOCTYPE html>
<html><head><title>Login</title></head><body>
<h1>Login</h1>
`

const loginFormBody = `<form method="post" action="login">
<input type="hidden" name="continue" value="%s">
<label>Username <input name="username" autofocus></label>
<label>Password <input name="password" type="password"></label>
<button type="submit">Sign in</button>
</form>
`

const loginFormFoot = `</body></html>
`

// basicCredentials extracts uid:secret from an Authorization header.
func basicCredentials(r *http.Request) (uid, secret string, ok bool) {
	header := r.Header.Get("Authorization")
	authType, encoded, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(authType, "Basic") {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", "", false
	}
	uid, secret, found = strings.Cut(string(decoded), ":")
	if !found {
		return "", "", false
	}
	return strings.TrimSpace(uid), strings.TrimSpace(secret), true
}
