package authflow

import (
	"net/http"

	"github.com/mdornseif/authkit/pkg/audit"
)

// Logout drops the server-side session and expires both the session cookie
// and the cross-domain SSO cookie, on the host scope and the shared domain
// scope. The browser lands on the continue URL, "/" by default.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dest := continueURL(r, "/")

	sess, err := h.sessions.Load(ctx, r)
	if err != nil {
		h.logger.Warn("loading session at logout", "error", err)
	}
	if sess != nil {
		uid := sess.UID
		if err := h.sessions.Terminate(ctx, w, sess); err != nil {
			h.logger.Warn("terminating session", "error", err)
		}
		if uid != "" {
			h.logger.Info("logout", "uid", uid, "remote", r.RemoteAddr)
			h.record(ctx, audit.NewEvent(audit.KindLogout, uid).WithRemote(r.RemoteAddr))
		}
	}
	if h.sso != nil {
		h.sso.Clear(w, r.Host)
	}

	http.Redirect(w, r, dest, http.StatusFound)
}
