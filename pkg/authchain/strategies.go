package authchain

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mdornseif/authkit/pkg/credcache"
	"github.com/mdornseif/authkit/pkg/session"
	"github.com/mdornseif/authkit/pkg/signedtoken"
)

// BasicRealm is the realm sent with every Basic challenge.
const BasicRealm = "API Login"

// successLogInterval rate-limits "successful HTTP login" log lines per
// uid/remote-addr pair, since API clients send Basic credentials on every
// single request.
const successLogInterval = 10 * time.Hour

// Strategy is one step of the chain. Attempt returns nil when the request
// carries nothing this strategy understands, letting the chain move on; a
// non-nil Outcome is terminal for the whole chain.
type Strategy interface {
	// Name tags sessions authenticated by this strategy (login_via).
	Name() string

	// Attempt inspects r and, on a match, binds sess and produces a
	// terminal outcome. w is available for cookie side effects.
	Attempt(w http.ResponseWriter, r *http.Request, sess *session.Session) *Outcome
}

// SessionStrategy authenticates requests whose session already binds a uid.
// It runs first by design: an active, already-validated session is never
// second-guessed by a possibly-stale cookie.
type SessionStrategy struct {
	resolver *credcache.Resolver
	sessions *session.Manager
	sso      *SSOCookie
	logger   *slog.Logger
}

// NewSessionStrategy creates the session strategy. sso may be nil when no
// cross-domain cookie should be (re)issued.
func NewSessionStrategy(resolver *credcache.Resolver, sessions *session.Manager, sso *SSOCookie, logger *slog.Logger) *SessionStrategy {
	return &SessionStrategy{resolver: resolver, sessions: sessions, sso: sso, logger: logger}
}

// Name implements Strategy.
func (s *SessionStrategy) Name() string { return "session" }

// Attempt implements Strategy.
func (s *SessionStrategy) Attempt(w http.ResponseWriter, r *http.Request, sess *session.Session) *Outcome {
	if !sess.Authenticated() {
		return nil
	}
	cred, err := s.resolver.Get(r.Context(), sess.UID)
	if err != nil {
		// The bound credential vanished (de-provisioned or store hiccup);
		// fall through to the other strategies rather than failing hard.
		s.logger.Warn("session uid no longer resolves", "uid", sess.UID, "remote", remoteAddr(r))
		return nil
	}

	if sess.LoginVia == "" {
		sess.LoginVia = s.Name()
		if err := s.sessions.Save(r.Context(), sess); err != nil {
			s.logger.Warn("saving session", "error", err)
		}
	}
	if s.sso != nil && w != nil {
		if err := s.sso.Issue(w, r.Host, cred.UID); err != nil {
			s.logger.Warn("issuing sso cookie", "error", err)
		}
	}
	return Authenticated(cred, sess.LoginVia)
}

// BasicStrategy authenticates uid:secret pairs from the Authorization
// header. Unlike the other strategies it is fail-fast: a client that sent
// credentials and got them wrong receives an immediate 401 challenge and is
// never silently downgraded to the anonymous redirect path.
type BasicStrategy struct {
	resolver *credcache.Resolver
	sessions *session.Manager
	shared   credcache.Tier // rate-limits success logging; may be nil
	logger   *slog.Logger
}

// NewBasicStrategy creates the HTTP Basic strategy.
func NewBasicStrategy(resolver *credcache.Resolver, sessions *session.Manager, shared credcache.Tier, logger *slog.Logger) *BasicStrategy {
	return &BasicStrategy{resolver: resolver, sessions: sessions, shared: shared, logger: logger}
}

// Name implements Strategy.
func (s *BasicStrategy) Name() string { return "http" }

// Attempt implements Strategy.
func (s *BasicStrategy) Attempt(_ http.ResponseWriter, r *http.Request, sess *session.Session) *Outcome {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil
	}
	authType, encoded, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(authType, "Basic") {
		s.logger.Warn("unknown authorization scheme", "scheme", authType, "remote", remoteAddr(r))
		return nil
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return Malformed("invalid credentials")
	}
	uid, secret, found := strings.Cut(string(decoded), ":")
	if !found {
		// Credentials were sent but are unparseable; the client must fix
		// the request, not retry it.
		return Malformed("invalid credentials")
	}
	uid = strings.TrimSpace(uid)
	secret = strings.TrimSpace(secret)

	cred, err := s.resolver.Get(r.Context(), uid)
	if err != nil || subtle.ConstantTimeCompare([]byte(cred.Secret), []byte(secret)) != 1 {
		s.logger.Warn("failed HTTP login", "uid", uid, "remote", remoteAddr(r))
		return Challenge(BasicRealm, "secret mismatch")
	}

	sess.UID = cred.UID
	sess.LoginVia = s.Name()
	sess.LoginTime = time.Now()
	if err := s.sessions.Save(r.Context(), sess); err != nil {
		s.logger.Warn("saving session", "error", err)
	}
	s.logSuccess(r, uid)
	return Authenticated(cred, s.Name())
}

// logSuccess logs an HTTP login at most once per successLogInterval for a
// given uid and remote address.
func (s *BasicStrategy) logSuccess(r *http.Request, uid string) {
	if s.shared != nil {
		key := fmt.Sprintf("login_%s_%s", uid, remoteAddr(r))
		if _, err := s.shared.Get(r.Context(), key); err == nil {
			return
		}
		_ = s.shared.Set(r.Context(), key, []byte("1"), successLogInterval)
	}
	s.logger.Info("HTTP login", "uid", uid, "remote", remoteAddr(r))
}

// SSOStrategy accepts the signed cross-domain cookie, but only for genuine
// foreign-domain hops: a cookie issued by this host's own domain is ignored,
// the local session is authoritative there.
type SSOStrategy struct {
	resolver *credcache.Resolver
	sessions *session.Manager
	sso      *SSOCookie
	logger   *slog.Logger
}

// NewSSOStrategy creates the SSO cookie strategy.
func NewSSOStrategy(resolver *credcache.Resolver, sessions *session.Manager, sso *SSOCookie, logger *slog.Logger) *SSOStrategy {
	return &SSOStrategy{resolver: resolver, sessions: sessions, sso: sso, logger: logger}
}

// Name implements Strategy.
func (s *SSOStrategy) Name() string { return "sso" }

// Attempt implements Strategy.
func (s *SSOStrategy) Attempt(w http.ResponseWriter, r *http.Request, sess *session.Session) *Outcome {
	uid, provider, err := s.sso.Verify(r)
	switch {
	case errors.Is(err, http.ErrNoCookie):
		return nil
	case errors.Is(err, signedtoken.ErrExpired):
		s.logger.Warn("sso cookie expired", "remote", remoteAddr(r))
		return nil
	case err != nil:
		s.logger.Warn("sso cookie rejected", "remote", remoteAddr(r), "error", err)
		return nil
	}

	host := strings.ToLower(stripPort(r.Host))
	if uid == "" || provider == "" || strings.HasSuffix(host, provider) {
		// Same-site replay; nothing to sign on across.
		return nil
	}

	cred, err := s.resolver.Get(r.Context(), uid)
	if err != nil {
		s.logger.Warn("sso uid does not resolve", "uid", uid, "remote", remoteAddr(r))
		return nil
	}

	sess.UID = cred.UID
	sess.LoginVia = s.Name()
	sess.LoginTime = time.Now()
	if err := s.sessions.Save(r.Context(), sess); err != nil {
		s.logger.Warn("saving session", "error", err)
	}
	if w != nil {
		if err := s.sso.Issue(w, r.Host, cred.UID); err != nil {
			s.logger.Warn("issuing sso cookie", "error", err)
		}
	}
	s.logger.Info("login via SSO", "uid", uid, "provider", provider)
	// Redirect so the browser repeats the request carrying the fresh
	// session cookie and same-domain SSO cookie.
	return Redirect(r.URL.RequestURI())
}

func remoteAddr(r *http.Request) string {
	return stripPort(r.RemoteAddr)
}
