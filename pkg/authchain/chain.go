package authchain

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/mdornseif/authkit/pkg/credential"
	"github.com/mdornseif/authkit/pkg/session"
)

// DefaultLoginPath is where browsers are sent to authenticate interactively.
const DefaultLoginPath = "/auth/login"

// Chain runs the strategies in their fixed order. The order is a security
// property, not an optimization; see the package comment.
type Chain struct {
	strategies []Strategy
	sessions   *session.Manager
	loginPath  string
	logger     *slog.Logger
}

// Config configures a Chain.
type Config struct {
	// LoginPath overrides DefaultLoginPath for the browser fallthrough.
	LoginPath string
}

// NewChain creates a chain over the given strategies, tried in order.
func NewChain(sessions *session.Manager, cfg Config, logger *slog.Logger, strategies ...Strategy) *Chain {
	if cfg.LoginPath == "" {
		cfg.LoginPath = DefaultLoginPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		strategies: strategies,
		sessions:   sessions,
		loginPath:  cfg.LoginPath,
		logger:     logger,
	}
}

type contextKey int

const (
	outcomeContextKey contextKey = iota
	credentialContextKey
)

// withOutcome memoizes the chain result in the request context so a second
// logical invocation within the same request returns it without re-running
// session mutations.
func withOutcome(ctx context.Context, o *Outcome) context.Context {
	return context.WithValue(ctx, outcomeContextKey, o)
}

// OutcomeFromContext returns the memoized chain result, if any.
func OutcomeFromContext(ctx context.Context) *Outcome {
	if o, ok := ctx.Value(outcomeContextKey).(*Outcome); ok {
		return o
	}
	return nil
}

// WithCredential stores the authenticated credential for handlers.
func WithCredential(ctx context.Context, cred *credential.Credential) context.Context {
	return context.WithValue(ctx, credentialContextKey, cred)
}

// CredentialFromContext returns the authenticated credential, or nil.
func CredentialFromContext(ctx context.Context) *credential.Credential {
	if cred, ok := ctx.Value(credentialContextKey).(*credential.Credential); ok {
		return cred
	}
	return nil
}

// Authenticate resolves the request to an Outcome. It is idempotent per
// request: a memoized result on the request context is returned as is.
func (c *Chain) Authenticate(w http.ResponseWriter, r *http.Request) (*Outcome, *session.Session) {
	if o := OutcomeFromContext(r.Context()); o != nil {
		return o, nil
	}

	sess, err := c.sessions.Ensure(r.Context(), w, r)
	if err != nil {
		c.logger.Error("session store unavailable", "error", err, "remote", remoteAddr(r))
		sess = &session.Session{State: make(map[string]any)}
	}

	for _, strategy := range c.strategies {
		if outcome := strategy.Attempt(w, r, sess); outcome != nil {
			return outcome, sess
		}
	}
	return c.unauthenticated(r), sess
}

// Middleware wraps next so it only runs for authenticated requests, with the
// credential available via CredentialFromContext. All other outcomes are
// translated to their transport responses here.
func (c *Chain) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		outcome, _ := c.Authenticate(w, r)
		if outcome.Kind != KindAuthenticated {
			outcome.WriteTo(w, r)
			return
		}
		ctx := withOutcome(r.Context(), outcome)
		ctx = WithCredential(ctx, outcome.Credential)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// unauthenticated decides the failure presentation: browsers get a redirect
// to the interactive login page with a continue URL, machine clients get a
// 401 Basic challenge they can answer.
func (c *Chain) unauthenticated(r *http.Request) *Outcome {
	if !looksLikeBrowser(r) {
		c.logger.Info("requesting HTTP auth", "remote", remoteAddr(r), "path", r.URL.Path)
		return Challenge(BasicRealm, "no credentials presented")
	}
	target := c.loginPath + "?continue=" + url.QueryEscape(absoluteURL(r))
	return Redirect(target)
}

// looksLikeBrowser reports whether the request is browser-originated, based
// on the Accept header mentioning an HTML or image media type.
func looksLikeBrowser(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html") || strings.Contains(accept, "image/")
}

// absoluteURL reconstructs the full request URL for continue parameters.
func absoluteURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
