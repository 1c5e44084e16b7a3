package authchain

import (
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/mdornseif/authkit/pkg/signedtoken"
)

// DefaultSSOCookieName is the cross-domain single-sign-on cookie.
const DefaultSSOCookieName = "authkituid"

// DefaultSSOMaxAge bounds how old an SSO cookie may be at verification time.
const DefaultSSOMaxAge = 2 * time.Hour

// SSOCookie mints and reads the signed cross-domain cookie that gives single
// sign-on across sibling subdomains without a shared session store. The
// cookie payload is {uid, provider}; provider records which domain issued it
// so a same-site replay can be told apart from a genuine foreign-domain hop.
type SSOCookie struct {
	signer *signedtoken.Signer
	name   string
	maxAge time.Duration
	secure bool
}

// SSOCookieConfig configures an SSOCookie.
type SSOCookieConfig struct {
	// Name overrides DefaultSSOCookieName.
	Name string

	// MaxAge overrides DefaultSSOMaxAge. Enforced at verification, not
	// baked into the token.
	MaxAge time.Duration

	// Secure marks the cookie Secure.
	Secure bool
}

// NewSSOCookie creates an SSOCookie around signer.
func NewSSOCookie(signer *signedtoken.Signer, cfg SSOCookieConfig) *SSOCookie {
	if cfg.Name == "" {
		cfg.Name = DefaultSSOCookieName
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultSSOMaxAge
	}
	return &SSOCookie{
		signer: signer,
		name:   cfg.Name,
		maxAge: cfg.MaxAge,
		secure: cfg.Secure,
	}
}

// Name returns the cookie name.
func (c *SSOCookie) Name() string {
	return c.name
}

// MaxAge returns the verification-time age bound.
func (c *SSOCookie) MaxAge() time.Duration {
	return c.maxAge
}

// Issue signs a fresh cookie for uid and sets it on w, scoped to the
// broadest cookie-eligible suffix of host so sibling subdomains can read it.
func (c *SSOCookie) Issue(w http.ResponseWriter, host, uid string) error {
	domain := BroadestCookieDomain(host)
	token, err := c.signer.Sign(map[string]any{
		"uid":      uid,
		"provider": providerTag(host, domain),
	})
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    token,
		Path:     "/",
		Domain:   domain,
		MaxAge:   int(c.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear expires the cookie on both the host and the broadest domain scope.
func (c *SSOCookie) Clear(w http.ResponseWriter, host string) {
	expired := &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
	http.SetCookie(w, expired)
	if domain := BroadestCookieDomain(host); domain != "" {
		scoped := *expired
		scoped.Domain = domain
		http.SetCookie(w, &scoped)
	}
}

// Verify checks the request's SSO cookie and returns its uid and provider
// tag. Verification failures come back as signedtoken.ErrExpired or
// signedtoken.ErrInvalidSignature.
func (c *SSOCookie) Verify(r *http.Request) (uid, provider string, err error) {
	cookie, err := r.Cookie(c.name)
	if err != nil || cookie.Value == "" {
		return "", "", http.ErrNoCookie
	}
	payload, err := c.signer.Verify(cookie.Value, c.maxAge)
	if err != nil {
		return "", "", err
	}
	uid, _ = payload["uid"].(string)
	provider, _ = payload["provider"].(string)
	return uid, provider, nil
}

// providerTag records the scope the cookie was issued for.
func providerTag(host, domain string) string {
	if domain != "" {
		return domain
	}
	return stripPort(host)
}

// BroadestCookieDomain returns the widest suffix of host that a cookie may
// legally be scoped to: the effective TLD plus one label. Public hosting
// suffixes (appspot.com, herokuapp.com, ...) and IP literals yield "" so the
// cookie stays host-only instead of leaking across tenants.
func BroadestCookieDomain(host string) string {
	host = strings.ToLower(stripPort(host))
	if host == "" || host == "localhost" || net.ParseIP(host) != nil {
		return ""
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	// A host that sits directly on a public multi-tenant suffix cannot
	// widen its cookie beyond itself.
	if suffix, icann := publicsuffix.PublicSuffix(host); !icann && domain == host && strings.Contains(suffix, ".") {
		return ""
	}
	return domain
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
