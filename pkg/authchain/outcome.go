// Package authchain implements the ordered, short-circuiting authentication
// decision procedure run once per request: active session, then HTTP Basic
// credentials, then the signed cross-domain SSO cookie, with a
// content-negotiated unauthenticated fallthrough.
//
// The chain is transport-agnostic at its core: every attempt produces a
// typed Outcome which the dispatching middleware translates into an HTTP
// response. Strategies never abort a handler by panicking or writing status
// codes themselves.
package authchain

import (
	"net/http"

	"github.com/mdornseif/authkit/pkg/credential"
)

// Kind classifies an Outcome.
type Kind int

const (
	// KindAuthenticated carries a resolved credential; the request proceeds.
	KindAuthenticated Kind = iota

	// KindRedirect sends the client elsewhere (login page, SSO continuation).
	KindRedirect

	// KindChallenge demands credentials with a 401 and challenge headers.
	KindChallenge

	// KindMalformed rejects an unparseable authentication attempt with 400.
	KindMalformed
)

// Outcome is the result of running the strategy chain for one request.
type Outcome struct {
	Kind Kind

	// Credential is set for KindAuthenticated.
	Credential *credential.Credential

	// LoginVia tags the strategy that produced an authenticated outcome.
	LoginVia string

	// Location is set for KindRedirect.
	Location string

	// Header carries challenge headers for KindChallenge.
	Header http.Header

	// Reason is a short operator-facing explanation for failures.
	Reason string
}

// Authenticated builds a success outcome.
func Authenticated(cred *credential.Credential, via string) *Outcome {
	return &Outcome{Kind: KindAuthenticated, Credential: cred, LoginVia: via}
}

// Redirect builds a redirect outcome.
func Redirect(location string) *Outcome {
	return &Outcome{Kind: KindRedirect, Location: location}
}

// Challenge builds a 401 outcome with a Basic challenge header.
func Challenge(realm, reason string) *Outcome {
	h := http.Header{}
	h.Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
	return &Outcome{Kind: KindChallenge, Header: h, Reason: reason}
}

// Malformed builds a 400 outcome for unparseable credentials.
func Malformed(reason string) *Outcome {
	return &Outcome{Kind: KindMalformed, Reason: reason}
}

// WriteTo translates the outcome into a transport response. Authenticated
// outcomes are not written; the dispatcher invokes the handler instead.
func (o *Outcome) WriteTo(w http.ResponseWriter, r *http.Request) {
	switch o.Kind {
	case KindRedirect:
		http.Redirect(w, r, o.Location, http.StatusFound)
	case KindChallenge:
		for key, values := range o.Header {
			for _, v := range values {
				w.Header().Add(key, v)
			}
		}
		http.Error(w, "authentication required", http.StatusUnauthorized)
	case KindMalformed:
		http.Error(w, o.Reason, http.StatusBadRequest)
	case KindAuthenticated:
		// nothing to write
	}
}
