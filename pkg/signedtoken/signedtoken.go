// Package signedtoken mints and verifies tamper-evident, time-limited tokens
// used for the cross-domain SSO cookie and other short-lived assertions.
//
// A token carries its issue timestamp but not its expiry: the maximum age is
// a verification-time parameter, so the same format serves a two-hour SSO
// cookie and any other lifetime a caller needs. Tokens are HS256-signed
// compact JWTs; signature comparison is constant-time inside the JWT
// library. Verification is pure and safe for concurrent use.
package signedtoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrExpired is returned when the token's issue time plus the caller's
// maximum age lies in the past.
var ErrExpired = errors.New("token expired")

// ErrInvalidSignature is returned for tampered, malformed or wrongly keyed
// tokens. Callers treat it exactly like ErrExpired — unauthenticated — but
// the two are distinguished in logs.
var ErrInvalidSignature = errors.New("invalid token signature")

// Signer signs and verifies token payloads with a per-deployment secret key.
type Signer struct {
	key    []byte
	parser *jwt.Parser

	// now is replaceable for expiry tests.
	now func() time.Time
}

// New creates a Signer. The key is the deployment-wide token secret; all
// hosts that must accept each other's SSO cookies share it.
func New(key []byte) *Signer {
	return &Signer{
		key: key,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			// Expiry is enforced here against the caller-supplied max age,
			// not against claims baked into the token.
			jwt.WithoutClaimsValidation(),
		),
		now: time.Now,
	}
}

// Sign serializes payload into a signed token with an embedded issue
// timestamp. The payload must not contain an "iat" key of its own.
func (s *Signer) Sign(payload map[string]any) (string, error) {
	claims := jwt.MapClaims{}
	for k, v := range payload {
		claims[k] = v
	}
	claims["iat"] = s.now().Unix()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

// Verify checks the signature and the age of token and returns its payload
// with the issue timestamp stripped. maxAge is measured from the embedded
// issue time; a token verified in the same instant it was signed is valid
// for any maxAge >= 0.
func (s *Signer) Verify(token string, maxAge time.Duration) (map[string]any, error) {
	parsed, err := s.parser.Parse(token, func(t *jwt.Token) (any, error) {
		return s.key, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidSignature
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidSignature
	}
	issuedAt, ok := claimTime(claims["iat"])
	if !ok {
		return nil, ErrInvalidSignature
	}
	if s.now().After(issuedAt.Add(maxAge)) {
		return nil, ErrExpired
	}

	payload := make(map[string]any, len(claims))
	for k, v := range claims {
		if k == "iat" {
			continue
		}
		payload[k] = v
	}
	return payload, nil
}

// claimTime converts the decoded iat claim back to a time. JSON decoding
// yields float64 for numbers.
func claimTime(v any) (time.Time, bool) {
	switch n := v.(type) {
	case float64:
		return time.Unix(int64(n), 0), true
	case int64:
		return time.Unix(n, 0), true
	default:
		return time.Time{}, false
	}
}
