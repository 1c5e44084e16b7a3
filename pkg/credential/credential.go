// Package credential defines the Credential identity record and the Store
// interface for its persistence. A Credential couples a stable uid with an
// opaque server-generated secret and a set of permission tokens; it is the
// single identity type every authentication strategy resolves to.
package credential

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no credential exists for a uid.
var ErrNotFound = errors.New("credential not found")

// ErrInvalidPermission is returned when a permission token is not on the
// configured allow-list.
var ErrInvalidPermission = errors.New("invalid permission")

// DefaultTenant is assigned when no organizational scope is known.
const DefaultTenant = "_unknown"

// DefaultPermissions is the baseline permission set assigned at creation so
// authorization checks never operate on an empty set.
var DefaultPermissions = []string{"read"}

// Credential represents an access token and somebody who is allowed to use it.
type Credential struct {
	// UID is the stable primary identifier. Immutable once assigned.
	UID string `json:"uid"`

	// Secret is an opaque random string generated server-side at creation.
	// It is used only for HTTP Basic / direct uid:secret authentication and
	// is never derived from the uid.
	Secret string `json:"secret,omitempty"`

	// Tenant is the organizational scope.
	Tenant string `json:"tenant"`

	// Email is the contact address, if known.
	Email string `json:"email,omitempty"`

	// Admin marks administrative credentials.
	Admin bool `json:"admin"`

	// Permissions holds capability tokens. Never empty after creation.
	Permissions []string `json:"permissions"`

	// Text is a free-form annotation, e.g. how the credential came to be.
	Text string `json:"text,omitempty"`

	// Provider and Subject reference the federated identity principal this
	// credential was created from, if any.
	Provider string `json:"provider,omitempty"`
	Subject  string `json:"subject,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasPermission reports whether the credential carries the given token.
func (c *Credential) HasPermission(perm string) bool {
	return slices.Contains(c.Permissions, perm)
}

// Redacted returns a copy with the secret removed, for responses that must
// not leak it after creation time.
func (c *Credential) Redacted() *Credential {
	cp := *c
	cp.Secret = ""
	cp.Permissions = slices.Clone(c.Permissions)
	return &cp
}

// Store defines the interface for credential persistence.
//
// GetOrCreate must be atomic get-or-insert on the uid key: replaying a
// creation never duplicates a credential or rotates its secret.
type Store interface {
	// Get retrieves a credential by uid. Returns ErrNotFound if absent.
	Get(ctx context.Context, uid string) (*Credential, error)

	// GetOrCreate inserts the credential unless one with the same uid
	// already exists, in which case the existing record is returned and
	// created reports false.
	GetOrCreate(ctx context.Context, cred *Credential) (out *Credential, created bool, err error)

	// Update overwrites the mutable fields of an existing credential.
	// The uid and secret are never changed by Update.
	Update(ctx context.Context, cred *Credential) error
}

// Options configure a credential created through New.
type Options struct {
	UID         string
	Tenant      string
	Email       string
	Admin       bool
	Text        string
	Permissions []string
	Provider    string
	Subject     string
}

// New builds a credential from opts, generating the secret and, when no uid
// is given, a random uid of the form "u<digits>". The caller persists it via
// Store.GetOrCreate.
func New(opts Options) *Credential {
	uid := opts.UID
	if uid == "" {
		uid = "u" + fmt.Sprintf("%d", uuid.New().ID())
	}
	tenant := opts.Tenant
	if tenant == "" {
		tenant = DefaultTenant
	}
	perms := opts.Permissions
	if len(perms) == 0 {
		perms = slices.Clone(DefaultPermissions)
	}
	now := time.Now().UTC()
	return &Credential{
		UID:         uid,
		Secret:      GenerateSecret(),
		Tenant:      tenant,
		Email:       opts.Email,
		Admin:       opts.Admin,
		Text:        opts.Text,
		Permissions: normalizePermissions(perms),
		Provider:    opts.Provider,
		Subject:     opts.Subject,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// GenerateSecret returns an opaque random secret. 10 random bytes encoded as
// base32 yield 80 bits of entropy, well past the 40-bit floor and more than
// most passwords.
func GenerateSecret() string {
	var buf [10]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf[:])
}

// Allowlist validates permission tokens against a fixed set of known tokens.
type Allowlist struct {
	allowed map[string]struct{}
}

// NewAllowlist creates an allow-list from the configured permission tokens.
// The baseline DefaultPermissions are always accepted.
func NewAllowlist(permissions []string) *Allowlist {
	allowed := make(map[string]struct{}, len(permissions)+len(DefaultPermissions))
	for _, p := range DefaultPermissions {
		allowed[p] = struct{}{}
	}
	for _, p := range permissions {
		allowed[p] = struct{}{}
	}
	return &Allowlist{allowed: allowed}
}

// Validate returns ErrInvalidPermission naming the first unknown token.
func (a *Allowlist) Validate(permissions []string) error {
	for _, p := range permissions {
		if _, ok := a.allowed[p]; !ok {
			return fmt.Errorf("%w: %q", ErrInvalidPermission, p)
		}
	}
	return nil
}

// normalizePermissions sorts and deduplicates permission tokens.
func normalizePermissions(perms []string) []string {
	out := slices.Clone(perms)
	slices.Sort(out)
	return slices.Compact(out)
}
