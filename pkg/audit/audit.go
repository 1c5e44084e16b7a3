// Package audit records the security-relevant events of the authentication
// system: logins and login failures, logouts and credential provisioning.
// Events carry the acting uid and remote address but never secrets or tokens.
package audit

import (
	"context"
	"time"
)

// Kind categorizes audit events.
type Kind string

const (
	// KindLogin is a successful login through any channel.
	KindLogin Kind = "login"

	// KindLoginFailed is a rejected login attempt.
	KindLoginFailed Kind = "login_failed"

	// KindLogout is an explicit logout.
	KindLogout Kind = "logout"

	// KindCredentialCreated is a credential provisioned through the API or
	// an OAuth2 first contact.
	KindCredentialCreated Kind = "credential_created"

	// KindCredentialUpdated is a credential changed through the API.
	KindCredentialUpdated Kind = "credential_updated"
)

// Event is one auditable occurrence.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	UID       string    `json:"uid"`
	Via       string    `json:"via,omitempty"`    // login channel: http, form, sso, oauth2
	Remote    string    `json:"remote,omitempty"` // client address
	Detail    string    `json:"detail,omitempty"`
}

// Filter selects events for Query. Zero values mean "any".
type Filter struct {
	Kind      Kind
	UID       string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Recorder persists and retrieves audit events.
type Recorder interface {
	// Record stores one event.
	Record(ctx context.Context, event Event) error

	// Query returns matching events, newest first.
	Query(ctx context.Context, filter Filter) ([]Event, error)

	// Close releases resources.
	Close() error
}
