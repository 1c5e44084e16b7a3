package audit

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

// NewEvent creates an event of the given kind for uid.
func NewEvent(kind Kind, uid string) Event {
	return Event{
		ID:        generateEventID(),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		UID:       uid,
	}
}

// WithVia records the login channel.
func (e Event) WithVia(via string) Event {
	e.Via = via
	return e
}

// WithRemote records the client address.
func (e Event) WithRemote(remote string) Event {
	e.Remote = remote
	return e
}

// WithDetail adds free-form context.
func (e Event) WithDetail(detail string) Event {
	e.Detail = detail
	return e
}

// generateEventID generates a unique event ID.
func generateEventID() string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	return base64.RawURLEncoding.EncodeToString(bytes)
}
