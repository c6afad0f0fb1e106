package model

import (
	"encoding/json"
	"strings"
	"time"
)

// WireTimeFormat is the timestamp layout used in outbound frames.
const WireTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// -----------------------------------------------------------------------------
// Messages
// -----------------------------------------------------------------------------

// Message is the canonical chat message, independent of the event name or
// field spelling it arrived with.
type Message struct {
	ID        string          // Relay or sender supplied id, generated when absent
	From      string          // Sender identity (server id when known)
	Sender    string          // Sender display name
	To        string          // Recipient id, empty for broadcasts
	Content   string          // Text body
	Timestamp time.Time       // Send time, receive time when the payload had none
	Image     json.RawMessage // Optional attachment, passed through verbatim
}

// HasImage reports whether the message carries an attachment.
func (m Message) HasImage() bool {
	s := strings.TrimSpace(string(m.Image))
	return s != "" && s != "null"
}

// Empty reports whether the message has nothing worth delivering.
func (m Message) Empty() bool {
	return strings.TrimSpace(m.Content) == "" && !m.HasImage()
}

// Direction says whether a transcript entry was received or sent.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// TranscriptEntry is a message as recorded by the archive.
type TranscriptEntry struct {
	Direction  Direction
	Endpoint   string // Relay the message travelled through
	Message    Message
	RecordedAt time.Time
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

// Profile is what the client announces about itself at registration.
type Profile struct {
	Username string
	Age      int
	Gender   string
	Country  string
	Extra    map[string]any // Additional profile fields forwarded as-is
}

// Fields flattens the profile into the key set sent to the relay. Extra
// fields never override the typed ones.
func (p Profile) Fields() map[string]any {
	out := make(map[string]any, len(p.Extra)+4)
	for k, v := range p.Extra {
		out[k] = v
	}
	out["username"] = p.Username
	if p.Age > 0 {
		out["age"] = p.Age
	}
	if p.Gender != "" {
		out["gender"] = p.Gender
	}
	if p.Country != "" {
		out["country"] = p.Country
	}
	return out
}

// User is one entry of the relay's online roster.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Age      int    `json:"age,omitempty"`
	Gender   string `json:"gender,omitempty"`
	Country  string `json:"country,omitempty"`
	IsOnline bool   `json:"isOnline"`
}

// RegisteredUser correlates the locally generated id with the id the relay
// assigned during registration.
type RegisteredUser struct {
	LocalID  string
	ServerID string
	Username string
}

// CanonicalID returns the server id once assigned, the local id before.
func (u RegisteredUser) CanonicalID() string {
	if u.ServerID != "" {
		return u.ServerID
	}
	return u.LocalID
}
