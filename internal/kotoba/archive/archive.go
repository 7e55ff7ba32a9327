// Package archive persists finished conversations and answers queries over
// them. Sessions are written once, when they terminate; nothing in here is
// on the hot path of a chat turn.
package archive

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by SessionDetail for an unknown id.
var ErrNotFound = errors.New("archive: session not found")

// DefaultHistoryLimit applies when SessionHistory is called with limit <= 0.
const DefaultHistoryLimit = 10

// Sender identifies who wrote an archived message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Status values of an archived session row.
const (
	StatusActive = "active"
	StatusEnded  = "ended"
)

// Well-known end reasons.
const (
	ReasonUserGoodbye = "user_goodbye"
	ReasonStorageFull = "storage_limit_reached"
	ReasonUserClear   = "user_clear"
	ReasonIdleTimeout = "idle_timeout"
)

// Meta is client information attached to a session.
type Meta struct {
	Browser  string `json:"browser,omitempty"`
	IP       string `json:"ip_address,omitempty"`
	Location string `json:"location,omitempty"`
}

// Session is one archived conversation.
type Session struct {
	ID            string     `json:"id"`
	SessionKey    string     `json:"session_key"`
	Identity      string     `json:"identity"`
	Model         string     `json:"model"`
	Provider      string     `json:"provider"`
	Status        string     `json:"status"`
	EndReason     string     `json:"end_reason,omitempty"`
	TotalMessages int        `json:"total_messages"`
	Meta          Meta       `json:"meta"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// Message is one side of an archived turn. Order is 1-based within the
// session and alternates user, assistant.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Sender     Sender    `json:"sender"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	Order      int       `json:"message_order"`
	CreatedAt  time.Time `json:"created_at"`
}

// Detail is a session together with its messages in order.
type Detail struct {
	Session  Session   `json:"session"`
	Messages []Message `json:"messages"`
}

// Store is the persistence contract used by the Archiver and the archive
// query routes.
type Store interface {
	// SaveSession inserts s with status active and returns its id,
	// generating one when s.ID is empty.
	SaveSession(ctx context.Context, s Session) (string, error)
	SaveMessage(ctx context.Context, m Message) (string, error)
	// EndSession marks an active session ended. It reports whether a row
	// changed.
	EndSession(ctx context.Context, id, reason string, total int) (bool, error)
	// SessionHistory lists an identity's sessions, newest first.
	SessionHistory(ctx context.Context, identity string, limit int) ([]Session, error)
	SessionDetail(ctx context.Context, id string) (Detail, error)
}

// Turn is one exchange in a snapshot.
type Turn struct {
	User      string
	Assistant string
	At        time.Time
}

// Snapshot is an immutable copy of a conversation handed to the Archiver.
type Snapshot struct {
	SessionKey string
	Identity   string
	Model      string
	Provider   string
	Meta       Meta
	StartedAt  time.Time
	Turns      []Turn
}
