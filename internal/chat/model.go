package chat

import (
	"time"

	"go-chat-history/internal/messageid"
)

// ---------------------------------------------
// Database & API Models
// ---------------------------------------------

type Conversation struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"` // 'private' or 'group'
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	ID       messageid.ID `json:"id"`
	ChatID   int64        `json:"chat_id"`
	UserID   int          `json:"user_id"`
	Username string       `json:"username"` // denormalized, fetched via JOIN
	Content  string       `json:"content"`
	Date     int32        `json:"date"` // unix seconds
}

// Page is one answer to a history request.
type Page struct {
	Messages []*Message `json:"messages"`
	// Complete is set when no older messages exist.
	Complete bool `json:"complete"`
}

// ---------------------------------------------
// Internal Hub Models
// ---------------------------------------------

const (
	EventNew    = "new"
	EventDelete = "delete"
)

// Event travels through the broker so that every instance updates its cache.
type Event struct {
	Type       string         `json:"type"`
	ChatID     int64          `json:"chat_id"`
	Message    *Message       `json:"message,omitempty"`
	MessageIDs []messageid.ID `json:"message_ids,omitempty"`
}

// IncomingMessage is a message typed by a connected client.
type IncomingMessage struct {
	ChatID   int64
	UserID   int
	Username string
	Content  string
}

// WSMessage is the JSON the frontend sends over the socket.
type WSMessage struct {
	Content string `json:"content"`
}
