// Package convstore persists conversations and their ordered messages.
//
// The message history in this store is the only source of conversational
// context: workers hold no memory between requests, so any instance can
// reconstruct a turn's context from here alone.
package convstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation does not exist or is not
// owned by the requesting user. The two cases are deliberately
// indistinguishable so the API never confirms that a foreign
// conversation exists.
var ErrNotFound = errors.New("conversation not found")

// Roles for stored messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Conversation is a user-owned thread of messages.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one entry in a conversation. Append-only: never mutated
// after creation, deleted only by cascade from conversation deletion.
type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Role           string           `json:"role"`
	Content        string           `json:"content"`
	ToolCalls      []ToolCallRecord `json:"tool_calls,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ToolCallRecord is a terminal tool invocation embedded in a message.
// Either Result or Error is set; in-flight invocations are never
// persisted.
type ToolCallRecord struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Store is the conversation persistence interface consumed by the
// context loader and the orchestrator.
type Store interface {
	// Create starts a new conversation owned by userID.
	Create(ctx context.Context, userID string) (*Conversation, error)

	// Get returns a conversation after verifying ownership.
	// Returns ErrNotFound for missing or foreign conversations.
	Get(ctx context.Context, userID, conversationID string) (*Conversation, error)

	// List returns the user's conversations, most recently active first.
	List(ctx context.Context, userID string) ([]Conversation, error)

	// RecentMessages returns up to limit most recent messages in
	// chronological order. Ownership is verified first.
	RecentMessages(ctx context.Context, userID, conversationID string, limit int) ([]Message, error)

	// AppendTurn appends one turn's messages (user + intermediates +
	// assistant) as a single logical append. Ownership is verified first.
	AppendTurn(ctx context.Context, userID, conversationID string, messages []Message) error

	// Delete removes a conversation and cascades to its messages.
	Delete(ctx context.Context, userID, conversationID string) error
}
