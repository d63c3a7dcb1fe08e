package model

import (
	"time"
)

// TypingIndicator is a transient typing-state event. It is never persisted
// beyond the participant's typing flag.
type TypingIndicator struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	DisplayName    string    `json:"display_name,omitempty"`
	IsTyping       bool      `json:"is_typing"`
	At             time.Time `json:"at"`
}

// ConversationDeletedEvent is broadcast on the global deletion channel.
// Filtering by conversation is the subscriber's responsibility.
type ConversationDeletedEvent struct {
	ConversationID string    `json:"conversation_id"`
	At             time.Time `json:"at"`
}
