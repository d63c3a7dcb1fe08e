package model

import (
	"time"
)

// NotificationPreferences holds per-channel notification toggles for one
// participant.
type NotificationPreferences struct {
	Email bool `json:"email"`
	Push  bool `json:"push"`
	InApp bool `json:"in_app"`
}

// Participant links a conversation to a user. At most one row exists per
// (conversation, user) pair.
type Participant struct {
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	Role           SenderRole `json:"role"`
	JoinedAt       time.Time  `json:"joined_at"`
	LastReadAt     time.Time  `json:"last_read_at"`
	IsOnline       bool       `json:"is_online"`
	IsTyping       bool       `json:"is_typing"`
	TypingSince    *time.Time `json:"typing_since,omitempty"`

	Notifications NotificationPreferences `json:"notifications"`

	// UnreadCount is derived from LastReadAt, never stored.
	UnreadCount int `json:"unread_count,omitempty"`
}
