package model

import (
	"time"
)

// ConversationStatus represents the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationActive ConversationStatus = "active"
	ConversationClosed ConversationStatus = "closed"
)

// ConversationPriority represents how urgently a conversation needs attention.
type ConversationPriority string

const (
	PriorityNormal ConversationPriority = "normal"
	PriorityHigh   ConversationPriority = "high"
	PriorityUrgent ConversationPriority = "urgent"
)

// Conversation represents a support thread between a user and support staff.
// New messages are accepted only while Status is active.
type Conversation struct {
	ID              string               `json:"id"`
	Title           string               `json:"title"`
	Description     string               `json:"description,omitempty"`
	UserID          string               `json:"user_id"`
	AssignedAdminID *string              `json:"assigned_admin_id,omitempty"`
	Status          ConversationStatus   `json:"status"`
	Priority        ConversationPriority `json:"priority"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	LastMessageAt   time.Time            `json:"last_message_at"`

	// UnreadCount is derived per viewer from the participant's last-read mark.
	UnreadCount int `json:"unread_count,omitempty"`
}

// CreateConversationRequest is the request to open a new conversation.
type CreateConversationRequest struct {
	Title          string               `json:"title,omitempty"`
	InitialMessage string               `json:"initial_message,omitempty"`
	Priority       ConversationPriority `json:"priority,omitempty"`
}

// ConversationFilter narrows admin-facing conversation listings.
type ConversationFilter struct {
	Status   ConversationStatus   `json:"status,omitempty"`
	Priority ConversationPriority `json:"priority,omitempty"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
}

// ChatStats holds aggregate counts across the whole chat subsystem.
type ChatStats struct {
	TotalConversations    int            `json:"total_conversations"`
	ConversationsByStatus map[string]int `json:"conversations_by_status"`
	ConversationsByPrio   map[string]int `json:"conversations_by_priority"`
	TotalMessages         int            `json:"total_messages"`
	AvgResponseSeconds    float64        `json:"avg_response_seconds"`
}

// ActorProfile is the resolved identity used for permission checks and
// message-role stamping.
type ActorProfile struct {
	UserID      string     `json:"user_id"`
	DisplayName string     `json:"display_name"`
	Role        SenderRole `json:"role"`
}
