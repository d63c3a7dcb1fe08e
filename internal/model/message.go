// Package model defines data structures for the support-chat platform.
package model

import (
	"time"
)

// SenderRole represents the role of a message sender.
type SenderRole string

const (
	RoleUser      SenderRole = "user"
	RoleAdmin     SenderRole = "admin"
	RoleModerator SenderRole = "moderator"
	RoleSupport   SenderRole = "support"
	RoleClient    SenderRole = "client"
)

// MessageType represents the kind of message content.
type MessageType string

const (
	MessageTypeText         MessageType = "text"
	MessageTypeImage        MessageType = "image"
	MessageTypeFile         MessageType = "file"
	MessageTypeSystem       MessageType = "system"
	MessageTypeNotification MessageType = "notification"
)

// Message represents one unit of conversation content. Immutable once created.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	SenderID       *string        `json:"sender_id,omitempty"` // nil for system-authored messages
	SenderRole     SenderRole     `json:"sender_role"`
	Content        string         `json:"content"`
	Type           MessageType    `json:"type"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`

	// IsRead is derived per viewer, never stored on the message row.
	IsRead bool `json:"is_read"`
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	ConversationID string         `json:"conversation_id"`
	Content        string         `json:"content"`
	Type           MessageType    `json:"type,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
}
