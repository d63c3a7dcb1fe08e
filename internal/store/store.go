// Package store defines the message store contract and its Postgres
// implementation. The store is the persistence of record; the chat service
// treats it as an opaque, thread-safe collaborator.
package store

import (
	"context"
	"time"

	"github.com/supportdesk/chat-platform/internal/model"
)

// ConversationUpdate carries the mutable conversation fields. Nil fields are
// left untouched.
type ConversationUpdate struct {
	Status          *model.ConversationStatus
	AssignedAdminID *string
	LastMessageAt   *time.Time
	UpdatedAt       *time.Time
}

// ConversationQuery narrows a conversation listing.
type ConversationQuery struct {
	// UserID restricts results to conversations owned by this user.
	UserID string
	// ViewerID, when set, derives per-viewer unread counts.
	ViewerID string
	Status   model.ConversationStatus
	Priority model.ConversationPriority
}

// MessageStore is the persistence contract for the chat service. Deletes are
// independent calls; cascading is never assumed.
//
// GetConversation returns (nil, nil) when the conversation is absent.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *model.Message) (*model.Message, error)
	QueryMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error)

	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	InsertConversation(ctx context.Context, conv *model.Conversation) (*model.Conversation, error)
	UpdateConversation(ctx context.Context, id string, upd ConversationUpdate) error
	ListConversations(ctx context.Context, q ConversationQuery) ([]model.Conversation, error)

	DeleteConversation(ctx context.Context, id string) error
	DeleteMessages(ctx context.Context, conversationID string) error
	DeleteParticipants(ctx context.Context, conversationID string) error

	UpsertParticipant(ctx context.Context, p *model.Participant) error
	UpdateParticipantLastRead(ctx context.Context, conversationID, userID string, at time.Time) error
	SetParticipantTyping(ctx context.Context, conversationID, userID string, typing bool, at time.Time) error
	ListParticipants(ctx context.Context, conversationID string) ([]model.Participant, error)

	GetActorProfile(ctx context.Context, userID string) (*model.ActorProfile, error)

	Stats(ctx context.Context) (*model.ChatStats, error)
}
