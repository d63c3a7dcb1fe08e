// Package service provides the chat orchestration layer and the factory that
// builds it.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/supportdesk/chat-platform/internal/cache"
	"github.com/supportdesk/chat-platform/internal/config"
	"github.com/supportdesk/chat-platform/internal/model"
	"github.com/supportdesk/chat-platform/internal/realtime"
	"github.com/supportdesk/chat-platform/internal/store"
	"github.com/supportdesk/chat-platform/pkg/logger"
	"github.com/supportdesk/chat-platform/pkg/metrics"
)

// DefaultConversationTitle is used when a create request names none.
const DefaultConversationTitle = "Support Conversation"

const adminGreeting = "Hello! A member of our support team opened this conversation. How can we help you today?"

func userGreeting(displayName string) string {
	if displayName != "" {
		return fmt.Sprintf("Hi %s! Thanks for reaching out. Our support team will reply shortly.", displayName)
	}
	return "Hi! Thanks for reaching out. Our support team will reply shortly."
}

// Options holds the per-profile tuning of the chat service.
type Options struct {
	MessageCacheTTL      time.Duration
	ConversationCacheTTL time.Duration
	StatsCacheTTL        time.Duration
}

// cascadeDeleter is implemented by stores that can run the three delete
// steps atomically. The step order is identical either way.
type cascadeDeleter interface {
	DeleteConversationCascade(ctx context.Context, conversationID string) error
}

// ChatService orchestrates messages, conversations, cache and realtime
// fan-out. It calls the store abstraction uniformly and never branches on
// live-vs-fallback mode; the factory decides which store backs it.
type ChatService struct {
	store    store.MessageStore
	cache    *cache.Cache
	notifier *realtime.Notifier
	cfg      *config.Config
	opts     Options
	logger   *logger.Logger
}

// NewChatService wires a chat service. Construct through the Factory.
func NewChatService(
	st store.MessageStore,
	c *cache.Cache,
	notifier *realtime.Notifier,
	cfg *config.Config,
	opts Options,
	log *logger.Logger,
) *ChatService {
	return &ChatService{
		store:    st,
		cache:    c,
		notifier: notifier,
		cfg:      cfg,
		opts:     opts,
		logger:   log,
	}
}

func messagesKey(conversationID string, limit, offset int) string {
	return fmt.Sprintf("messages:%s:%d:%d", conversationID, limit, offset)
}

func messagesPattern(conversationID string) string {
	return fmt.Sprintf("messages:%s:*", conversationID)
}

func userConversationsKey(userID string) string {
	return "conversations:user:" + userID
}

const statsKey = "stats:global"

// SendMessage validates and stores a message, bumps the conversation's
// activity timestamps, invalidates affected cache families before returning,
// and fans the message out to live subscribers.
func (s *ChatService) SendMessage(ctx context.Context, req *model.SendMessageRequest, senderID string) (*model.Message, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, &model.ValidationError{Field: "content", Reason: "must not be empty"}
	}

	conv, err := s.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, &model.StoreError{Op: "get conversation", Err: err}
	}
	if conv == nil || conv.Status != model.ConversationActive {
		return nil, &model.NotFoundError{Resource: "active conversation", ID: req.ConversationID}
	}

	profile, err := s.store.GetActorProfile(ctx, senderID)
	if err != nil {
		return nil, &model.StoreError{Op: "resolve sender role", Err: err}
	}

	msgType := req.Type
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: req.ConversationID,
		SenderID:       &senderID,
		SenderRole:     profile.Role,
		Content:        req.Content,
		Type:           msgType,
		Metadata:       req.Metadata,
		CreatedAt:      time.Now(),
	}

	inserted, err := s.store.InsertMessage(ctx, msg)
	if err != nil {
		return nil, &model.StoreError{Op: "insert message", Err: err}
	}

	at := inserted.CreatedAt
	if err := s.store.UpdateConversation(ctx, conv.ID, store.ConversationUpdate{
		LastMessageAt: &at,
		UpdatedAt:     &at,
	}); err != nil {
		s.logger.Warn("failed to bump conversation timestamps",
			zap.String("conversation_id", conv.ID), zap.Error(err))
	}

	// Write-through invalidation: affected families drop before we return.
	s.cache.InvalidatePattern(messagesPattern(conv.ID))
	s.cache.Delete(userConversationsKey(senderID))

	s.notifier.NotifyNewMessage(inserted)
	metrics.MessagesTotal.WithLabelValues(string(inserted.SenderRole)).Inc()

	inserted.IsRead = false
	return inserted, nil
}

// CreateConversation opens a conversation with exactly one seed message. A
// conversation must never exist without a message: when the seed insert
// fails the just-created row is deleted again.
func (s *ChatService) CreateConversation(ctx context.Context, req *model.CreateConversationRequest, userID string, isAdminActor bool) (*model.Conversation, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = DefaultConversationTitle
	}
	priority := req.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}

	conv, err := s.store.InsertConversation(ctx, &model.Conversation{
		ID:       uuid.Must(uuid.NewV7()).String(),
		Title:    title,
		UserID:   userID,
		Status:   model.ConversationActive,
		Priority: priority,
	})
	if err != nil {
		return nil, &model.StoreError{Op: "insert conversation", Err: err}
	}

	seed := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		Content:        strings.TrimSpace(req.InitialMessage),
		CreatedAt:      time.Now(),
	}
	if isAdminActor {
		seed.SenderID = &userID
		seed.SenderRole = model.RoleAdmin
		seed.Type = model.MessageTypeText
		if seed.Content == "" {
			seed.Content = adminGreeting
		}
	} else {
		seed.SenderRole = model.RoleSupport
		seed.Type = model.MessageTypeSystem
		if seed.Content == "" {
			profile, err := s.store.GetActorProfile(ctx, userID)
			if err != nil {
				s.logger.Warn("failed to resolve creator profile", zap.String("user_id", userID), zap.Error(err))
				profile = &model.ActorProfile{UserID: userID}
			}
			seed.Content = userGreeting(profile.DisplayName)
		}
	}

	if _, err := s.store.InsertMessage(ctx, seed); err != nil {
		if delErr := s.store.DeleteConversation(ctx, conv.ID); delErr != nil {
			s.logger.Error("failed to roll back conversation after seed insert failure",
				zap.String("conversation_id", conv.ID), zap.Error(delErr))
		}
		return nil, &model.StoreError{Op: "insert seed message", Err: err}
	}

	if err := s.store.UpsertParticipant(ctx, &model.Participant{
		ConversationID: conv.ID,
		UserID:         userID,
		Role:           model.RoleUser,
		Notifications:  model.NotificationPreferences{Email: true, Push: true, InApp: true},
	}); err != nil {
		return nil, &model.StoreError{Op: "register participant", Err: err}
	}

	s.cache.Delete(userConversationsKey(userID))
	metrics.ConversationsTotal.Inc()

	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", userID),
		zap.Bool("admin_actor", isAdminActor))
	return conv, nil
}

// GetConversationMessages reads through the cache. A hit short-circuits
// entirely; a miss queries the store in creation-time order, capped at the
// configured page size.
func (s *ChatService) GetConversationMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	maxPage := s.cfg.MaxMessagesPerPage()
	if limit <= 0 || limit > maxPage {
		limit = maxPage
	}
	if offset < 0 {
		offset = 0
	}

	key := messagesKey(conversationID, limit, offset)
	if msgs, ok := cache.Typed[[]model.Message](s.cache, key); ok {
		return msgs, nil
	}

	msgs, err := s.store.QueryMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, &model.StoreError{Op: "query messages", Err: err}
	}

	s.cache.Set(key, msgs, s.opts.MessageCacheTTL)
	return msgs, nil
}

// GetUserConversations returns the user's active conversations, most recent
// activity first, through a per-user cache entry.
func (s *ChatService) GetUserConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	key := userConversationsKey(userID)
	if convs, ok := cache.Typed[[]model.Conversation](s.cache, key); ok {
		return convs, nil
	}

	convs, err := s.store.ListConversations(ctx, store.ConversationQuery{
		UserID:   userID,
		ViewerID: userID,
		Status:   model.ConversationActive,
	})
	if err != nil {
		return nil, &model.StoreError{Op: "list conversations", Err: err}
	}

	s.cache.Set(key, convs, s.opts.ConversationCacheTTL)
	return convs, nil
}

// GetAllConversations is the admin-facing listing. Uncached; defaults to
// active conversations unless the filter names a status.
func (s *ChatService) GetAllConversations(ctx context.Context, filter *model.ConversationFilter) ([]model.Conversation, error) {
	q := store.ConversationQuery{Status: model.ConversationActive}
	if filter != nil {
		if filter.Status != "" {
			q.Status = filter.Status
		}
		q.Priority = filter.Priority
	}

	convs, err := s.store.ListConversations(ctx, q)
	if err != nil {
		return nil, &model.StoreError{Op: "list conversations", Err: err}
	}
	return convs, nil
}

// MarkMessagesAsRead advances the participant's last-read mark and drops the
// user's conversation-list cache entry so unread counters recompute.
func (s *ChatService) MarkMessagesAsRead(ctx context.Context, conversationID, userID string) error {
	if err := s.store.UpdateParticipantLastRead(ctx, conversationID, userID, time.Now()); err != nil {
		return &model.StoreError{Op: "update last read", Err: err}
	}
	s.cache.Delete(userConversationsKey(userID))
	return nil
}

// UpdateTypingIndicator delegates to the realtime notifier, which absorbs
// unavailability.
func (s *ChatService) UpdateTypingIndicator(ctx context.Context, conversationID, userID string, isTyping bool) {
	s.notifier.UpdateTypingIndicator(ctx, conversationID, userID, isTyping)
}

// GetChatStats returns aggregate counts, cached with a longer TTL than
// message and conversation reads.
func (s *ChatService) GetChatStats(ctx context.Context) (*model.ChatStats, error) {
	if stats, ok := cache.Typed[*model.ChatStats](s.cache, statsKey); ok {
		return stats, nil
	}

	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, &model.StoreError{Op: "aggregate stats", Err: err}
	}

	s.cache.Set(statsKey, stats, s.opts.StatsCacheTTL)
	return stats, nil
}

// DeleteConversation removes a conversation with its messages and
// participants, in that order. Only the owning user, the assigned admin, or
// an admin/moderator actor may delete. A store that silently refuses the row
// delete surfaces as a StoreError, never as success.
func (s *ChatService) DeleteConversation(ctx context.Context, conversationID, actorID string) (bool, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return false, &model.StoreError{Op: "get conversation", Err: err}
	}
	if conv == nil {
		return false, &model.NotFoundError{Resource: "conversation", ID: conversationID}
	}

	authorized := conv.UserID == actorID ||
		(conv.AssignedAdminID != nil && *conv.AssignedAdminID == actorID)
	if !authorized {
		profile, err := s.store.GetActorProfile(ctx, actorID)
		if err != nil {
			return false, &model.StoreError{Op: "resolve actor role", Err: err}
		}
		authorized = profile.Role == model.RoleAdmin || profile.Role == model.RoleModerator
	}
	if !authorized {
		return false, &model.PermissionError{Actor: actorID, Action: "delete conversation " + conversationID}
	}

	if cd, ok := s.store.(cascadeDeleter); ok {
		if err := cd.DeleteConversationCascade(ctx, conversationID); err != nil {
			return false, &model.StoreError{Op: "delete conversation", Err: err}
		}
	} else {
		if err := s.store.DeleteMessages(ctx, conversationID); err != nil {
			return false, &model.StoreError{Op: "delete messages", Err: err}
		}
		if err := s.store.DeleteParticipants(ctx, conversationID); err != nil {
			return false, &model.StoreError{Op: "delete participants", Err: err}
		}
		if err := s.store.DeleteConversation(ctx, conversationID); err != nil {
			return false, &model.StoreError{Op: "delete conversation", Err: err}
		}
	}

	remaining, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return false, &model.StoreError{Op: "verify deletion", Err: err}
	}
	if remaining != nil {
		return false, &model.StoreError{Op: "verify deletion", Err: errors.New("conversation row still present after delete")}
	}

	s.cache.Delete(userConversationsKey(actorID))
	s.cache.InvalidatePattern(messagesPattern(conversationID))
	s.notifier.NotifyConversationDeleted(conversationID)
	metrics.ConversationsDeleted.Inc()

	s.logger.Info("conversation deleted",
		zap.String("conversation_id", conversationID),
		zap.String("actor_id", actorID))
	return true, nil
}

// GetCacheStats exposes cache statistics for the diagnostics surface.
func (s *ChatService) GetCacheStats() cache.Stats {
	return s.cache.GetStats()
}

// GetConnectionStatus exposes the realtime transport state.
func (s *ChatService) GetConnectionStatus() realtime.ConnectionStatus {
	return s.notifier.GetConnectionStatus()
}
