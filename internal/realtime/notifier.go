package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/supportdesk/chat-platform/internal/model"
	"github.com/supportdesk/chat-platform/pkg/logger"
	"github.com/supportdesk/chat-platform/pkg/metrics"
)

const deletionSubject = "chat.conversation.deleted"

func messageSubject(conversationID string) string {
	return fmt.Sprintf("chat.conv.%s.messages", conversationID)
}

func typingSubject(conversationID string) string {
	return fmt.Sprintf("chat.conv.%s.typing", conversationID)
}

// participantWriter persists the typing flag alongside the broadcast.
type participantWriter interface {
	SetParticipantTyping(ctx context.Context, conversationID, userID string, typing bool, at time.Time) error
}

// MessageCallbacks receives per-conversation message events.
type MessageCallbacks struct {
	OnNewMessage func(msg *model.Message)
	OnError      func(err error)
}

// TypingCallbacks receives typing-flag transitions for one conversation.
type TypingCallbacks struct {
	OnTypingStart func(ind *model.TypingIndicator)
	OnTypingStop  func(ind *model.TypingIndicator)
}

// DeletionCallbacks receives global conversation-deletion events. Filtering
// by conversation is the subscriber's responsibility.
type DeletionCallbacks struct {
	OnConversationDeleted func(ev *model.ConversationDeletedEvent)
}

// Subscription is the handle returned by every subscribe call. Unsubscribe
// is the only cancellation mechanism; it is idempotent and safe to call from
// within a callback.
type Subscription struct {
	once   sync.Once
	cancel func() error
	detach func()
}

// Unsubscribe stops delivery. Subsequent calls are no-ops.
func (s *Subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		if s.cancel != nil {
			err = s.cancel()
		}
		if s.detach != nil {
			s.detach()
		}
	})
	return err
}

// ConnectionStatus describes the notifier's transport state.
type ConnectionStatus struct {
	IsConnected         bool `json:"is_connected"`
	IsAvailable         bool `json:"is_available"`
	ActiveSubscriptions int  `json:"active_subscriptions"`
}

// Notifier fans chat events out to subscribers. When realtime features are
// unavailable every method is a silent no-op returning a disposable empty
// subscription; callers never special-case availability.
type Notifier struct {
	bus     Bus
	enabled bool
	store   participantWriter
	logger  *logger.Logger

	mu     sync.Mutex
	subs   map[int]*Subscription
	nextID int
	typing map[string]bool // (conversation|user) -> last published state
}

// New creates a notifier over bus. A nil bus or enabled=false disables the
// realtime layer. store, when non-nil, persists typing flags.
func New(bus Bus, enabled bool, store participantWriter, log *logger.Logger) *Notifier {
	return &Notifier{
		bus:     bus,
		enabled: enabled,
		store:   store,
		logger:  log,
		subs:    make(map[int]*Subscription),
		typing:  make(map[string]bool),
	}
}

func (n *Notifier) available() bool {
	return n.enabled && n.bus != nil
}

// subscribe wires a bus subscription into a tracked handle.
func (n *Notifier) subscribe(subject string, handler func(data []byte)) (*Subscription, error) {
	if !n.available() {
		return &Subscription{}, nil
	}

	cancel, err := n.bus.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	sub := &Subscription{
		cancel: cancel,
		detach: func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			metrics.DecrementSubscriptions()
		},
	}
	n.subs[id] = sub
	n.mu.Unlock()
	metrics.IncrementSubscriptions()

	return sub, nil
}

// SubscribeToMessages opens a channel scoped to one conversation and invokes
// OnNewMessage for every message insertion event.
func (n *Notifier) SubscribeToMessages(conversationID string, cb MessageCallbacks) (*Subscription, error) {
	return n.subscribe(messageSubject(conversationID), func(data []byte) {
		var msg model.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			if cb.OnError != nil {
				cb.OnError(fmt.Errorf("failed to decode message event: %w", err))
			}
			return
		}
		if cb.OnNewMessage != nil {
			cb.OnNewMessage(&msg)
		}
	})
}

// SubscribeToTyping watches typing-flag transitions for one conversation.
// Events are edge-triggered: one start per false→true, one stop per
// true→false.
func (n *Notifier) SubscribeToTyping(conversationID string, cb TypingCallbacks) (*Subscription, error) {
	return n.subscribe(typingSubject(conversationID), func(data []byte) {
		var ind model.TypingIndicator
		if err := json.Unmarshal(data, &ind); err != nil {
			return
		}
		if ind.IsTyping {
			if cb.OnTypingStart != nil {
				cb.OnTypingStart(&ind)
			}
		} else if cb.OnTypingStop != nil {
			cb.OnTypingStop(&ind)
		}
	})
}

// SubscribeToConversationDeletion subscribes to the single global deletion
// channel.
func (n *Notifier) SubscribeToConversationDeletion(cb DeletionCallbacks) (*Subscription, error) {
	return n.subscribe(deletionSubject, func(data []byte) {
		var ev model.ConversationDeletedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		if cb.OnConversationDeleted != nil {
			cb.OnConversationDeleted(&ev)
		}
	})
}

// UpdateTypingIndicator persists the participant's typing flag and publishes
// an event only when the flag value actually changes. Silent no-op when
// realtime is unavailable.
func (n *Notifier) UpdateTypingIndicator(ctx context.Context, conversationID, userID string, isTyping bool) {
	if !n.available() {
		return
	}

	now := time.Now()
	if n.store != nil {
		if err := n.store.SetParticipantTyping(ctx, conversationID, userID, isTyping, now); err != nil {
			n.logger.Warn("failed to persist typing flag",
				zap.String("conversation_id", conversationID),
				zap.String("user_id", userID),
				zap.Error(err))
		}
	}

	key := conversationID + "|" + userID
	n.mu.Lock()
	last, seen := n.typing[key]
	n.typing[key] = isTyping
	n.mu.Unlock()

	// Edge-triggered: unknown previous state counts as not typing.
	if seen && last == isTyping {
		return
	}
	if !seen && !isTyping {
		return
	}

	data, err := json.Marshal(&model.TypingIndicator{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
		At:             now,
	})
	if err != nil {
		return
	}
	if err := n.bus.Publish(typingSubject(conversationID), data); err != nil {
		n.logger.Warn("failed to publish typing event", zap.Error(err))
	}
}

// NotifyNewMessage publishes a message insertion event on the conversation's
// channel. Called by the write path after the store mutation succeeds.
func (n *Notifier) NotifyNewMessage(msg *model.Message) {
	if !n.available() {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := n.bus.Publish(messageSubject(msg.ConversationID), data); err != nil {
		n.logger.Warn("failed to publish message event",
			zap.String("conversation_id", msg.ConversationID),
			zap.Error(err))
	}
}

// NotifyConversationDeleted publishes one broadcast event on the global
// deletion channel and forgets typing state for the conversation.
func (n *Notifier) NotifyConversationDeleted(conversationID string) {
	prefix := conversationID + "|"
	n.mu.Lock()
	for key := range n.typing {
		if strings.HasPrefix(key, prefix) {
			delete(n.typing, key)
		}
	}
	n.mu.Unlock()

	if !n.available() {
		return
	}
	data, err := json.Marshal(&model.ConversationDeletedEvent{
		ConversationID: conversationID,
		At:             time.Now(),
	})
	if err != nil {
		return
	}
	if err := n.bus.Publish(deletionSubject, data); err != nil {
		n.logger.Warn("failed to publish deletion event",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
	}
}

// Disconnect unsubscribes everything.
func (n *Notifier) Disconnect() {
	n.mu.Lock()
	subs := make([]*Subscription, 0, len(n.subs))
	for _, s := range n.subs {
		subs = append(subs, s)
	}
	n.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
}

// Cleanup unsubscribes everything and forgets typing state.
func (n *Notifier) Cleanup() {
	n.Disconnect()
	n.mu.Lock()
	n.typing = make(map[string]bool)
	n.mu.Unlock()
}

// GetConnectionStatus reports the transport state and subscription count.
func (n *Notifier) GetConnectionStatus() ConnectionStatus {
	n.mu.Lock()
	active := len(n.subs)
	n.mu.Unlock()

	return ConnectionStatus{
		IsConnected:         n.available() && n.bus.IsConnected(),
		IsAvailable:         n.available(),
		ActiveSubscriptions: active,
	}
}
