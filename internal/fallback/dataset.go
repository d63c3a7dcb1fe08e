// Package fallback provides the in-memory seeded dataset that serves as the
// source of truth when the persistent backend is not configured. It
// implements the same store contract as the real backend so the chat service
// never branches on mode.
package fallback

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/supportdesk/chat-platform/internal/model"
	"github.com/supportdesk/chat-platform/internal/store"
)

// Synthetic identities used by the seeded dataset.
const (
	DemoUserID    = "demo-user-123"
	DemoUserName  = "Demo User"
	DemoAdminID   = "support-admin-1"
	DemoAdminName = "Support Team"
)

// cannedReplies is the fixed set of counterpart responses.
var cannedReplies = []string{
	"Thanks for reaching out! A member of our team is looking into this now.",
	"Got it, let me check that for you.",
	"Thanks for the details. We'll get back to you with an answer shortly.",
	"I understand. Let me see what I can do about that.",
	"That's a good question. Give me a moment to find out.",
}

// WriteHook is invoked after any message is appended, including scheduled
// auto-replies. The factory binds it to cache invalidation.
type WriteHook func(conversationID, senderID string)

// ReplyHook is invoked with messages the dataset authors itself, such as a
// scheduled counterpart reply landing outside any service call. The factory
// binds it to realtime fan-out; service-path inserts fan out from the
// service and must not fire it.
type ReplyHook func(msg *model.Message)

// Dataset is a mutable in-memory collection of conversations, messages and
// participants. One instance exists per process.
type Dataset struct {
	mu            sync.RWMutex
	conversations []*model.Conversation
	messages      map[string][]*model.Message    // conversation id -> ordered messages
	participants  map[string]map[string]*model.Participant
	profiles      map[string]*model.ActorProfile

	autoReplyDelay time.Duration
	writeHook      WriteHook
	replyHook      ReplyHook

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}
	closed   bool

	rng *rand.Rand
}

// New creates a seeded dataset. autoReplyDelay controls how long after a
// user-authored send the canned counterpart reply lands; zero disables
// auto-replies.
func New(autoReplyDelay time.Duration) *Dataset {
	d := &Dataset{
		messages:       make(map[string][]*model.Message),
		participants:   make(map[string]map[string]*model.Participant),
		profiles:       make(map[string]*model.ActorProfile),
		autoReplyDelay: autoReplyDelay,
		timers:         make(map[*time.Timer]struct{}),
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	d.seed()
	return d
}

// SetWriteHook registers the post-write callback. Must be set before the
// dataset starts serving traffic.
func (d *Dataset) SetWriteHook(hook WriteHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeHook = hook
}

// SetReplyHook registers the callback for dataset-authored messages. Must be
// set before the dataset starts serving traffic.
func (d *Dataset) SetReplyHook(hook ReplyHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replyHook = hook
}

// SetAutoReplyDelay overrides the counterpart reply delay. Test utility.
func (d *Dataset) SetAutoReplyDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autoReplyDelay = delay
}

func (d *Dataset) seed() {
	now := time.Now()

	d.profiles[DemoUserID] = &model.ActorProfile{UserID: DemoUserID, DisplayName: DemoUserName, Role: model.RoleUser}
	d.profiles[DemoAdminID] = &model.ActorProfile{UserID: DemoAdminID, DisplayName: DemoAdminName, Role: model.RoleAdmin}

	adminID := DemoAdminID
	seedConvs := []struct {
		id, title string
		opened    time.Duration
		messages  []struct {
			sender  string
			role    model.SenderRole
			content string
			offset  time.Duration
		}
	}{
		{
			id:     "conv-1",
			title:  "Question about my booking",
			opened: -2 * time.Hour,
			messages: []struct {
				sender  string
				role    model.SenderRole
				content string
				offset  time.Duration
			}{
				{DemoUserID, model.RoleUser, "Hi, I have a question about my recent booking.", 0},
				{DemoAdminID, model.RoleAdmin, "Of course! What would you like to know?", 5 * time.Minute},
			},
		},
		{
			id:     "conv-2",
			title:  "Payment issue",
			opened: -26 * time.Hour,
			messages: []struct {
				sender  string
				role    model.SenderRole
				content string
				offset  time.Duration
			}{
				{DemoUserID, model.RoleUser, "My card was charged twice, can you help?", 0},
				{DemoAdminID, model.RoleAdmin, "Sorry about that, we're issuing a refund for the duplicate charge.", 12 * time.Minute},
				{DemoUserID, model.RoleUser, "Great, thank you!", 20 * time.Minute},
			},
		},
	}

	for _, sc := range seedConvs {
		opened := now.Add(sc.opened)
		conv := &model.Conversation{
			ID:              sc.id,
			Title:           sc.title,
			UserID:          DemoUserID,
			AssignedAdminID: &adminID,
			Status:          model.ConversationActive,
			Priority:        model.PriorityNormal,
			CreatedAt:       opened,
			UpdatedAt:       opened,
			LastMessageAt:   opened,
		}
		d.conversations = append(d.conversations, conv)

		for _, sm := range sc.messages {
			senderID := sm.sender
			msg := &model.Message{
				ID:             uuid.Must(uuid.NewV7()).String(),
				ConversationID: sc.id,
				SenderID:       &senderID,
				SenderRole:     sm.role,
				Content:        sm.content,
				Type:           model.MessageTypeText,
				CreatedAt:      opened.Add(sm.offset),
			}
			d.messages[sc.id] = append(d.messages[sc.id], msg)
			if msg.CreatedAt.After(conv.LastMessageAt) {
				conv.LastMessageAt = msg.CreatedAt
			}
		}

		d.participants[sc.id] = map[string]*model.Participant{
			DemoUserID: {
				ConversationID: sc.id, UserID: DemoUserID, Role: model.RoleUser,
				JoinedAt: opened, LastReadAt: now, IsOnline: true,
				Notifications: model.NotificationPreferences{Email: true, Push: true, InApp: true},
			},
			DemoAdminID: {
				ConversationID: sc.id, UserID: DemoAdminID, Role: model.RoleAdmin,
				JoinedAt: opened, LastReadAt: now,
				Notifications: model.NotificationPreferences{Email: true, Push: true, InApp: true},
			},
		}
	}
}

// Reset restores the dataset to empty and cancels pending auto-replies.
// Test utility.
func (d *Dataset) Reset() {
	d.cancelTimers()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.conversations = nil
	d.messages = make(map[string][]*model.Message)
	d.participants = make(map[string]map[string]*model.Participant)
	d.profiles = make(map[string]*model.ActorProfile)
}

// Close cancels all pending auto-reply timers. Called on process shutdown.
func (d *Dataset) Close() {
	d.timersMu.Lock()
	d.closed = true
	d.timersMu.Unlock()
	d.cancelTimers()
}

func (d *Dataset) cancelTimers() {
	d.timersMu.Lock()
	defer d.timersMu.Unlock()
	for t := range d.timers {
		t.Stop()
	}
	d.timers = make(map[*time.Timer]struct{})
}

func (d *Dataset) notifyWrite(conversationID, senderID string) {
	if d.writeHook != nil {
		d.writeHook(conversationID, senderID)
	}
}

// appendMessage assumes d.mu is held.
func (d *Dataset) appendMessage(msg *model.Message) {
	d.messages[msg.ConversationID] = append(d.messages[msg.ConversationID], msg)
	for _, conv := range d.conversations {
		if conv.ID == msg.ConversationID {
			conv.LastMessageAt = msg.CreatedAt
			conv.UpdatedAt = msg.CreatedAt
			break
		}
	}
}

// CreateMessage appends a message authored by senderID, timestamped now.
func (d *Dataset) CreateMessage(conversationID, senderID, content string, msgType model.MessageType) *model.Message {
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	role := model.RoleUser
	d.mu.Lock()
	if p, ok := d.profiles[senderID]; ok {
		role = p.Role
	}
	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		SenderID:       &senderID,
		SenderRole:     role,
		Content:        content,
		Type:           msgType,
		CreatedAt:      time.Now(),
	}
	d.appendMessage(msg)
	hook := d.writeHook
	d.mu.Unlock()

	if hook != nil {
		hook(conversationID, senderID)
	}
	return msg
}

// SimulateCounterpartResponse appends a canned reply authored by the
// synthetic admin and returns it.
func (d *Dataset) SimulateCounterpartResponse(conversationID string) *model.Message {
	d.mu.Lock()
	reply := cannedReplies[d.rng.Intn(len(cannedReplies))]
	adminID := DemoAdminID
	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		SenderID:       &adminID,
		SenderRole:     model.RoleAdmin,
		Content:        reply,
		Type:           model.MessageTypeText,
		CreatedAt:      time.Now(),
	}
	d.appendMessage(msg)
	hook := d.writeHook
	replyHook := d.replyHook
	d.mu.Unlock()

	if hook != nil {
		hook(conversationID, DemoAdminID)
	}
	if replyHook != nil {
		out := *msg
		replyHook(&out)
	}
	return msg
}

// scheduleAutoReply arranges one counterpart response after the configured
// delay. Fire-and-forget; cancellable only via Close.
func (d *Dataset) scheduleAutoReply(conversationID string) {
	d.mu.RLock()
	delay := d.autoReplyDelay
	d.mu.RUnlock()
	if delay <= 0 {
		return
	}

	d.timersMu.Lock()
	if d.closed {
		d.timersMu.Unlock()
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		d.timersMu.Lock()
		delete(d.timers, timer)
		d.timersMu.Unlock()
		d.SimulateCounterpartResponse(conversationID)
	})
	d.timers[timer] = struct{}{}
	d.timersMu.Unlock()
}

// CreateConversation prepends a new active conversation with one seed
// message authored by userID.
func (d *Dataset) CreateConversation(title, userID, seedContent string) *model.Conversation {
	now := time.Now()
	adminID := DemoAdminID
	conv := &model.Conversation{
		ID:              uuid.Must(uuid.NewV7()).String(),
		Title:           title,
		UserID:          userID,
		AssignedAdminID: &adminID,
		Status:          model.ConversationActive,
		Priority:        model.PriorityNormal,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastMessageAt:   now,
	}

	d.mu.Lock()
	d.conversations = append([]*model.Conversation{conv}, d.conversations...)
	d.mu.Unlock()

	d.CreateMessage(conv.ID, userID, seedContent, model.MessageTypeText)

	d.mu.RLock()
	out := *conv
	d.mu.RUnlock()
	return &out
}

// ListMessages returns all messages of a conversation in creation order.
func (d *Dataset) ListMessages(conversationID string) []model.Message {
	msgs, _ := d.QueryMessages(context.Background(), conversationID, 0, 0)
	return msgs
}

// ListConversationsFor returns conversations, filtered by owner when userID
// is non-empty.
func (d *Dataset) ListConversationsFor(userID string) []model.Conversation {
	convs, _ := d.ListConversations(context.Background(), store.ConversationQuery{UserID: userID})
	return convs
}

// CannedReplies returns the fixed canned reply set. Test utility.
func CannedReplies() []string {
	out := make([]string, len(cannedReplies))
	copy(out, cannedReplies)
	return out
}

// --- store.MessageStore ---

// InsertMessage appends msg and schedules a counterpart auto-reply when the
// sender is user-authored.
func (d *Dataset) InsertMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	stored := *msg
	stored.CreatedAt = time.Now()

	d.mu.Lock()
	d.appendMessage(&stored)
	hook := d.writeHook
	d.mu.Unlock()

	senderID := ""
	if stored.SenderID != nil {
		senderID = *stored.SenderID
	}
	if hook != nil {
		hook(stored.ConversationID, senderID)
	}
	if stored.SenderRole == model.RoleUser || stored.SenderRole == model.RoleClient {
		d.scheduleAutoReply(stored.ConversationID)
	}
	return &stored, nil
}

// QueryMessages returns messages ordered by creation time ascending.
func (d *Dataset) QueryMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	msgs := d.messages[conversationID]
	sorted := make([]*model.Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	if offset > len(sorted) {
		offset = len(sorted)
	}
	end := len(sorted)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	out := make([]model.Message, 0, end-offset)
	for _, m := range sorted[offset:end] {
		out = append(out, *m)
	}
	return out, nil
}

// GetConversation returns (nil, nil) when absent.
func (d *Dataset) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, conv := range d.conversations {
		if conv.ID == id {
			c := *conv
			return &c, nil
		}
	}
	return nil, nil
}

// InsertConversation prepends a new conversation.
func (d *Dataset) InsertConversation(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	stored := *conv
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.LastMessageAt = now

	d.mu.Lock()
	d.conversations = append([]*model.Conversation{&stored}, d.conversations...)
	d.mu.Unlock()

	out := stored
	return &out, nil
}

// UpdateConversation applies the non-nil fields of upd.
func (d *Dataset) UpdateConversation(ctx context.Context, id string, upd store.ConversationUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, conv := range d.conversations {
		if conv.ID != id {
			continue
		}
		if upd.Status != nil {
			conv.Status = *upd.Status
		}
		if upd.AssignedAdminID != nil {
			conv.AssignedAdminID = upd.AssignedAdminID
		}
		if upd.LastMessageAt != nil {
			conv.LastMessageAt = *upd.LastMessageAt
		}
		if upd.UpdatedAt != nil {
			conv.UpdatedAt = *upd.UpdatedAt
		} else {
			conv.UpdatedAt = time.Now()
		}
		return nil
	}
	return nil
}

// ListConversations filters and orders by most recent activity descending.
func (d *Dataset) ListConversations(ctx context.Context, q store.ConversationQuery) ([]model.Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []model.Conversation
	for _, conv := range d.conversations {
		if q.UserID != "" && conv.UserID != q.UserID {
			continue
		}
		if q.Status != "" && conv.Status != q.Status {
			continue
		}
		if q.Priority != "" && conv.Priority != q.Priority {
			continue
		}
		c := *conv
		if q.ViewerID != "" {
			c.UnreadCount = d.unreadLocked(conv.ID, q.ViewerID)
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

// unreadLocked assumes d.mu is held (read or write).
func (d *Dataset) unreadLocked(conversationID, viewerID string) int {
	lastRead := time.Time{}
	if parts, ok := d.participants[conversationID]; ok {
		if p, ok := parts[viewerID]; ok {
			lastRead = p.LastReadAt
		}
	}
	count := 0
	for _, m := range d.messages[conversationID] {
		if m.SenderID != nil && *m.SenderID == viewerID {
			continue
		}
		if m.CreatedAt.After(lastRead) {
			count++
		}
	}
	return count
}

// DeleteConversation removes the conversation row only.
func (d *Dataset) DeleteConversation(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, conv := range d.conversations {
		if conv.ID == id {
			d.conversations = append(d.conversations[:i], d.conversations[i+1:]...)
			return nil
		}
	}
	return nil
}

// DeleteMessages removes all messages of a conversation.
func (d *Dataset) DeleteMessages(ctx context.Context, conversationID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.messages, conversationID)
	return nil
}

// DeleteParticipants removes all participant rows of a conversation.
func (d *Dataset) DeleteParticipants(ctx context.Context, conversationID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.participants, conversationID)
	return nil
}

// UpsertParticipant inserts or refreshes the (conversation, user) row.
func (d *Dataset) UpsertParticipant(ctx context.Context, p *model.Participant) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	parts, ok := d.participants[p.ConversationID]
	if !ok {
		parts = make(map[string]*model.Participant)
		d.participants[p.ConversationID] = parts
	}
	if existing, ok := parts[p.UserID]; ok {
		existing.Role = p.Role
		existing.IsOnline = p.IsOnline
		existing.Notifications = p.Notifications
		return nil
	}
	stored := *p
	if stored.JoinedAt.IsZero() {
		stored.JoinedAt = time.Now()
	}
	if stored.LastReadAt.IsZero() {
		stored.LastReadAt = stored.JoinedAt
	}
	parts[p.UserID] = &stored
	return nil
}

// UpdateParticipantLastRead advances the participant's last-read mark.
func (d *Dataset) UpdateParticipantLastRead(ctx context.Context, conversationID, userID string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if parts, ok := d.participants[conversationID]; ok {
		if p, ok := parts[userID]; ok {
			p.LastReadAt = at
		}
	}
	return nil
}

// SetParticipantTyping writes the typing flag and its timestamp.
func (d *Dataset) SetParticipantTyping(ctx context.Context, conversationID, userID string, typing bool, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if parts, ok := d.participants[conversationID]; ok {
		if p, ok := parts[userID]; ok {
			p.IsTyping = typing
			if typing {
				p.TypingSince = &at
			} else {
				p.TypingSince = nil
			}
		}
	}
	return nil
}

// ListParticipants returns all participant rows of a conversation.
func (d *Dataset) ListParticipants(ctx context.Context, conversationID string) ([]model.Participant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []model.Participant
	for _, p := range d.participants[conversationID] {
		out = append(out, *p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

// GetActorProfile resolves a synthetic profile; unknown actors default to
// role "user" with no display name.
func (d *Dataset) GetActorProfile(ctx context.Context, userID string) (*model.ActorProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p, ok := d.profiles[userID]; ok {
		out := *p
		return &out, nil
	}
	return &model.ActorProfile{UserID: userID, Role: model.RoleUser}, nil
}

// Stats aggregates over the in-memory collections.
func (d *Dataset) Stats(ctx context.Context) (*model.ChatStats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := &model.ChatStats{
		ConversationsByStatus: make(map[string]int),
		ConversationsByPrio:   make(map[string]int),
	}
	var totalDelay time.Duration
	var replied int

	for _, conv := range d.conversations {
		stats.TotalConversations++
		stats.ConversationsByStatus[string(conv.Status)]++
		stats.ConversationsByPrio[string(conv.Priority)]++

		for _, m := range d.messages[conv.ID] {
			if m.SenderRole == model.RoleAdmin || m.SenderRole == model.RoleModerator || m.SenderRole == model.RoleSupport {
				totalDelay += m.CreatedAt.Sub(conv.CreatedAt)
				replied++
				break
			}
		}
	}
	for _, msgs := range d.messages {
		stats.TotalMessages += len(msgs)
	}
	if replied > 0 {
		stats.AvgResponseSeconds = totalDelay.Seconds() / float64(replied)
	}
	return stats, nil
}

var _ store.MessageStore = (*Dataset)(nil)
