package fallback

import (
	"context"
	"testing"
	"time"

	"github.com/supportdesk/chat-platform/internal/model"
	"github.com/supportdesk/chat-platform/internal/store"
)

func setupDataset(t *testing.T) *Dataset {
	t.Helper()
	d := New(0)
	t.Cleanup(d.Close)
	return d
}

func TestSeededConversations(t *testing.T) {
	d := setupDataset(t)

	convs := d.ListConversationsFor(DemoUserID)
	if len(convs) != 2 {
		t.Fatalf("expected 2 seeded conversations, got %d", len(convs))
	}
	for _, c := range convs {
		if c.Status != model.ConversationActive {
			t.Errorf("seeded conversation %s not active", c.ID)
		}
		if msgs := d.ListMessages(c.ID); len(msgs) == 0 {
			t.Errorf("seeded conversation %s has no messages", c.ID)
		}
	}

	if convs := d.ListConversationsFor("someone-else"); len(convs) != 0 {
		t.Fatalf("expected no conversations for unknown owner, got %d", len(convs))
	}
}

func TestCreateMessageAppends(t *testing.T) {
	d := setupDataset(t)

	before := len(d.ListMessages("conv-1"))
	msg := d.CreateMessage("conv-1", DemoUserID, "hello there", model.MessageTypeText)

	if msg.Content != "hello there" {
		t.Fatalf("unexpected content %q", msg.Content)
	}
	if msg.SenderRole != model.RoleUser {
		t.Fatalf("expected user role, got %s", msg.SenderRole)
	}
	msgs := d.ListMessages("conv-1")
	if len(msgs) != before+1 {
		t.Fatalf("expected %d messages, got %d", before+1, len(msgs))
	}
	if last := msgs[len(msgs)-1]; last.ID != msg.ID {
		t.Fatal("new message should be last in creation order")
	}
}

func TestCreateConversationPrepends(t *testing.T) {
	d := setupDataset(t)

	conv := d.CreateConversation("New issue", DemoUserID, "something broke")
	convs := d.ListConversationsFor(DemoUserID)
	if convs[0].ID != conv.ID {
		t.Fatal("new conversation should list first")
	}
	msgs := d.ListMessages(conv.ID)
	if len(msgs) != 1 || msgs[0].Content != "something broke" {
		t.Fatalf("expected single seed message, got %v", msgs)
	}
}

func TestSimulateCounterpartResponse(t *testing.T) {
	d := setupDataset(t)

	msg := d.SimulateCounterpartResponse("conv-1")
	if msg.SenderID == nil || *msg.SenderID != DemoAdminID {
		t.Fatal("canned reply must be authored by the synthetic admin")
	}
	found := false
	for _, reply := range CannedReplies() {
		if msg.Content == reply {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("reply %q not in the canned set", msg.Content)
	}
}

func TestAutoReplyScheduledOnUserSend(t *testing.T) {
	d := New(20 * time.Millisecond)
	t.Cleanup(d.Close)

	senderID := DemoUserID
	_, err := d.InsertMessage(context.Background(), &model.Message{
		ConversationID: "conv-1",
		SenderID:       &senderID,
		SenderRole:     model.RoleUser,
		Content:        "are you there?",
		Type:           model.MessageTypeText,
	})
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	before := len(d.ListMessages("conv-1"))
	time.Sleep(100 * time.Millisecond)
	msgs := d.ListMessages("conv-1")
	if len(msgs) != before+1 {
		t.Fatalf("expected auto-reply to land, before=%d after=%d", before, len(msgs))
	}
	last := msgs[len(msgs)-1]
	if last.SenderRole != model.RoleAdmin {
		t.Fatalf("auto-reply should be admin-authored, got %s", last.SenderRole)
	}
}

func TestNoAutoReplyForAdminSend(t *testing.T) {
	d := New(10 * time.Millisecond)
	t.Cleanup(d.Close)

	adminID := DemoAdminID
	d.InsertMessage(context.Background(), &model.Message{
		ConversationID: "conv-1",
		SenderID:       &adminID,
		SenderRole:     model.RoleAdmin,
		Content:        "checking in",
		Type:           model.MessageTypeText,
	})

	before := len(d.ListMessages("conv-1"))
	time.Sleep(60 * time.Millisecond)
	if after := len(d.ListMessages("conv-1")); after != before {
		t.Fatalf("admin send must not trigger an auto-reply, before=%d after=%d", before, after)
	}
}

func TestCloseCancelsPendingReplies(t *testing.T) {
	d := New(30 * time.Millisecond)

	senderID := DemoUserID
	d.InsertMessage(context.Background(), &model.Message{
		ConversationID: "conv-1",
		SenderID:       &senderID,
		SenderRole:     model.RoleUser,
		Content:        "hello?",
		Type:           model.MessageTypeText,
	})
	before := len(d.ListMessages("conv-1"))
	d.Close()

	time.Sleep(80 * time.Millisecond)
	if after := len(d.ListMessages("conv-1")); after != before {
		t.Fatalf("pending auto-reply should be cancelled on close, before=%d after=%d", before, after)
	}
}

func TestWriteHookFires(t *testing.T) {
	d := setupDataset(t)

	var gotConv, gotSender string
	d.SetWriteHook(func(conversationID, senderID string) {
		gotConv = conversationID
		gotSender = senderID
	})

	d.CreateMessage("conv-1", DemoUserID, "ping", model.MessageTypeText)
	if gotConv != "conv-1" || gotSender != DemoUserID {
		t.Fatalf("write hook saw (%q, %q)", gotConv, gotSender)
	}
}

func TestReplyHookCarriesCounterpartMessage(t *testing.T) {
	d := setupDataset(t)

	var got []*model.Message
	d.SetReplyHook(func(msg *model.Message) {
		got = append(got, msg)
	})

	// Service-path and convenience writes never fire the reply hook.
	d.CreateMessage("conv-1", DemoUserID, "hello", model.MessageTypeText)
	if len(got) != 0 {
		t.Fatalf("user send must not fire the reply hook, got %d", len(got))
	}

	reply := d.SimulateCounterpartResponse("conv-1")
	if len(got) != 1 {
		t.Fatalf("expected 1 reply hook invocation, got %d", len(got))
	}
	if got[0].ID != reply.ID || got[0].ConversationID != "conv-1" {
		t.Fatalf("reply hook saw %+v, want the counterpart reply", got[0])
	}
	if got[0].SenderRole != model.RoleAdmin {
		t.Fatalf("reply hook message should be admin-authored, got %s", got[0].SenderRole)
	}
}

func TestCreateConversationWithConcurrentWrites(t *testing.T) {
	d := setupDataset(t)

	// Replies land on the new conversation while CreateConversation is still
	// returning; the returned copy must be taken consistently.
	ids := make(chan string, 128)
	d.SetWriteHook(func(conversationID, senderID string) {
		if senderID == DemoUserID {
			select {
			case ids <- conversationID:
			default:
			}
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for id := range ids {
			d.SimulateCounterpartResponse(id)
		}
	}()

	for i := 0; i < 50; i++ {
		conv := d.CreateConversation("Load check", DemoUserID, "opening message")
		if conv.ID == "" || conv.Status != model.ConversationActive {
			t.Fatalf("inconsistent conversation copy: %+v", conv)
		}
	}

	close(ids)
	<-done
}

func TestUnreadCounts(t *testing.T) {
	d := setupDataset(t)

	d.UpdateParticipantLastRead(context.Background(), "conv-1", DemoUserID, time.Now())
	d.SimulateCounterpartResponse("conv-1")
	d.SimulateCounterpartResponse("conv-1")

	convs, err := d.ListConversations(context.Background(), store.ConversationQuery{
		UserID:   DemoUserID,
		ViewerID: DemoUserID,
	})
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	for _, c := range convs {
		if c.ID == "conv-1" && c.UnreadCount != 2 {
			t.Fatalf("expected 2 unread admin messages, got %d", c.UnreadCount)
		}
	}
}

func TestReset(t *testing.T) {
	d := setupDataset(t)

	d.Reset()
	if convs := d.ListConversationsFor(""); len(convs) != 0 {
		t.Fatalf("expected empty dataset after reset, got %d conversations", len(convs))
	}
}

func TestDeleteStepsIndependent(t *testing.T) {
	d := setupDataset(t)
	ctx := context.Background()

	if err := d.DeleteMessages(ctx, "conv-1"); err != nil {
		t.Fatalf("DeleteMessages: %v", err)
	}
	if err := d.DeleteParticipants(ctx, "conv-1"); err != nil {
		t.Fatalf("DeleteParticipants: %v", err)
	}
	if err := d.DeleteConversation(ctx, "conv-1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}

	conv, err := d.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv != nil {
		t.Fatal("conversation should be gone after the third delete step")
	}
	if msgs := d.ListMessages("conv-1"); len(msgs) != 0 {
		t.Fatal("messages should be gone")
	}
}
