package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/supportdesk/chat-platform/internal/model"
	"github.com/supportdesk/chat-platform/pkg/logger"
)

func setupNotifier(t *testing.T) *Notifier {
	t.Helper()
	n := New(NewMemoryBus(), true, nil, logger.NewNop())
	t.Cleanup(n.Cleanup)
	return n
}

func TestMessageFanOut(t *testing.T) {
	n := setupNotifier(t)

	var got []*model.Message
	sub, err := n.SubscribeToMessages("conv-1", MessageCallbacks{
		OnNewMessage: func(msg *model.Message) { got = append(got, msg) },
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	n.NotifyNewMessage(&model.Message{ID: "m1", ConversationID: "conv-1", Content: "hi"})
	n.NotifyNewMessage(&model.Message{ID: "m2", ConversationID: "conv-2", Content: "other"})

	if len(got) != 1 {
		t.Fatalf("expected 1 delivered message, got %d", len(got))
	}
	if got[0].ID != "m1" || got[0].Content != "hi" {
		t.Fatalf("unexpected message %+v", got[0])
	}
}

func TestTypingEdgeTriggered(t *testing.T) {
	n := setupNotifier(t)
	ctx := context.Background()

	var starts, stops int
	sub, err := n.SubscribeToTyping("conv-1", TypingCallbacks{
		OnTypingStart: func(*model.TypingIndicator) { starts++ },
		OnTypingStop:  func(*model.TypingIndicator) { stops++ },
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	n.UpdateTypingIndicator(ctx, "conv-1", "u1", true)
	n.UpdateTypingIndicator(ctx, "conv-1", "u1", true) // no transition
	n.UpdateTypingIndicator(ctx, "conv-1", "u1", true) // no transition
	n.UpdateTypingIndicator(ctx, "conv-1", "u1", false)
	n.UpdateTypingIndicator(ctx, "conv-1", "u1", false) // no transition

	if starts != 1 {
		t.Fatalf("expected exactly 1 start event, got %d", starts)
	}
	if stops != 1 {
		t.Fatalf("expected exactly 1 stop event, got %d", stops)
	}
}

func TestTypingInitialFalseIsSilent(t *testing.T) {
	n := setupNotifier(t)

	var events int
	sub, _ := n.SubscribeToTyping("conv-1", TypingCallbacks{
		OnTypingStart: func(*model.TypingIndicator) { events++ },
		OnTypingStop:  func(*model.TypingIndicator) { events++ },
	})
	defer sub.Unsubscribe()

	n.UpdateTypingIndicator(context.Background(), "conv-1", "u1", false)
	if events != 0 {
		t.Fatalf("initial not-typing state must not fire, got %d events", events)
	}
}

func TestTypingFlagPersisted(t *testing.T) {
	pw := &recordingWriter{}
	n := New(NewMemoryBus(), true, pw, logger.NewNop())
	t.Cleanup(n.Cleanup)

	n.UpdateTypingIndicator(context.Background(), "conv-1", "u1", true)
	if len(pw.calls) != 1 {
		t.Fatalf("expected typing flag write, got %d calls", len(pw.calls))
	}
	if !pw.calls[0].typing {
		t.Fatal("expected typing=true to be persisted")
	}
}

type typingCall struct {
	conversationID, userID string
	typing                 bool
}

type recordingWriter struct {
	mu    sync.Mutex
	calls []typingCall
}

func (w *recordingWriter) SetParticipantTyping(ctx context.Context, conversationID, userID string, typing bool, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, typingCall{conversationID, userID, typing})
	return nil
}

func TestDeletionBroadcastGlobal(t *testing.T) {
	n := setupNotifier(t)

	var got []string
	sub, err := n.SubscribeToConversationDeletion(DeletionCallbacks{
		OnConversationDeleted: func(ev *model.ConversationDeletedEvent) {
			got = append(got, ev.ConversationID)
		},
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	n.NotifyConversationDeleted("conv-1")
	n.NotifyConversationDeleted("conv-2")

	if len(got) != 2 {
		t.Fatalf("global channel should see every deletion, got %d", len(got))
	}
}

func TestDeletionForgetsTypingState(t *testing.T) {
	n := setupNotifier(t)
	ctx := context.Background()

	starts := make(map[string]int)
	for _, id := range []string{"conv-1", "conv-2"} {
		conversationID := id
		sub, err := n.SubscribeToTyping(conversationID, TypingCallbacks{
			OnTypingStart: func(*model.TypingIndicator) { starts[conversationID]++ },
		})
		if err != nil {
			t.Fatalf("subscribe %s: %v", conversationID, err)
		}
		defer sub.Unsubscribe()
	}

	n.UpdateTypingIndicator(ctx, "conv-1", "u1", true)
	n.UpdateTypingIndicator(ctx, "conv-2", "u1", true)
	n.NotifyConversationDeleted("conv-1")

	// The deleted conversation's last-published state is gone, so a fresh
	// typing start on a reused id is a transition again. Other conversations
	// keep their state.
	n.UpdateTypingIndicator(ctx, "conv-1", "u1", true)
	n.UpdateTypingIndicator(ctx, "conv-2", "u1", true)

	if starts["conv-1"] != 2 {
		t.Fatalf("expected a new start event after deletion, got %d", starts["conv-1"])
	}
	if starts["conv-2"] != 1 {
		t.Fatalf("unrelated conversation state must survive the deletion, got %d starts", starts["conv-2"])
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	n := setupNotifier(t)

	sub, _ := n.SubscribeToMessages("conv-1", MessageCallbacks{})
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("first unsubscribe: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second unsubscribe must be a no-op: %v", err)
	}
	if status := n.GetConnectionStatus(); status.ActiveSubscriptions != 0 {
		t.Fatalf("expected 0 active subscriptions, got %d", status.ActiveSubscriptions)
	}
}

func TestUnsubscribeFromCallback(t *testing.T) {
	n := setupNotifier(t)

	var sub *Subscription
	var delivered int
	sub, _ = n.SubscribeToMessages("conv-1", MessageCallbacks{
		OnNewMessage: func(*model.Message) {
			delivered++
			sub.Unsubscribe()
		},
	})

	n.NotifyNewMessage(&model.Message{ID: "m1", ConversationID: "conv-1"})
	n.NotifyNewMessage(&model.Message{ID: "m2", ConversationID: "conv-1"})

	if delivered != 1 {
		t.Fatalf("expected delivery to stop after in-callback unsubscribe, got %d", delivered)
	}
}

func TestDisabledNotifierNoOps(t *testing.T) {
	n := New(nil, false, nil, logger.NewNop())

	sub, err := n.SubscribeToMessages("conv-1", MessageCallbacks{
		OnNewMessage: func(*model.Message) { t.Fatal("disabled notifier must not deliver") },
	})
	if err != nil {
		t.Fatalf("disabled subscribe must succeed with an empty handle: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("empty subscription must be disposable: %v", err)
	}

	// All side-effecting methods are silent no-ops.
	n.NotifyNewMessage(&model.Message{ID: "m1", ConversationID: "conv-1"})
	n.NotifyConversationDeleted("conv-1")
	n.UpdateTypingIndicator(context.Background(), "conv-1", "u1", true)

	status := n.GetConnectionStatus()
	if status.IsAvailable || status.IsConnected {
		t.Fatalf("disabled notifier reported available: %+v", status)
	}
}

func TestDisconnectDropsAllSubscriptions(t *testing.T) {
	n := setupNotifier(t)

	n.SubscribeToMessages("conv-1", MessageCallbacks{})
	n.SubscribeToTyping("conv-1", TypingCallbacks{})
	n.SubscribeToConversationDeletion(DeletionCallbacks{})

	if status := n.GetConnectionStatus(); status.ActiveSubscriptions != 3 {
		t.Fatalf("expected 3 active subscriptions, got %d", status.ActiveSubscriptions)
	}

	n.Disconnect()
	if status := n.GetConnectionStatus(); status.ActiveSubscriptions != 0 {
		t.Fatalf("expected 0 active subscriptions after disconnect, got %d", status.ActiveSubscriptions)
	}
}
