package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/supportdesk/chat-platform/internal/config"
	"github.com/supportdesk/chat-platform/internal/fallback"
	"github.com/supportdesk/chat-platform/internal/model"
	"github.com/supportdesk/chat-platform/internal/realtime"
	"github.com/supportdesk/chat-platform/pkg/logger"
)

func buildRuntime(t *testing.T, profile Profile) *Runtime {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("NATS_URL", "")

	f := NewFactory(config.Load(), logger.NewNop())
	rt, err := f.Build(context.Background(), profile)
	if err != nil {
		t.Fatalf("Build(%s): %v", profile, err)
	}
	t.Cleanup(rt.Close)
	return rt
}

func TestSettingsForPresets(t *testing.T) {
	dev, err := SettingsFor(ProfileDevelopment)
	if err != nil {
		t.Fatalf("development: %v", err)
	}
	prod, err := SettingsFor(ProfileProduction)
	if err != nil {
		t.Fatalf("production: %v", err)
	}
	tst, err := SettingsFor(ProfileTesting)
	if err != nil {
		t.Fatalf("testing: %v", err)
	}

	if dev.ForceFallback {
		t.Error("development must honor backend availability")
	}
	if prod.ForceFallback {
		t.Error("production must not force the fallback dataset")
	}
	if !tst.ForceFallback {
		t.Error("testing must force the fallback dataset")
	}
	if tst.AutoReplyDelay <= 0 || tst.AutoReplyDelay > 100*time.Millisecond {
		t.Errorf("testing auto-reply delay out of range: %v", tst.AutoReplyDelay)
	}
	if prod.CacheDefaultTTL <= dev.CacheDefaultTTL {
		t.Error("production caches should outlive development caches")
	}

	if _, err := SettingsFor(Profile("staging")); err == nil {
		t.Error("unknown profile must be rejected")
	}
}

func TestBuildTestingProfileGraph(t *testing.T) {
	rt := buildRuntime(t, ProfileTesting)

	if rt.Chat == nil || rt.Cache == nil || rt.Notifier == nil || rt.Store == nil {
		t.Fatal("runtime graph incomplete")
	}
	if rt.Fallback == nil {
		t.Fatal("testing profile must run on the fallback dataset")
	}

	// The in-process hub backs realtime delivery for fallback graphs.
	status := rt.Notifier.GetConnectionStatus()
	if !status.IsAvailable || !status.IsConnected {
		t.Errorf("expected available in-process realtime, got %+v", status)
	}
}

func TestBuildWithoutBackendFallsBack(t *testing.T) {
	rt := buildRuntime(t, ProfileProduction)

	// No DATABASE_URL means production degrades onto the seeded dataset.
	if rt.Fallback == nil {
		t.Fatal("expected fallback dataset when no backend is configured")
	}
	convs, err := rt.Chat.GetUserConversations(context.Background(), fallback.DemoUserID)
	if err != nil {
		t.Fatalf("GetUserConversations: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 seeded conversations, got %d", len(convs))
	}
}

// A full round trip on the testing-profile graph: open a conversation, send,
// wait for the counterpart's canned reply, and see it through a cached read.
func TestFallbackRoundTrip(t *testing.T) {
	rt := buildRuntime(t, ProfileTesting)
	ctx := context.Background()

	conv, err := rt.Chat.CreateConversation(ctx, &model.CreateConversationRequest{
		Title:          "Refund request",
		InitialMessage: "I was charged twice",
	}, "customer-42", false)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	if _, err := rt.Chat.SendMessage(ctx, &model.SendMessageRequest{
		ConversationID: conv.ID,
		Content:        "Any news?",
	}, "customer-42"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// The dataset's write hook drops the cached message pages when the
	// counterpart reply lands, so a plain read observes it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs, err := rt.Chat.GetConversationMessages(ctx, conv.ID, 0, 0)
		if err != nil {
			t.Fatalf("GetConversationMessages: %v", err)
		}
		if last := msgs[len(msgs)-1]; last.SenderRole == model.RoleAdmin {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no counterpart reply observed within deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Live subscribers of a fallback conversation must see the counterpart's
// canned reply as an insertion event, not just the user's own send.
func TestFallbackAutoReplyReachesSubscribers(t *testing.T) {
	rt := buildRuntime(t, ProfileTesting)
	ctx := context.Background()

	conv, err := rt.Chat.CreateConversation(ctx, &model.CreateConversationRequest{
		Title:          "Login trouble",
		InitialMessage: "I cannot sign in",
	}, "customer-7", false)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	var mu sync.Mutex
	var got []*model.Message
	sub, err := rt.Notifier.SubscribeToMessages(conv.ID, realtime.MessageCallbacks{
		OnNewMessage: func(msg *model.Message) {
			mu.Lock()
			got = append(got, msg)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if _, err := rt.Chat.SendMessage(ctx, &model.SendMessageRequest{
		ConversationID: conv.ID,
		Content:        "Still locked out",
	}, "customer-7"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscriber saw %d message events, want 2", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0].SenderRole != model.RoleUser || got[0].Content != "Still locked out" {
		t.Fatalf("first event should be the user's send, got %+v", got[0])
	}
	if got[1].SenderRole != model.RoleAdmin {
		t.Fatalf("second event should be the counterpart reply, got %+v", got[1])
	}
}

func TestRuntimeCloseIdempotent(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("NATS_URL", "")

	f := NewFactory(config.Load(), logger.NewNop())
	rt, err := f.Build(context.Background(), ProfileTesting)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	rt.Close()
	rt.Close()
}
