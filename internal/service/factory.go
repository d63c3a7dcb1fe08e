package service

import (
	"context"
	"fmt"
	"time"

	"github.com/supportdesk/chat-platform/internal/cache"
	"github.com/supportdesk/chat-platform/internal/config"
	"github.com/supportdesk/chat-platform/internal/fallback"
	"github.com/supportdesk/chat-platform/internal/model"
	natsclient "github.com/supportdesk/chat-platform/internal/nats"
	"github.com/supportdesk/chat-platform/internal/realtime"
	"github.com/supportdesk/chat-platform/internal/store"
	"github.com/supportdesk/chat-platform/pkg/logger"
)

// Profile names a construction preset. Selecting a profile is the only
// supported way to build the chat service graph.
type Profile string

const (
	ProfileDevelopment Profile = "development"
	ProfileProduction  Profile = "production"
	ProfileTesting     Profile = "testing"
)

// ProfileSettings tunes what a profile builds.
type ProfileSettings struct {
	CacheDefaultTTL      time.Duration
	MessageCacheTTL      time.Duration
	ConversationCacheTTL time.Duration
	StatsCacheTTL        time.Duration
	RealtimeEnabled      bool
	// ForceFallback routes all traffic to the in-memory dataset regardless
	// of backend availability.
	ForceFallback  bool
	AutoReplyDelay time.Duration
}

// SettingsFor returns the preset for a profile.
func SettingsFor(p Profile) (ProfileSettings, error) {
	switch p {
	case ProfileDevelopment:
		return ProfileSettings{
			CacheDefaultTTL:      30 * time.Second,
			MessageCacheTTL:      10 * time.Second,
			ConversationCacheTTL: 15 * time.Second,
			StatsCacheTTL:        2 * time.Minute,
			RealtimeEnabled:      true,
			AutoReplyDelay:       2 * time.Second,
		}, nil
	case ProfileProduction:
		return ProfileSettings{
			CacheDefaultTTL:      time.Minute,
			MessageCacheTTL:      15 * time.Second,
			ConversationCacheTTL: 30 * time.Second,
			StatsCacheTTL:        5 * time.Minute,
			RealtimeEnabled:      true,
			AutoReplyDelay:       2 * time.Second,
		}, nil
	case ProfileTesting:
		return ProfileSettings{
			CacheDefaultTTL:      time.Minute,
			MessageCacheTTL:      time.Minute,
			ConversationCacheTTL: time.Minute,
			StatsCacheTTL:        time.Minute,
			RealtimeEnabled:      true,
			ForceFallback:        true,
			AutoReplyDelay:       20 * time.Millisecond,
		}, nil
	default:
		return ProfileSettings{}, fmt.Errorf("unknown profile %q", p)
	}
}

// Runtime is the fully wired chat service graph. The cache and the fallback
// dataset are process-wide singletons owned here.
type Runtime struct {
	Chat     *ChatService
	Cache    *cache.Cache
	Notifier *realtime.Notifier
	Store    store.MessageStore

	// Fallback is non-nil when the dataset serves as the source of truth.
	Fallback *fallback.Dataset

	closers []func()
}

// Close tears the graph down: unsubscribes realtime, cancels pending
// auto-replies, closes transports and the store.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// Factory constructs chat service graphs. Invoke Build once per process
// lifetime per profile.
type Factory struct {
	cfg    *config.Config
	logger *logger.Logger
}

// NewFactory creates a factory over the loaded configuration.
func NewFactory(cfg *config.Config, log *logger.Logger) *Factory {
	return &Factory{cfg: cfg, logger: log}
}

// Build wires a chat service under the named profile. Mode selection happens
// here and only here: the service itself never branches on live-vs-fallback.
func (f *Factory) Build(ctx context.Context, profile Profile) (*Runtime, error) {
	settings, err := SettingsFor(profile)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{}
	rt.Cache = cache.New(settings.CacheDefaultTTL)

	useFallback := settings.ForceFallback || f.cfg.ShouldUseFallbackData()
	if useFallback {
		ds := fallback.New(settings.AutoReplyDelay)
		// Auto-replies land outside any service call; the hook keeps cached
		// pages from masking them.
		ds.SetWriteHook(func(conversationID, senderID string) {
			rt.Cache.InvalidatePattern(messagesPattern(conversationID))
			if senderID != "" {
				rt.Cache.Delete(userConversationsKey(senderID))
			}
		})
		// Counterpart replies never pass through the service write path, so
		// live subscribers get their insertion events from here.
		ds.SetReplyHook(func(msg *model.Message) {
			rt.Notifier.NotifyNewMessage(msg)
		})
		rt.Fallback = ds
		rt.Store = ds
		rt.closers = append(rt.closers, ds.Close)
		f.logger.Info("chat service running on fallback dataset")
	} else {
		pg, err := store.Open(ctx, f.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open message store: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		rt.Store = pg
		rt.closers = append(rt.closers, func() { pg.Close() })
	}

	rt.Notifier = f.buildNotifier(rt, settings, useFallback, rt.Store)
	rt.closers = append(rt.closers, rt.Notifier.Cleanup)

	rt.Chat = NewChatService(rt.Store, rt.Cache, rt.Notifier, f.cfg, Options{
		MessageCacheTTL:      settings.MessageCacheTTL,
		ConversationCacheTTL: settings.ConversationCacheTTL,
		StatsCacheTTL:        settings.StatsCacheTTL,
	}, f.logger)

	return rt, nil
}

// buildNotifier picks the realtime transport: NATS when configured and the
// backend is live, an in-process hub for fallback and testing graphs, and a
// disabled notifier otherwise.
func (f *Factory) buildNotifier(rt *Runtime, settings ProfileSettings, useFallback bool, st store.MessageStore) *realtime.Notifier {
	if !settings.RealtimeEnabled {
		return realtime.New(nil, false, nil, f.logger)
	}

	if useFallback {
		return realtime.New(realtime.NewMemoryBus(), true, st, f.logger)
	}

	if f.cfg.NATSURL == "" {
		f.logger.Warn("realtime enabled but NATS is not configured, disabling live channels")
		return realtime.New(nil, false, nil, f.logger)
	}

	client, err := natsclient.Connect(natsclient.Config{
		URL:      f.cfg.NATSURL,
		CAFile:   f.cfg.NATSCAFile,
		CertFile: f.cfg.NATSCertFile,
		KeyFile:  f.cfg.NATSKeyFile,
		Token:    f.cfg.NATSToken,
	}, f.logger)
	if err != nil {
		f.logger.Warn("failed to connect to NATS, disabling live channels")
		return realtime.New(nil, false, nil, f.logger)
	}

	rt.closers = append(rt.closers, client.Close)
	return realtime.New(realtime.NewNATSBus(client.Conn()), true, st, f.logger)
}
