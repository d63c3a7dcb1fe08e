// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/supportdesk/chat-platform/internal/config"
	"github.com/supportdesk/chat-platform/internal/handler"
	"github.com/supportdesk/chat-platform/internal/middleware"
	"github.com/supportdesk/chat-platform/internal/service"
	"github.com/supportdesk/chat-platform/pkg/logger"
	"github.com/supportdesk/chat-platform/pkg/tracing"
)

func main() {
	// Optional .env for local development; real environments set vars directly.
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-platform", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	profile := service.Profile(getProfile())
	factory := service.NewFactory(cfg, log)
	rt, err := factory.Build(ctx, profile)
	if err != nil {
		log.Error("failed to build service graph", zap.Error(err))
		os.Exit(1)
	}
	defer rt.Close()

	log.Info("service graph ready", zap.String("profile", string(profile)))

	// Periodic sweep of expired cache entries.
	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := rt.Cache.Cleanup(); removed > 0 {
					log.Debug("cache sweep", zap.Int("removed", removed))
				}
			case <-sweepDone:
				return
			}
		}
	}()
	defer close(sweepDone)

	healthHandler := handler.NewHealthHandler(rt.Chat)
	conversationHandler := handler.NewConversationHandler(rt.Chat, log)
	messageHandler := handler.NewMessageHandler(rt.Chat, log)
	statsHandler := handler.NewStatsHandler(rt.Chat, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", conversationHandler.Delete)

				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)
				r.Post("/read", messageHandler.MarkRead)
				r.Post("/typing", messageHandler.Typing)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireStaff())

			r.Get("/conversations", conversationHandler.ListAll)
			r.Get("/stats", statsHandler.Chat)
			r.Get("/stats/cache", statsHandler.Cache)
			r.Get("/stats/realtime", statsHandler.Realtime)
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func getProfile() string {
	if p := os.Getenv("PROFILE"); p != "" {
		return p
	}
	return string(service.ProfileProduction)
}
