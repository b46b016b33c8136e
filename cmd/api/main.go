// Package main is the entry point for the realtime support chat server.
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

	"github.com/casalink/support-chat/internal/auth"
	"github.com/casalink/support-chat/internal/bus"
	"github.com/casalink/support-chat/internal/call"
	"github.com/casalink/support-chat/internal/chat"
	"github.com/casalink/support-chat/internal/config"
	"github.com/casalink/support-chat/internal/handler"
	"github.com/casalink/support-chat/internal/middleware"
	"github.com/casalink/support-chat/internal/presence"
	"github.com/casalink/support-chat/internal/store"
	"github.com/casalink/support-chat/internal/ws"
	"github.com/casalink/support-chat/pkg/logger"
	"github.com/casalink/support-chat/pkg/tracing"
)

func main() {
	// Load .env if present, then configuration
	_ = godotenv.Load()
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting realtime server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "support-chat", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	natsConn, err := bus.Connect(bus.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}

	eventBus := bus.New(natsConn, log)
	defer eventBus.Close()

	// Open the message store
	var gateway store.Gateway
	switch cfg.StoreDriver {
	case "memory":
		gateway = store.NewMemory()
	default:
		pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to open postgres", zap.Error(err))
			os.Exit(1)
		}
		gateway = pg
	}
	defer gateway.Close()

	// Wire the realtime core
	registry := presence.NewRegistry()
	registry.SetWatcher(eventBus)

	coordinator := chat.NewCoordinator(gateway, eventBus, cfg.TypingTTL, log)
	go coordinator.Run(ctx)

	relay := call.NewRelay(registry, eventBus, log)

	verifier := auth.NewJWTVerifier(cfg.JWTSecret)
	hub := ws.NewHub()
	router := ws.NewRouter(ctx, verifier, registry, coordinator, relay, log)

	// Pull bus traffic into the local hub
	if err := eventBus.Start(hub); err != nil {
		log.Error("failed to start event bus", zap.Error(err))
		os.Exit(1)
	}

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(eventBus)
	chatHandler := handler.NewChatHandler(coordinator, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Realtime channel; clients authenticate in-band after the upgrade
	r.Get("/ws", router.Handler(hub, cfg.AllowedOrigins, cfg.WriteQueueSize))

	// REST routes with authentication
	r.Route("/api/chat", func(r chi.Router) {
		r.Use(middleware.Auth(verifier))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/start", chatHandler.Start)
		r.Get("/{id}/messages", chatHandler.Messages)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin)

			r.Post("/{id}/assign", chatHandler.Assign)
			r.Get("/admin/chats", chatHandler.AdminChats)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
