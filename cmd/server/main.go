// Bean Journal - Support Console Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beanjournal/support-console/internal/api"
	"github.com/beanjournal/support-console/internal/config"
	"github.com/beanjournal/support-console/internal/directory"
	"github.com/beanjournal/support-console/internal/identity"
	"github.com/beanjournal/support-console/internal/mail"
	"github.com/beanjournal/support-console/internal/middleware"
	"github.com/beanjournal/support-console/internal/realtime"
	"github.com/beanjournal/support-console/internal/store"
	"github.com/beanjournal/support-console/internal/support"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Initialize services.
	hub := realtime.NewHub()
	mgr := support.NewManager(repo, support.HubOpener(hub))
	defer mgr.CloseAll()

	dir := directory.NewClient(cfg.Directory.APIURL, cfg.Directory.SecretKey)
	mailSvc := mail.NewService(repo, mail.NewHTTPSender(cfg.Email.ServiceURL, cfg.Email.ServiceKey, cfg.Email.FromAddress), cfg.Email.AllowedDestinations)

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo)
	supportHandler := api.NewSupportHandler(mgr, repo)
	usersHandler := api.NewUsersHandler(dir)
	emailHandler := api.NewEmailHandler(mailSvc)
	wsHandler := realtime.NewWebSocketHandler(hub, repo, support.Topic, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	corsOrigins := []string{cfg.FrontendURL}
	if cfg.IsDevelopment() {
		corsOrigins = []string{"*"}
	}
	r.Use(middleware.CORS(corsOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Inbound email webhook is authenticated by the mail provider, not agents.
	r.Post("/api/email/inbound", emailHandler.Inbound)

	// End-user chat widget endpoint.
	r.Get("/ws/support", wsHandler.ServeHTTP)

	// Agent-facing routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(dir, cfg.IsDevelopment()))
		supportHandler.RegisterRoutes(r)
		usersHandler.RegisterRoutes(r)
		emailHandler.RegisterRoutes(r)
	})

	// Create server.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout, WebSocket connections are long-lived
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	// Start presence sweeper.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	support.StartPresenceSweeper(ctx, repo, cfg.AgentOfflineTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
