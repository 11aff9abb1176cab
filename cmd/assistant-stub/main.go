// Batch assistant stub: a development server for the chat client that
// answers batch-tracking questions over HTTP and WebSocket.
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

	"github.com/ashureev/batch-assistant/internal/agent"
	"github.com/ashureev/batch-assistant/internal/api"
	"github.com/ashureev/batch-assistant/internal/config"
	"github.com/ashureev/batch-assistant/internal/middleware"
	"github.com/ashureev/batch-assistant/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting assistant stub", "port", cfg.Stub.Port, "db", cfg.Stub.DBPath)

	repo, err := store.NewSQLite(cfg.Stub.DBPath)
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

	cache := newCache(cfg.Stub.RedisURL)
	defer func() {
		if closeErr := cache.Close(); closeErr != nil {
			slog.Warn("Failed to close answer cache", "error", closeErr)
		}
	}()

	service := agent.NewService(repo, agent.ServiceOptions{
		Cache:    cache,
		CacheTTL: cfg.Stub.CacheTTL,
		Logger:   logger,
	})
	chatHandler := agent.NewHandler(service, agent.Config{
		TypingDelay:    cfg.Stub.TypingDelay,
		AllowedOrigins: cfg.Stub.AllowedOrigins,
	}, logger)
	healthHandler := api.NewHealthHandler(service, 5*time.Second)

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(middleware.CORSOptions{
		AllowedOrigins: cfg.Stub.AllowedOrigins,
		MaxAge:         10 * time.Minute,
	}))

	healthHandler.RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)

	// No WriteTimeout: /ws/chat connections are long-lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Stub.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

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

// newCache connects to Redis when configured and falls back to memory.
func newCache(redisURL string) agent.Cache {
	if redisURL == "" {
		slog.Info("REDIS_URL not set, caching answers in memory")
		return agent.NewMemoryCache()
	}
	cache, err := agent.NewRedisCache(context.Background(), redisURL)
	if err != nil {
		slog.Warn("Redis unavailable, caching answers in memory", "error", err)
		return agent.NewMemoryCache()
	}
	slog.Info("Answer cache connected to Redis")
	return cache
}
