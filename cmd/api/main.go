package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	httpAdapter "github.com/lorrc/notify-gateway/internal/adapters/primary/http"
	mw "github.com/lorrc/notify-gateway/internal/adapters/primary/http/middleware"
	"github.com/lorrc/notify-gateway/internal/adapters/primary/websocket"
	"github.com/lorrc/notify-gateway/internal/adapters/secondary/broker"
	"github.com/lorrc/notify-gateway/internal/adapters/secondary/policy"
	"github.com/lorrc/notify-gateway/internal/adapters/secondary/postgres"
	"github.com/lorrc/notify-gateway/internal/auth"
	"github.com/lorrc/notify-gateway/internal/config"
	"github.com/lorrc/notify-gateway/internal/core/domain"
	"github.com/lorrc/notify-gateway/internal/core/ports"
	"github.com/lorrc/notify-gateway/internal/core/services"
	"github.com/lorrc/notify-gateway/internal/infrastructure/logging"
	"github.com/lorrc/notify-gateway/internal/infrastructure/telemetry"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Structured Logger
	logger := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      os.Stdout,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
	}).With("node_id", cfg.App.NodeID)

	logger.Info("starting service",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
		"config", cfg.String(),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 3. Initialize Metrics
	provider, err := telemetry.NewProvider(ctx, cfg.Telemetry.OTLPEndpoint, cfg.App.Name, cfg.App.Version, cfg.Telemetry.ExportInterval)
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	provider.SetGlobal()

	metrics, err := telemetry.NewMetrics(provider.MeterProvider)
	if err != nil {
		logger.Error("failed to create metric instruments", "error", err)
		os.Exit(1)
	}

	// 4. Initialize Topic Policy
	authorizer, err := newAuthorizer(ctx, cfg.Policy)
	if err != nil {
		logger.Error("failed to load topic policy", "mode", cfg.Policy.Mode, "error", err)
		os.Exit(1)
	}

	// 5. Initialize Database Pool (optional: node table only)
	var (
		pool  *pgxpool.Pool
		nodes ports.NodeRepository
	)
	if cfg.Database.URL != "" {
		pool, err = newPool(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := postgres.RunMigrations(cfg.Database.URL); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		nodes = postgres.NewNodeRepository(pool)
		logger.Info("database connection established")
	}

	// 6. Initialize Real-time Components
	hub := websocket.NewHub(authorizer, metrics, logger, websocket.HubConfig{
		Client: websocket.ClientConfig{
			WriteWait:          cfg.WebSocket.WriteWait,
			PongWait:           cfg.WebSocket.PongWait,
			PingPeriod:         cfg.WebSocket.PingInterval,
			MaxMessageSize:     cfg.WebSocket.MaxMessageSize,
			SendBufferSize:     cfg.WebSocket.SendBufferSize,
			MessagesPerSecond:  cfg.WebSocket.ClientRPS,
			Burst:              cfg.WebSocket.ClientBurst,
			EnforceTokenExpiry: cfg.WebSocket.EnforceTokenExpiry,
		},
	})
	go hub.Run(ctx)

	fanout, err := broker.New(ctx, broker.Options{
		Backend: cfg.Broker.Backend,
		URL:     cfg.Broker.URL,
		Channel: cfg.Broker.Channel,
	}, logger)
	if err != nil {
		logger.Error("failed to connect broker", "backend", cfg.Broker.Backend, "error", err)
		os.Exit(1)
	}

	dispatcher := services.NewDispatchService(cfg.App.NodeID, hub, fanout, metrics, logger)
	if err := fanout.Start(ctx, dispatcher.HandleEnvelope); err != nil {
		logger.Error("failed to subscribe to broker", "backend", fanout.Name(), "error", err)
		os.Exit(1)
	}

	stats := services.NewStatsService(cfg.App.NodeID, cfg.App.Version, hub, fanout, nodes, 3*cfg.Presence.Interval, logger)

	var reporter *services.PresenceReporter
	if nodes != nil && cfg.Presence.Enabled {
		reporter = services.NewPresenceReporter(nodes, hub, domain.NodeStatus{
			NodeID:    cfg.App.NodeID,
			Broker:    fanout.Name(),
			Version:   cfg.App.Version,
			StartedAt: stats.StartedAt(),
		}, cfg.Presence.Interval, logger)
		go reporter.Run(ctx)
	}

	// 7. Initialize Security Components
	var tokenOpts []auth.TokenOption
	if cfg.JWT.Issuer != "" {
		tokenOpts = append(tokenOpts, auth.WithIssuer(cfg.JWT.Issuer))
	}
	tokenManager := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL, tokenOpts...)
	serviceKeys := auth.NewServiceKeyVerifier(cfg.Publisher.KeyHashes)
	if !serviceKeys.Enabled() {
		logger.Warn("no publisher key hashes configured, internal API is unauthenticated")
	}

	// 8. Initialize Rate Limiters
	var (
		generalRateLimiter *mw.RateLimiter
		connRateLimiter    *mw.RateLimitByKey
	)
	if cfg.RateLimit.Enabled {
		generalRateLimiter = mw.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize)
		defer generalRateLimiter.Stop()
		connRateLimiter = mw.NewRateLimitByKey(cfg.RateLimit.ConnectionsPerSecond, cfg.RateLimit.ConnectionBurst)
		defer connRateLimiter.Stop()
	}

	// 9. Handlers (Primary Adapters)
	errorHandler := httpAdapter.NewErrorHandler(logger)
	wsHandler := httpAdapter.NewWebSocketHandler(hub, tokenManager, cfg, connRateLimiter, errorHandler, logger)
	publishHandler := httpAdapter.NewPublishHandler(dispatcher, errorHandler, logger)
	statsHandler := httpAdapter.NewStatsHandler(stats, errorHandler)

	healthHandler := httpAdapter.NewHealthHandler(cfg.App.Version).
		AddCheck("broker", fanout.Health, false).
		AddCheck("policy", authorizer.HealthCheck, true)
	if pool != nil {
		healthHandler.AddCheck("database", pool.Ping, true)
	}

	// 10. Setup Router
	r := chi.NewRouter()

	// Global middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.WebSocket.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", mw.RequestIDHeader, mw.ServiceKeyHeader},
		ExposedHeaders:   []string{mw.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(mw.RequestID)
	r.Use(mw.RequestLogger(logger))
	r.Use(mw.RecoveryLogger(logger))

	// Health check endpoints (standard probe paths)
	r.Route("/health", healthHandler.RegisterRoutes)

	// Client connections (authentication is handled inside the handler)
	r.Group(func(r chi.Router) {
		if generalRateLimiter != nil {
			r.Use(generalRateLimiter.Middleware)
		}
		r.Get("/ws", wsHandler.ServeHTTP)
	})

	// Backend publisher API
	r.Route("/internal/v1", func(r chi.Router) {
		r.Use(mw.ServiceKeyAuth(serviceKeys, logger))
		publishHandler.RegisterRoutes(r)
		statsHandler.RegisterRoutes(r)
	})

	// 11. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			"port", cfg.Server.Port,
			"broker", fanout.Name(),
			"policy", cfg.Policy.Mode,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("shutdown signal received", "signal", sig.String())

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by the server, so the
	// hub closes them itself.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	hub.Shutdown()
	stop()

	// The node row must be removed before the deferred pool close.
	if reporter != nil {
		select {
		case <-reporter.Done():
		case <-shutdownCtx.Done():
			logger.Warn("presence reporter did not stop before shutdown timeout")
		}
	}

	if err := fanout.Close(); err != nil {
		logger.Error("broker close error", "error", err)
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown error", "error", err)
	}

	logger.Info("server shutdown complete")
}

// topicAuthorizer is what the hub and the readiness check need from a policy.
type topicAuthorizer interface {
	ports.TopicAuthorizer
	HealthCheck(ctx context.Context) error
}

func newAuthorizer(ctx context.Context, cfg config.PolicyConfig) (topicAuthorizer, error) {
	switch {
	case cfg.Mode == config.PolicyAllowAll:
		return policy.AllowAll{}, nil
	case cfg.File != "":
		return policy.NewOPAAuthorizerFromFile(ctx, cfg.File)
	default:
		return policy.NewOPAAuthorizer(ctx, policy.DefaultTopicPolicy)
	}
}

func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
