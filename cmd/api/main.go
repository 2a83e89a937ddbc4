// AngelaMos | 2026
// main.go

package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/soundvault/auth-backend/internal/admin"
	"github.com/soundvault/auth-backend/internal/auth"
	"github.com/soundvault/auth-backend/internal/binding"
	"github.com/soundvault/auth-backend/internal/config"
	"github.com/soundvault/auth-backend/internal/core"
	"github.com/soundvault/auth-backend/internal/geo"
	"github.com/soundvault/auth-backend/internal/health"
	"github.com/soundvault/auth-backend/internal/maintenance"
	"github.com/soundvault/auth-backend/internal/middleware"
	"github.com/soundvault/auth-backend/internal/server"
	"github.com/soundvault/auth-backend/internal/token"
)

const (
	drainDelay    = 5 * time.Second
	sweepInterval = 10 * time.Minute
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

//nolint:funlen // bootstrap code is inherently verbose
func run(configPath string) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	var telemetry *core.Telemetry
	if cfg.Otel.Enabled {
		tel, telErr := core.NewTelemetry(ctx, cfg.Otel, cfg.App)
		if telErr != nil {
			logger.Warn("failed to initialize telemetry", "error", telErr)
		} else {
			telemetry = tel
			logger.Info("OpenTelemetry tracer initialized",
				"endpoint", cfg.Otel.Endpoint,
			)
		}
	}

	db, err := core.NewDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("database connected",
		"max_open_conns", cfg.Database.MaxOpenConns,
		"max_idle_conns", cfg.Database.MaxIdleConns,
	)

	redis, err := core.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	logger.Info("redis connected",
		"pool_size", cfg.Redis.PoolSize,
	)

	kv := core.NewRedisKV(redis.Client)

	verifier, err := auth.NewVerifier(cfg.JWT)
	if err != nil {
		return err
	}
	logger.Info("token verifier initialized",
		"public_key_path", cfg.JWT.PublicKeyPath,
	)

	tokenRepo := token.NewRepository(db.DB)
	tokenCache := token.NewCache(tokenRepo, kv, cfg.TokenCache, logger)
	ledger := token.NewLedger(tokenRepo, tokenCache, logger)

	geoLookup := geo.NewHTTPLookup(
		&http.Client{Timeout: cfg.Geo.LookupTimeout},
		cfg.Geo.LookupURL,
	)
	geoResolver := geo.NewResolver(geoLookup, kv, cfg.Geo, logger)

	bindingRepo := binding.NewRepository(db.DB)
	window := binding.NewWindow(redis.Client, cfg.TokenBinding.ConcurrentIPWindow)
	notifier := binding.NewLogNotifier(logger)
	guard := binding.NewGuard(
		bindingRepo,
		window,
		geoResolver,
		notifier,
		tokenRepo,
		tokenCache,
		cfg.TokenBinding,
		logger,
	)

	engineHandler, err := engineProxy(cfg.OAuth)
	if err != nil {
		return err
	}
	engine := auth.NewInProcessEngine(engineHandler, cfg.OAuth)
	codec := auth.NewOpaqueCodec(cfg.OAuth.EncryptionPassphrase)

	authSvc := auth.NewService(
		engine,
		codec,
		tokenRepo,
		bindingRepo,
		tokenCache,
		ledger,
		guard,
		cfg.OAuth,
		logger,
	)
	authHandler := auth.NewHandler(authSvc)

	healthHandler := health.NewHandler(db, redis)

	adminHandler := admin.NewHandler(admin.HandlerConfig{
		DBStats:    db.Stats,
		RedisStats: redis.PoolStats,
		DBPing:     db.Ping,
		RedisPing:  redis.Ping,
		Security:   window,
		BindingCfg: cfg.TokenBinding,
	})

	srv := server.New(server.Config{
		ServerConfig:  cfg.Server,
		HealthHandler: healthHandler,
		Logger:        logger,
	})

	router := srv.Router()

	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(logger))
	router.Use(
		middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
			Limit: middleware.PerMinute(
				cfg.RateLimit.Requests,
				cfg.RateLimit.Burst,
			),
			FailOpen: true,
		}).Handler,
	)
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(middleware.CORS(cfg.CORS))

	healthHandler.RegisterRoutes(router)

	authenticator := middleware.Authenticator(verifier, tokenCache, guard)
	clientAuth := middleware.ClientCredentials(
		cfg.OAuth.ClientID,
		cfg.OAuth.ClientSecret,
	)
	adminOnly := middleware.RequireScope("admin")

	router.Route("/v1", func(r chi.Router) {
		authHandler.RegisterRoutes(r, clientAuth, authenticator)
		adminHandler.RegisterRoutes(r, authenticator, adminOnly)
	})

	sweeper := maintenance.NewSweeper(tokenCache, bindingRepo, window, logger)
	go sweeper.Run(ctx, sweepInterval)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout+drainDelay+5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx, drainDelay); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}

	if err := redis.Close(); err != nil {
		logger.Error("redis close error", "error", err)
	}

	if err := db.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("application stopped")
	return nil
}

// engineProxy bridges the in-process grant boundary to the authorization
// engine deployment.
func engineProxy(cfg config.OAuthConfig) (http.Handler, error) {
	target, err := url.Parse(cfg.EngineURL)
	if err != nil {
		return nil, err
	}
	return httputil.NewSingleHostReverseProxy(target), nil
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
