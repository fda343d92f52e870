package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/plazadir/gatekeeper/internal/config"
	httpserver "github.com/plazadir/gatekeeper/internal/http"
	"github.com/plazadir/gatekeeper/internal/http/middleware"
	"github.com/plazadir/gatekeeper/internal/httputil"
	"github.com/plazadir/gatekeeper/internal/inmem"
	"github.com/plazadir/gatekeeper/pkg/auth"
	"github.com/plazadir/gatekeeper/pkg/domain"
	"github.com/plazadir/gatekeeper/pkg/repository"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	var sessionStore domain.SessionStore
	var rateLimitStore domain.RateLimitStore

	switch cfg.SessionBackend {
	case "memory":
		sessionStore = inmem.NewSessionStore()
		logger.Warn("using in-memory session store (single instance only)")
	default:
		db, err := repository.NewDB(repository.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			DBName:   cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		})
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		logger.Info("connected to database")

		sessionStore = repository.NewSessionsRepository(db)
		if cfg.RateLimitBackend == "postgres" {
			rateLimitStore = repository.NewRateLimitsRepository(db)
		}
	}

	switch cfg.RateLimitBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		logger.Info("connected to redis")
		rateLimitStore = repository.NewRedisRateLimits(rdb)
	case "memory":
		rateLimitStore = inmem.NewRateLimitStore()
		logger.Warn("using in-memory rate limit store (limits are per instance)")
	}
	if rateLimitStore == nil {
		rateLimitStore = inmem.NewRateLimitStore()
		logger.Warn("rate limit backend unavailable, falling back to in-memory")
	}

	provider := auth.NewJWTProvider(auth.JWTProviderConfig{
		Secret:   []byte(cfg.ProviderSecret),
		Issuer:   cfg.ProviderIssuer,
		TokenURL: cfg.ProviderTokenURL,
	})

	sessions := auth.NewSessionService(auth.SessionConfig{
		SessionTTL: cfg.SessionTTL,
		RefreshTTL: cfg.RefreshTTL,
	}, sessionStore, provider, logger)

	limiter := auth.NewRateLimiter(rateLimitStore, logger)

	cookies := httputil.CookieConfig{
		Domain:   cfg.CookieDomain,
		Path:     "/",
		Secure:   cfg.Production,
		SameSite: config.CookieSameSite,
	}

	router := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:   logger,
		Sessions: sessions,
		Limiter:  limiter,
		Origin: middleware.OriginPolicy{
			Origins: cfg.AllowedOrigins,
			Parents: cfg.AllowedOriginParents,
		},
		Cookies: cookies,
		RateLimits: httpserver.RateLimits{
			Enabled:  cfg.RateLimitEnabled,
			Exchange: cfg.ExchangeLimit,
			Restore:  cfg.RestoreLimit,
			CSRF:     cfg.CSRFLimit,
		},
		Security:       cfg.SecurityHeaders,
		MaxBodySize:    cfg.MaxRequestBodySize,
		ThrottlePerMin: cfg.ThrottlePerMin,
	})

	// Periodic sweep of rows past both expiries; lazy deletion on
	// discovery covers the rest.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				deleted, err := sessions.SweepExpired(sweepCtx)
				if err != nil {
					logger.Warn("session sweep failed", "error", err)
				} else if deleted > 0 {
					logger.Info("swept expired sessions", "deleted", deleted)
				}
			}
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
