package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fleetboard-backend/internal/alertstate"
	"fleetboard-backend/internal/alertstore"
	"fleetboard-backend/internal/cache"
	"fleetboard-backend/internal/fleet"
	"fleetboard-backend/internal/handlers"
	"fleetboard-backend/internal/httpserver"
	"fleetboard-backend/internal/metrics"
	"fleetboard-backend/internal/upstream"
	"fleetboard-backend/pkg/logging/logging"
)

type Config struct {
	Port         string
	UpstreamBase string
	TestPath     string
	AdminUser    string
	AdminPass    string
	Concurrency  int
	CacheBackend string // "memory" or "redis"
	RedisAddr    string
	DatabaseURL  string
}

func LoadConfig() Config {
	concurrency, err := strconv.Atoi(getenv("UPSTREAM_CONCURRENCY", "10"))
	if err != nil || concurrency <= 0 {
		concurrency = 10
	}
	return Config{
		Port:         getenv("PORT", "8080"),
		UpstreamBase: getenv("UPSTREAM_BASE", "https://api.pinme.io/api"),
		TestPath:     getenv("TEST_PATH", "/devices"),
		AdminUser:    os.Getenv("ADMIN_USER"),
		AdminPass:    os.Getenv("ADMIN_PASS"),
		Concurrency:  concurrency,
		CacheBackend: getenv("CACHE_BACKEND", "memory"),
		RedisAddr:    getenv("REDIS_ADDR", "127.0.0.1:6379"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("server exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg := LoadConfig()

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("upstream_base", cfg.UpstreamBase),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.Int("concurrency", cfg.Concurrency),
		zap.Bool("admin_configured", cfg.AdminUser != "" && cfg.AdminPass != ""),
		zap.Bool("database_configured", cfg.DatabaseURL != ""),
	)

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.CacheBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.RedisAddr),
		)
	}

	// ----- Coalescing cache -----
	sharedStore := cache.NewStore(cache.Config{
		Backend: cfg.CacheBackend,
		Prefix:  "fleetboard",
	}, redisClient)
	coalescer := cache.NewCoalescer(sharedStore, logger)

	// ----- Upstream client -----
	upstreamClient, err := upstream.NewClient(upstream.Config{
		BaseURL: cfg.UpstreamBase,
	}, logger)
	if err != nil {
		return err
	}
	defer upstreamClient.Close()

	// ----- Fleet services -----
	fetchers := fleet.NewFetchers(upstreamClient, coalescer, cache.DefaultTTLPolicy())
	service := fleet.NewService(fetchers, cfg.Concurrency)

	// ----- Alert workflow stores -----
	var dbStore *alertstore.Store
	if cfg.DatabaseURL != "" {
		dbStore, err = alertstore.New(context.Background(), cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer dbStore.Close()

		// the server still starts when the DB is down; the db endpoints
		// answer errors until it comes back
		if err := dbStore.Ping(context.Background()); err != nil {
			logger.Warn("database unreachable at startup", zap.Error(err))
		} else {
			logger.Info("database connection established")
		}
	}

	var adminCookie string
	if cfg.AdminUser != "" && cfg.AdminPass != "" {
		adminCookie = upstream.SessionCookie(cfg.AdminPass)
	}
	legacyStore := alertstate.NewLegacyStore(upstreamClient, adminCookie)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, httpserver.Handlers{
		Session:  handlers.NewSessionHandler(upstreamClient, fetchers, cfg.TestPath),
		Reports:  handlers.NewReportsHandler(service),
		Legacy:   handlers.NewLegacyAlertsHandler(legacyStore),
		DBAlerts: handlers.NewDBAlertsHandler(dbStore),
	})

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting server",
		zap.String("addr", srv.Addr),
		zap.String("cache_backend", cfg.CacheBackend),
	)

	// Start server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

// getenv returns the value of the environment variable key or def if not set.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
