// Concierge main entry point.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hostel-concierge/internal/ai/local"
	"github.com/hostel-concierge/internal/ai/router"
	"github.com/hostel-concierge/internal/cache"
	"github.com/hostel-concierge/internal/classify"
	"github.com/hostel-concierge/internal/config"
	"github.com/hostel-concierge/internal/conversation"
	"github.com/hostel-concierge/internal/events"
	"github.com/hostel-concierge/internal/feedback"
	"github.com/hostel-concierge/internal/pipeline"
	"github.com/hostel-concierge/internal/policy"
	"github.com/hostel-concierge/internal/routing"
	"github.com/hostel-concierge/internal/server"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting hostel concierge")

	cfg, err := config.Load(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Analytics / admin notifications. Optional: without NATS the
	// emitter runs in log-only mode.
	var natsConn *nats.Conn
	if url := os.Getenv("NATS_URL"); url != "" {
		natsConn, err = nats.Connect(url,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			logger.Warn("NATS unavailable, events are log-only", zap.Error(err))
			natsConn = nil
		}
	}
	emitter := events.NewEmitter(natsConn, events.Config{}, logger)
	defer emitter.Close()

	// Shared embedding cache. Redis L2 is optional.
	var redisClient *redis.Client
	if addr := os.Getenv("REDIS_URL"); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("Redis unavailable, embedding cache is in-memory only", zap.Error(err))
			redisClient = nil
		}
		cancel()
	}
	embedCache, err := cache.NewEmbeddingCache(0, 0, redisClient, logger)
	if err != nil {
		logger.Fatal("Failed to create embedding cache", zap.Error(err))
	}
	defer embedCache.Close()

	limiter := policy.NewRateLimiter(policy.RateLimitConfig{
		RequestsPerMinute: cfg.RateLimit.PerMinute,
		RequestsPerHour:   cfg.RateLimit.PerHour,
		Staff:             cfg.RateLimit.Staff,
		SweepInterval:     cfg.RateLimit.SweepInterval.Std(),
	}, nil, logger)
	defer limiter.Close()

	store := conversation.NewStore(nil, logger)
	tiers, llm := buildTiers(cfg, embedCache, logger)
	cascade := classify.NewCascade(tiers, llm, cfg.Thresholds.Layer2Cutoff, logger)
	resolver := routing.NewResolver(cfg.Routing, store, emitter, logger)
	languages := classify.NewLanguageResolver(cfg.Languages)
	correlator := feedback.NewCorrelator(cfg.Feedback, nil, logger)

	p := pipeline.New(limiter, store, cascade, resolver, languages, correlator, emitter, logger)

	srv := server.NewServer(p, store, limiter, resolver, staffAccounts(logger), logger)
	apiRouter := mux.NewRouter()
	srv.SetupRoutes(apiRouter)

	port := getEnv("PORT", "8090")
	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Handler(apiRouter),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("API listening", zap.String("port", port))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("Server startup failed", zap.Error(err))
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("API shutdown error", zap.Error(err))
	}
	if natsConn != nil {
		natsConn.Drain()
	}
	logger.Info("Shutdown complete")
}

// buildTiers assembles the cascade in order, honoring per-tier enable
// flags. A tier that cannot initialize is skipped with a warning; the
// cascade degrades rather than refuses to start.
func buildTiers(cfg *config.Config, embedCache *cache.EmbeddingCache, logger *zap.Logger) ([]classify.Tier, *classify.LLMClassifier) {
	var tiers []classify.Tier

	if config.TierEnabled(cfg.Thresholds.EnableEmergency) {
		tiers = append(tiers, classify.NewEmergencyDetector(cfg.Emergency, logger))
	}
	if config.TierEnabled(cfg.Thresholds.EnableFuzzy) {
		tiers = append(tiers, classify.NewFuzzyMatcher(cfg.Intents, cfg.Thresholds.FuzzyMinScore, logger))
	}
	if config.TierEnabled(cfg.Thresholds.EnableSemantic) {
		embedder := local.NewOllamaEmbedder(os.Getenv("OLLAMA_URL"), os.Getenv("EMBED_MODEL"))
		semantic, err := classify.NewSemanticMatcher(cfg.Intents, embedder, embedCache, cfg.Thresholds.SemanticThreshold, logger)
		if err != nil {
			logger.Warn("semantic tier unavailable", zap.Error(err))
		} else {
			tiers = append(tiers, semantic)
		}
	}

	var llm *classify.LLMClassifier
	if config.TierEnabled(cfg.Thresholds.EnableLLM) {
		llmRouter := router.New(router.DefaultConfig(), logger)
		llm = classify.NewLLMClassifier(llmRouter, cfg.Intents, cfg.Languages,
			os.Getenv("CLASSIFIER_MODEL"), os.Getenv("CLASSIFIER_WIDE_MODEL"), logger)
		tiers = append(tiers, llm)
	}

	return tiers, llm
}

// staffAccounts reads the single admin login from the environment.
// ADMIN_PASSWORD_HASH must be a bcrypt hash; without it the admin API
// stays locked.
func staffAccounts(logger *zap.Logger) []server.StaffAccount {
	hash := os.Getenv("ADMIN_PASSWORD_HASH")
	if hash == "" {
		logger.Warn("ADMIN_PASSWORD_HASH not set, admin login disabled")
		return nil
	}
	return []server.StaffAccount{{
		Username:     getEnv("ADMIN_USERNAME", "admin"),
		PasswordHash: hash,
	}}
}

func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
