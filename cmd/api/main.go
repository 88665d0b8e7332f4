package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ClarkOhlenbusch/scam-detective-hotline/cmd/mainconfig"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/advice"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/config"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/live"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/livestore"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/livestore/migrations"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/observability/metrics"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/provider"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/ratelimit"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/scoring"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/tenant"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/webhook"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting scam-detective-hotline coaching service",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if cfg.WebhookSkipSignatureValidation && cfg.Env == "production" {
		logger.Error("SECURITY WARNING: WEBHOOK_SKIP_SIGNATURE_VALIDATION is enabled in production")
	}

	appCtx, stop := context.WithCancel(context.Background())
	defer stop()

	registry := prometheus.NewRegistry()
	pm := metrics.NewPipelineMetrics(registry)

	dbPool := connectPostgresPool(appCtx, cfg.DatabaseURL, logger)
	if dbPool != nil {
		defer dbPool.Close()
	}
	sqlDB := connectSQLDB(dbPool, logger)
	if sqlDB != nil {
		defer sqlDB.Close()
		runAutoMigrate(sqlDB, logger)
	}

	var liveStore *livestore.Store
	var caseStore *tenant.Store
	var hub *live.Hub
	if dbPool != nil {
		ref := &storeRef{}
		hub = live.NewHub(ref, cfg.LiveTranscriptLimit, pm)
		liveStore = livestore.New(dbPool, hub)
		ref.store = liveStore
		caseStore = tenant.New(dbPool)
	} else {
		logger.Warn("DATABASE_URL not set; live store, case store, and push transport are disabled")
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimitBackend == "redis" {
		redisOpts := &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}
		if cfg.RedisTLS {
			redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient := redis.NewClient(redisOpts)
		limiter = ratelimit.NewRedisLimiter(redisClient)
		logger.Info("rate limiter backend: redis", "addr", cfg.RedisAddr)
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.PruneInterval)
		logger.Info("rate limiter backend: memory")
	}
	defer limiter.Close()

	modelScorer := buildModelScorer(appCtx, cfg, logger)

	var worker *advice.Worker
	if liveStore != nil {
		worker = advice.NewWorker(liveStore, modelScorer, cfg, pm)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	if liveStore != nil && worker != nil {
		verifier := webhook.NewVerifier(cfg.ProviderAuthToken, cfg.WebhookSkipSignatureValidation)
		webhookHandler := webhook.NewHandler(liveStore, worker, verifier, cfg.ProviderAccountID, cfg.EffectiveBaseURL(), pm)
		webhookHandler.Register(r)
	} else {
		logger.Warn("webhook ingest disabled: no database configured")
	}

	if liveStore != nil {
		liveHandler := live.NewHandler(liveStore, hub, cfg.LiveTranscriptLimit)
		liveHandler.Register(r)
	}

	if caseStore != nil {
		phoneHandler := tenant.NewHandler(caseStore, limiter, pm)
		phoneHandler.Register(r)

		if cfg.ProviderAPIKey != "" && cfg.ProviderFromNumber != "" {
			voiceClient, err := provider.NewVoiceClient(provider.VoiceClientConfig{
				APIKey:     cfg.ProviderAPIKey,
				FromNumber: cfg.ProviderFromNumber,
				Logger:     logger,
			})
			if err != nil {
				logger.Error("failed to configure outbound call client", "error", err)
			} else {
				callHandler := provider.NewHandler(caseStore, voiceClient, limiter, pm)
				callHandler.Register(r)
			}
		} else {
			logger.Warn("outbound call placement disabled: PROVIDER_API_KEY or PROVIDER_FROM_NUMBER not set")
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stop()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// storeRef breaks the Hub/Store construction cycle: the Hub needs a
// SnapshotStore at construction time, but the Store needs the Hub (as its
// Notifier) at construction time too. storeRef is handed to the Hub first
// and its embedded pointer is filled in immediately after the Store exists.
type storeRef struct {
	store *livestore.Store
}

func (r *storeRef) GetSnapshot(ctx context.Context, callID, slug string, transcriptLimit int) (*livestore.Snapshot, error) {
	if r.store == nil {
		return nil, nil
	}
	return r.store.GetSnapshot(ctx, callID, slug, transcriptLimit)
}

func connectPostgresPool(ctx context.Context, dbURL string, logger *logging.Logger) *pgxpool.Pool {
	if dbURL == "" {
		return nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, dbURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if err := pool.Ping(connectCtx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to postgres")
	return pool
}

func connectSQLDB(pool *pgxpool.Pool, logger *logging.Logger) *sql.DB {
	if pool == nil {
		return nil
	}
	db := stdlib.OpenDBFromPool(pool)
	logger.Info("sql db wrapper initialized")
	return db
}

func runAutoMigrate(db *sql.DB, logger *logging.Logger) {
	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		logger.Error("auto-migrate: failed to open migrations source", "error", err)
		return
	}
	dbDriver, err := pgmigrate.WithInstance(db, &pgmigrate.Config{})
	if err != nil {
		logger.Error("auto-migrate: failed to create db driver", "error", err)
		return
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		logger.Error("auto-migrate: failed to create migrator", "error", err)
		return
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("auto-migrate: migration failed", "error", err)
		return
	}
	logger.Info("auto-migrate: database migrations applied")
}

// buildModelScorer wires the remote model scorer (C5) per LLM_PROVIDER,
// composing a FallbackScorer when LLM_FALLBACK_ENABLED names a second
// provider. Returns nil when no provider is configured, in which case the
// worker's per-cycle model step never fires.
func buildModelScorer(ctx context.Context, cfg *config.Config, logger *logging.Logger) scoring.Scorer {
	primary := buildScorerFor(ctx, cfg, cfg.LLMProvider, logger)
	if !cfg.LLMFallbackEnabled || cfg.LLMFallbackProvider == "" || cfg.LLMFallbackProvider == cfg.LLMProvider {
		return primary
	}
	fallback := buildScorerFor(ctx, cfg, cfg.LLMFallbackProvider, logger)
	if primary == nil {
		return fallback
	}
	if fallback == nil {
		return primary
	}
	logger.Info("model scorer: fallback composition enabled", "primary", cfg.LLMProvider, "fallback", cfg.LLMFallbackProvider)
	return scoring.NewFallbackScorer(primary, fallback)
}

func buildScorerFor(ctx context.Context, cfg *config.Config, providerName string, logger *logging.Logger) scoring.Scorer {
	switch providerName {
	case "bedrock":
		if cfg.ModelName == "" || !cfg.ModelConfigured() {
			return nil
		}
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config for bedrock scorer", "error", err)
			return nil
		}
		client := bedrockruntime.NewFromConfig(awsCfg)
		return scoring.NewBedrockScorer(client, cfg.ModelName)
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil
		}
		scorer, err := scoring.NewGeminiScorer(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Error("failed to configure gemini scorer", "error", err)
			return nil
		}
		return scorer
	default:
		logger.Warn("unrecognized LLM_PROVIDER, model scorer disabled", "provider", providerName)
		return nil
	}
}
