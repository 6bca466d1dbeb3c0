package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cropsight/platform/pkg/attributes"
	"github.com/cropsight/platform/pkg/cache"
	"github.com/cropsight/platform/pkg/common/config"
	"github.com/cropsight/platform/pkg/common/database"
	"github.com/cropsight/platform/pkg/common/kafka"
	"github.com/cropsight/platform/pkg/common/logger"
	"github.com/cropsight/platform/pkg/gateway/auth"
	"github.com/cropsight/platform/pkg/gateway/middleware"
	"github.com/cropsight/platform/pkg/geodata"
	"github.com/cropsight/platform/pkg/ingestion"
	"github.com/cropsight/platform/pkg/ingestlog"
	"github.com/cropsight/platform/pkg/observability/metrics"
	"github.com/cropsight/platform/pkg/progress"
	"github.com/cropsight/platform/pkg/workflow"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
)

func main() {
	_ = godotenv.Load()
	logger.Init()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewPostgres(ctx, database.DSN(cfg))
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres(db)

	redisClient, err := database.NewRedis(ctx, cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to redis")
	}
	defer database.CloseRedis(redisClient)

	logRepo := ingestlog.NewRepository(db)
	repo := ingestion.NewRepository(db, logRepo)
	if err := repo.Migrate(ctx); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate ingestion tables")
	}
	checkpoints := workflow.NewRepository(db)
	if err := checkpoints.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate workflow tables")
	}

	keys := attributes.DefaultKeyTable()
	if cfg.AttributeKeysPath != "" {
		keys, err = attributes.LoadKeyTable(cfg.AttributeKeysPath)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to load attribute key table")
		}
	}

	var bridge progress.Bridge
	switch cfg.ProgressBackend {
	case "memory":
		mem := progress.NewMemoryBridge(cfg.ProgressStreamTTL)
		defer mem.Stop()
		bridge = mem
	default:
		bridge = progress.NewRedisBridge(redisClient, cfg.ProgressStreamTTL)
	}

	pages := cache.NewPageCache(redisClient, cfg.LogCacheTTL)
	invalidator := cache.Multi{pages}
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.CacheInvalidationTopic)
		defer producer.Close()
		invalidator = append(invalidator, cache.NewBroadcaster(producer, "ingestion-service"))

		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.CacheInvalidationTopic, cfg.KafkaGroupID)
		defer consumer.Close()
		go func() {
			if err := cache.Listen(ctx, consumer, pages); err != nil {
				logger.Log.WithError(err).Error("cache invalidation listener stopped")
			}
		}()
	}

	engine := workflow.NewEngine(checkpoints,
		workflow.WithMaxAttempts(cfg.WorkflowStepMaxAttempts),
		workflow.WithRetention(cfg.WorkflowRetention),
	)
	svc := ingestion.NewService(repo, engine, bridge, attributes.NewResolver(keys),
		ingestion.WithNamespace(cfg.ProgressNamespace),
		ingestion.WithMaxFeatures(cfg.IngestionMaxFeatures),
		ingestion.WithInvalidator(invalidator),
	)
	if resumed, err := svc.Resume(ctx); err != nil {
		logger.Log.WithError(err).Warn("failed to resume ingestion runs")
	} else if resumed > 0 {
		logger.Log.WithField("runs", resumed).Info("Resumed interrupted ingestion runs")
	}

	sessions, err := auth.NewSessionManager(cfg.SessionSecret, cfg.SessionIssuer, cfg.SessionAudience, cfg.SessionTTL, clockwork.NewRealClock())
	if err != nil {
		logger.Log.WithError(err).Fatal("invalid session configuration")
	}

	router := mux.NewRouter()
	router.Use(middleware.Recovery, middleware.Logging, middleware.CORS)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err == nil {
			err = redisClient.Ping(r.Context()).Err()
		}
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(
		middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, clockwork.NewRealClock()),
		middleware.BodyLimit(cfg.MaxUploadBytes()+(1<<20)),
		middleware.Authenticate(sessions),
	)
	ingestHandler := ingestion.NewHTTPHandler(svc, geodata.NewNormalizer(cfg.MaxUploadBytes()), ingestion.NewValidator(cfg.IngestionMaxFeatures))
	ingestHandler.Register(api)
	ingestlog.NewHTTPHandler(ingestlog.NewService(logRepo), pages).Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	server.RegisterOnShutdown(ingestHandler.CloseStreams)

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":     cfg.ServerHost,
			"port":     cfg.ServerPort,
			"progress": cfg.ProgressBackend,
		}).Info("Ingestion Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	go func() {
		interval := cfg.WorkflowCleanupInterval
		if interval <= 0 {
			interval = time.Hour
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := engine.Cleanup(ctx); err != nil {
					logger.Log.WithError(err).Warn("cleanup job failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Ingestion Service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Warn("ingestion runs interrupted; they will resume on next start")
	}
	cancel()

	logger.Log.Info("Ingestion Service stopped")
}
