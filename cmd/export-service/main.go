package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/mlife-core/platform/pkg/aggregation"
	"github.com/mlife-core/platform/pkg/common/config"
	"github.com/mlife-core/platform/pkg/common/database"
	"github.com/mlife-core/platform/pkg/common/kafka"
	"github.com/mlife-core/platform/pkg/common/logger"
	"github.com/mlife-core/platform/pkg/common/middleware"
	"github.com/mlife-core/platform/pkg/common/models"
	"github.com/mlife-core/platform/pkg/deid"
	"github.com/mlife-core/platform/pkg/ingestion"
	"github.com/mlife-core/platform/pkg/mapping"
	"github.com/mlife-core/platform/pkg/observability/metrics"
	"github.com/mlife-core/platform/pkg/pipeline"
	"github.com/mlife-core/platform/pkg/storage"
)

func main() {
	logger.Init()
	cfg, err := config.Load()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.Log.WithError(err).Fatal("invalid configuration")
	}

	registry, err := mapping.Load(cfg.MappingFile)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load mapping tables")
	}

	opts := pipeline.Options{
		Salt:         cfg.DeidSalt,
		CanonicalExt: storage.Extension(cfg.ArtifactCompression),
	}
	if cfg.DeidEnabled {
		rules, err := deid.LoadRules(cfg.DeidRulesFile)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to load de-identification rules")
		}
		opts.Deid = &rules
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := pipeline.Deps{}
	switch {
	case cfg.S3Bucket != "":
		client, err := storage.NewS3Client(ctx, storage.S3Config{
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
		})
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to create s3 client")
		}
		deps.Sink = storage.NewS3Sink(client, cfg.S3Bucket, "mlife")
	case cfg.ArtifactDir != "":
		deps.Sink = storage.NewFileSink(cfg.ArtifactDir)
	}

	if cfg.RedisEnabled {
		client, err := database.GetRedis(ctx, cfg)
		if err != nil {
			logger.Log.WithError(err).Warn("redis unavailable at startup, run cache will retry")
		}
		deps.Runs = storage.NewRunCache(client, cfg.RunCacheTTL)
		defer database.CloseRedis()
	} else {
		deps.Runs = storage.NewMemoryRunStore(cfg.RunCacheTTL)
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		deps.Publisher = producer
	}

	var runRepo *pipeline.RunRepository
	if cfg.ExportDBEnabled {
		db, err := database.GetPostgres(cfg)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to connect to postgres")
		}
		defer database.ClosePostgres()

		exports := storage.NewExportRepository(db)
		runRepo = pipeline.NewRunRepository(db)
		vault := deid.NewVault(db)
		for name, migrate := range map[string]func() error{
			"export rows": exports.AutoMigrate,
			"runs":        runRepo.AutoMigrate,
			"token vault": vault.AutoMigrate,
		} {
			if err := migrate(); err != nil {
				logger.Log.WithError(err).WithField("table", name).Fatal("failed to migrate")
			}
		}
		deps.Stager = exports
		deps.RunLog = runRepo
		deps.Vault = vault
	}

	svc := pipeline.NewService(
		ingestion.NewService(ingestion.Options{Delimiter: cfg.Delimiter(), Encoding: cfg.ExportEncoding}),
		aggregation.NewAggregator(registry, cfg.AggregationWorkers),
		opts,
		deps,
	)
	handler := pipeline.NewHTTPHandler(svc, cfg.MaxRequestBody, models.Strategy(cfg.DefaultStrategy))

	router := mux.NewRouter()
	router.Use(middleware.Recovery, middleware.Logging)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	handler.Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":        cfg.ServerHost,
			"port":        cfg.ServerPort,
			"instruments": registry.Names(),
		}).Info("Export Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	if runRepo != nil {
		go func() {
			ticker := time.NewTicker(12 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := runRepo.CleanupExpired(ctx, cfg.RunCacheTTL); err != nil {
						logger.Log.WithError(err).Warn("cleanup job failed")
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Export Service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Export Service stopped")
}
