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

	"github.com/Rifaque/querycraft-backend/internal/api"
	"github.com/Rifaque/querycraft-backend/internal/auth"
	"github.com/Rifaque/querycraft-backend/internal/config"
	"github.com/Rifaque/querycraft-backend/internal/engine"
	"github.com/Rifaque/querycraft-backend/internal/engine/graphexec"
	"github.com/Rifaque/querycraft-backend/internal/engine/mongoexec"
	"github.com/Rifaque/querycraft-backend/internal/engine/sqlexec"
	"github.com/Rifaque/querycraft-backend/internal/engine/tabular"
	"github.com/Rifaque/querycraft-backend/internal/nlq"
	"github.com/Rifaque/querycraft-backend/internal/observability"
	"github.com/Rifaque/querycraft-backend/internal/registry"
	"github.com/Rifaque/querycraft-backend/internal/storage"
	localstore "github.com/Rifaque/querycraft-backend/internal/storage/local"
	s3store "github.com/Rifaque/querycraft-backend/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("querycraft-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	fileRegistry, err := registry.Open(cfg.Registry.Path)
	if err != nil {
		logger.Error("failed to open file registry", slog.Any("error", err))
		os.Exit(1)
	}

	var objects storage.ObjectStore
	switch cfg.Storage.Backend {
	case "s3":
		objects, err = s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.Storage.Endpoint,
			Region:           cfg.Storage.Region,
			Bucket:           cfg.Storage.Bucket,
			AccessKeyID:      cfg.Storage.AccessKeyID,
			SecretAccessKey:  cfg.Storage.SecretAccessKey,
			UseSSL:           cfg.Storage.UseSSL,
			Prefix:           cfg.Storage.Prefix,
			AutoCreateBucket: cfg.Storage.AutoCreateBucket,
		})
	default:
		objects, err = localstore.New(cfg.Storage.LocalDir)
	}
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	sqliteExec := sqlexec.NewSQLite(cfg.Engine.SQLiteBusyTimeout, cfg.Engine.StatementTimeout)
	dispatcher := &engine.Dispatcher{
		Files:          fileRegistry,
		Objects:        objects,
		SQLite:         sqliteExec,
		Postgres:       sqlexec.NewPostgres(cfg.Engine.StatementTimeout),
		MySQL:          sqlexec.NewMySQL(cfg.Engine.ConnectTimeout, cfg.Engine.StatementTimeout),
		Mongo:          mongoexec.New(cfg.Engine.MongoSelectionTimeout),
		Graph:          graphexec.New(cfg.Engine.GraphDefaultDatabase, cfg.Engine.GraphHTTPTimeout),
		Importer:       tabular.New(cfg.Engine.ImportBatchSize, sqliteExec),
		DefaultMaxRows: cfg.Engine.DefaultMaxRows,
		Logger:         logger,
	}

	var translator nlq.Translator
	if cfg.AI.TranslateEnabled {
		translator, err = nlq.NewOpenAITranslator(nlq.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
		if err != nil {
			logger.Error("failed to initialize query translator", slog.Any("error", err))
			os.Exit(1)
		}
	}

	deps := api.Dependencies{
		Logger:         logger,
		Registry:       fileRegistry,
		Objects:        objects,
		Engine:         dispatcher,
		Translator:     translator,
		UploadMaxBytes: cfg.Engine.UploadMaxBytes,
		Readiness: api.CombineReadinessChecks(
			api.CheckRegistryPath(cfg),
			api.CheckStorageConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
