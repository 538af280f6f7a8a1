// Package api exposes the HTTP surface: file uploads, query execution, query
// translation, and the operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Rifaque/querycraft-backend/internal/config"
	"github.com/Rifaque/querycraft-backend/internal/engine"
	"github.com/Rifaque/querycraft-backend/internal/nlq"
	"github.com/Rifaque/querycraft-backend/internal/observability"
	"github.com/Rifaque/querycraft-backend/internal/registry"
	"github.com/Rifaque/querycraft-backend/internal/storage"
)

type ReadinessCheck func(ctx context.Context) error

// QueryEngine is the slice of the dispatcher the handlers need.
type QueryEngine interface {
	Execute(ctx context.Context, req engine.Request) (engine.Result, error)
}

// FileRegistry covers registration and listing of uploaded files.
type FileRegistry interface {
	Register(ctx context.Context, upload registry.Upload) (registry.FileMetadata, error)
	Lookup(ctx context.Context, id string) (registry.FileMetadata, error)
	List(ctx context.Context) ([]registry.FileMetadata, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Registry          FileRegistry
	Objects           storage.ObjectStore
	Engine            QueryEngine
	Translator        nlq.Translator
	UploadMaxBytes    int64
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/files", func(w http.ResponseWriter, r *http.Request) {
		handleUploadFile(deps, w, r)
	})
	protected.HandleFunc("GET /v1/files", func(w http.ResponseWriter, r *http.Request) {
		handleListFiles(deps, w, r)
	})
	protected.HandleFunc("GET /v1/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleGetFile(deps, w, r)
	})
	protected.HandleFunc("POST /v1/query", func(w http.ResponseWriter, r *http.Request) {
		handleQuery(deps, w, r)
	})
	protected.HandleFunc("POST /v1/query/translate", func(w http.ResponseWriter, r *http.Request) {
		handleTranslateQuery(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /v1/files", protectedHandler)
	mux.Handle("GET /v1/files", protectedHandler)
	mux.Handle("GET /v1/files/{id}", protectedHandler)
	mux.Handle("POST /v1/query", protectedHandler)
	mux.Handle("POST /v1/query/translate", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckRegistryPath(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Registry.Path == "" {
			return errors.New("registry path is not configured")
		}
		return nil
	}
}

func CheckStorageConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		switch cfg.Storage.Backend {
		case "local":
			if cfg.Storage.LocalDir == "" {
				return errors.New("local storage dir is not configured")
			}
		case "s3":
			if cfg.Storage.Endpoint == "" {
				return errors.New("object store endpoint is not configured")
			}
			if cfg.Storage.Bucket == "" {
				return errors.New("object store bucket is not configured")
			}
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
