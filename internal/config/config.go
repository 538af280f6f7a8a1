package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Registry      RegistryConfig
	Storage       StorageConfig
	Engine        EngineConfig
	AI            AIConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RegistryConfig struct {
	Path string
}

// StorageConfig selects where uploaded files live. Backend is "local" or "s3".
type StorageConfig struct {
	Backend          string
	LocalDir         string
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type EngineConfig struct {
	DefaultMaxRows         int
	UploadMaxBytes         int64
	StatementTimeout       time.Duration
	SQLiteBusyTimeout      time.Duration
	ImportBatchSize        int
	MongoSelectionTimeout  time.Duration
	GraphHTTPTimeout       time.Duration
	GraphDefaultDatabase   string
	ConnectTimeout         time.Duration
}

type AIConfig struct {
	TranslateEnabled bool
	BaseURL          string
	APIKey           string
	Model            string
	Temperature      float64
	Timeout          time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("QUERYCRAFT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid QUERYCRAFT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "QUERYCRAFT_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCRAFT_HTTP_ADDR", &cfg.HTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYCRAFT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYCRAFT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYCRAFT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCRAFT_REGISTRY_PATH", &cfg.Registry.Path); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCRAFT_STORAGE_BACKEND", &cfg.Storage.Backend); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCRAFT_STORAGE_LOCAL_DIR", &cfg.Storage.LocalDir); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCRAFT_STORAGE_ENDPOINT", &cfg.Storage.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCRAFT_STORAGE_REGION", &cfg.Storage.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCRAFT_STORAGE_BUCKET", &cfg.Storage.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCRAFT_STORAGE_ACCESS_KEY", &cfg.Storage.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCRAFT_STORAGE_SECRET_KEY", &cfg.Storage.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYCRAFT_STORAGE_USE_SSL", &cfg.Storage.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCRAFT_STORAGE_PREFIX", &cfg.Storage.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYCRAFT_STORAGE_AUTO_CREATE_BUCKET", &cfg.Storage.AutoCreateBucket); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYCRAFT_ENGINE_DEFAULT_MAX_ROWS", &cfg.Engine.DefaultMaxRows); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "QUERYCRAFT_ENGINE_UPLOAD_MAX_BYTES", &cfg.Engine.UploadMaxBytes); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYCRAFT_ENGINE_STATEMENT_TIMEOUT", &cfg.Engine.StatementTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYCRAFT_ENGINE_SQLITE_BUSY_TIMEOUT", &cfg.Engine.SQLiteBusyTimeout); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYCRAFT_ENGINE_IMPORT_BATCH_SIZE", &cfg.Engine.ImportBatchSize); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYCRAFT_ENGINE_MONGO_SELECTION_TIMEOUT", &cfg.Engine.MongoSelectionTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYCRAFT_ENGINE_GRAPH_HTTP_TIMEOUT", &cfg.Engine.GraphHTTPTimeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCRAFT_ENGINE_GRAPH_DATABASE", &cfg.Engine.GraphDefaultDatabase); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYCRAFT_ENGINE_CONNECT_TIMEOUT", &cfg.Engine.ConnectTimeout); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYCRAFT_AI_TRANSLATE_ENABLED", &cfg.AI.TranslateEnabled); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCRAFT_AI_BASE_URL", &cfg.AI.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCRAFT_AI_API_KEY", &cfg.AI.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCRAFT_AI_MODEL", &cfg.AI.Model); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "QUERYCRAFT_AI_TEMPERATURE", &cfg.AI.Temperature); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYCRAFT_AI_TIMEOUT", &cfg.AI.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYCRAFT_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "QUERYCRAFT_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYCRAFT_AUTH_REQUIRED", &cfg.Auth.Required); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCRAFT_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys); err != nil {
		return Config{}, err
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	switch cfg.Storage.Backend {
	case "local", "s3":
	default:
		return Config{}, fmt.Errorf("invalid QUERYCRAFT_STORAGE_BACKEND: %q", cfg.Storage.Backend)
	}
	if cfg.Engine.DefaultMaxRows <= 0 {
		return Config{}, fmt.Errorf("engine default max rows must be positive")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "querycraft-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Registry: RegistryConfig{
			Path: "data/registry.json",
		},
		Storage: StorageConfig{
			Backend:          "local",
			LocalDir:         "data/uploads",
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "querycraft",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Engine: EngineConfig{
			DefaultMaxRows:        1000,
			UploadMaxBytes:        64 << 20,
			StatementTimeout:      30 * time.Second,
			SQLiteBusyTimeout:     2 * time.Second,
			ImportBatchSize:       500,
			MongoSelectionTimeout: 5 * time.Second,
			GraphHTTPTimeout:      15 * time.Second,
			GraphDefaultDatabase:  "neo4j",
			ConnectTimeout:        10 * time.Second,
		},
		AI: AIConfig{
			TranslateEnabled: false,
			BaseURL:          "https://api.openai.com",
			Model:            "gpt-5",
			Temperature:      0.1,
			Timeout:          15 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.Storage.Backend = "s3"
		cfg.Storage.UseSSL = true
		cfg.Storage.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
