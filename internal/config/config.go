// Package config loads configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/leafsync/leafsync/pkg/client"
)

// Transports accepted in LEAFSYNC_TRANSPORT.
const (
	TransportWebSocket = "websocket"
	TransportSSE       = "sse"
	TransportNone      = "none"
)

// Config holds the leafsync client configuration.
type Config struct {
	// Project
	BaseURL   string
	ProjectID string
	AuthToken string
	UserID    string
	CSRFToken string
	Transport string

	// HTTP
	HTTPTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics endpoint, empty disables it
	MetricsAddr string

	// Storage backend ("local" or "s3", default: "local")
	StorageBackend   string
	LocalStoragePath string

	// S3 storage
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3Prefix    string
}

// MigrateConfig holds the migration runner configuration.
type MigrateConfig struct {
	Driver        string // mongo, postgres
	MongoURL      string
	MongoDatabase string
	DatabaseURL   string
	Tags          []string

	LogLevel  string
	LogFormat string
}

// LoadDotEnv reads .env files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		BaseURL:          strings.TrimRight(envOr("LEAFSYNC_BASE_URL", ""), "/"),
		ProjectID:        envOr("LEAFSYNC_PROJECT_ID", ""),
		AuthToken:        envOr("LEAFSYNC_TOKEN", ""),
		UserID:           envOr("LEAFSYNC_USER_ID", ""),
		CSRFToken:        envOr("LEAFSYNC_CSRF_TOKEN", ""),
		Transport:        envOr("LEAFSYNC_TRANSPORT", TransportWebSocket),
		HTTPTimeout:      envDuration("HTTP_TIMEOUT", 30*time.Second),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		LogFormat:        envOr("LOG_FORMAT", "json"),
		MetricsAddr:      envOr("METRICS_ADDR", ""),
		StorageBackend:   envOr("STORAGE_BACKEND", "local"),
		LocalStoragePath: envOr("LOCAL_STORAGE_PATH", "downloads"),
		S3Endpoint:       envOr("S3_ENDPOINT", ""),
		S3Bucket:         envOr("S3_BUCKET", "leafsync"),
		S3AccessKey:      envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:      envOr("S3_SECRET_KEY", ""),
		S3Region:         envOr("S3_REGION", "us-east-1"),
		S3Prefix:         envOr("S3_PREFIX", ""),
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("LEAFSYNC_BASE_URL is required")
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("LEAFSYNC_PROJECT_ID is required")
	}
	switch cfg.Transport {
	case TransportWebSocket, TransportSSE, TransportNone:
	default:
		return nil, fmt.Errorf("LEAFSYNC_TRANSPORT must be websocket, sse or none, got %q", cfg.Transport)
	}
	if cfg.UserID == "" && cfg.AuthToken != "" {
		// Opaque tokens carry no user; commands that need one check UserID.
		if id, err := client.UserIDFromToken(cfg.AuthToken); err == nil {
			cfg.UserID = id
		}
	}

	return cfg, nil
}

// LogLevel returns LOG_LEVEL as currently written in the first env file
// that sets it, falling back to the process environment. Unlike
// LoadDotEnv it reads the files every time, so edits are picked up by a
// running process.
func LogLevel(files ...string) string {
	for _, f := range files {
		vars, err := godotenv.Read(f)
		if err != nil {
			continue
		}
		if v := vars["LOG_LEVEL"]; v != "" {
			return v
		}
	}
	return envOr("LOG_LEVEL", "info")
}

// LoadMigrate reads the migration runner configuration.
func LoadMigrate() (*MigrateConfig, error) {
	cfg := &MigrateConfig{
		Driver:        envOr("MIGRATIONS_DRIVER", "mongo"),
		MongoURL:      envOr("MONGO_URL", "mongodb://localhost:27017"),
		MongoDatabase: envOr("MONGO_DATABASE", "sharelatex"),
		DatabaseURL:   envOr("DATABASE_URL", ""),
		Tags:          envList("MIGRATIONS_TAGS", []string{"saas"}),
		LogLevel:      envOr("LOG_LEVEL", "info"),
		LogFormat:     envOr("LOG_FORMAT", "json"),
	}

	switch cfg.Driver {
	case "mongo":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return nil, fmt.Errorf("unknown MIGRATIONS_DRIVER %q", cfg.Driver)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// bare numbers are seconds
		n, nerr := strconv.Atoi(v)
		if nerr != nil {
			return fallback
		}
		return time.Duration(n) * time.Second
	}
	return d
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
