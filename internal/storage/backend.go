// Package storage defines where downloaded project files are written.
package storage

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/leafsync/leafsync/internal/storage/local"
	s3backend "github.com/leafsync/leafsync/internal/storage/s3"
)

// Backend is the interface for content storage backends.
type Backend interface {
	// PutObject stores size bytes of body under key, replacing any
	// existing object.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// GetObject returns the object stored under key and its size.
	GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// ObjectExists checks if an object exists at the given key.
	ObjectExists(ctx context.Context, key string) (bool, error)

	// Type returns the backend type identifier ("local", "s3").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend   string // local, s3
	LocalPath string
	S3        s3backend.Config
	Logger    *zap.Logger
}

// New creates the backend named by cfg.Backend.
func New(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "", "local":
		return local.New(local.Config{RootPath: cfg.LocalPath, CreateDirs: true})
	case "s3":
		return s3backend.New(ctx, cfg.S3, cfg.Logger)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
