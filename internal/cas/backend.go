package cas

import (
	"context"
	"io"
)

// TempFile is a staging area for bytes that have not been published yet.
// Close flushes the handle and keeps the staged data for publication;
// Discard removes it (best effort, safe to call twice).
type TempFile interface {
	io.Writer
	Name() string
	Close() error
	Discard()
}

// Backend is the filesystem/object collaborator the store drives. Paths are
// relative to the backend's root. RenameIfAbsent is the atomicity primitive
// publication relies on: it must either install the staged file at path or
// report that an object already exists there, never both.
type Backend interface {
	CreateTemp(ctx context.Context) (TempFile, error)
	RenameIfAbsent(ctx context.Context, temp TempFile, path string) (created bool, err error)
	Exists(ctx context.Context, path string) (bool, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Rename(ctx context.Context, from, to string) error
	Remove(ctx context.Context, path string) error
	HealthCheck(ctx context.Context) error
}

type BackendType string

const (
	BackendTypeLocal BackendType = "local"
	BackendTypeS3    BackendType = "s3"
)

type BackendConfig struct {
	Type        BackendType
	LocalPath   string
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool
}

func NewBackend(config *BackendConfig) (Backend, error) {
	switch config.Type {
	case BackendTypeS3:
		return NewS3Backend(config)
	default:
		return NewLocalBackend(config)
	}
}
