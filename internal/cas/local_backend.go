package cas

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalBackend stores blobs under a base directory. Temp files live in
// <base>/tmp and publication is an os.Link, which fails with EEXIST when a
// concurrent publisher already installed the same content.
type LocalBackend struct {
	basePath string
}

func NewLocalBackend(config *BackendConfig) (*LocalBackend, error) {
	basePath := config.LocalPath
	if basePath == "" {
		basePath = "./media-storage"
	}

	if err := os.MkdirAll(filepath.Join(basePath, "tmp"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalBackend{basePath: basePath}, nil
}

// fullPath resolves a relative object path and asserts it stays inside the
// base root. Paths reaching this layer are already validated, this is the
// last line of defense.
func (b *LocalBackend) fullPath(path string) (string, error) {
	full := filepath.Join(b.basePath, filepath.FromSlash(path))
	base, err := filepath.Abs(b.basePath)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if abs != base && !strings.HasPrefix(abs, base+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path %q escapes storage root", ErrInvalidHash, path)
	}
	return full, nil
}

type localTempFile struct {
	f    *os.File
	name string
}

func (t *localTempFile) Write(p []byte) (int, error) { return t.f.Write(p) }

func (t *localTempFile) Name() string { return t.name }

func (t *localTempFile) Close() error {
	if err := t.f.Sync(); err != nil {
		t.f.Close()
		return err
	}
	return t.f.Close()
}

func (t *localTempFile) Discard() {
	t.f.Close()
	os.Remove(t.name)
}

func (b *LocalBackend) CreateTemp(ctx context.Context) (TempFile, error) {
	name := filepath.Join(b.basePath, "tmp", uuid.NewString()+".tmp")
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	return &localTempFile{f: f, name: name}, nil
}

func (b *LocalBackend) RenameIfAbsent(ctx context.Context, temp TempFile, path string) (bool, error) {
	full, err := b.fullPath(path)
	if err != nil {
		temp.Discard()
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		temp.Discard()
		return false, err
	}

	// Link is create-if-absent: the loser of a concurrent publish sees
	// EEXIST and keeps nothing.
	err = os.Link(temp.Name(), full)
	temp.Discard()
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *LocalBackend) Exists(ctx context.Context, path string) (bool, error) {
	full, err := b.fullPath(path)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *LocalBackend) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	full, err := b.fullPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, err
	}
	return f, nil
}

func (b *LocalBackend) Rename(ctx context.Context, from, to string) error {
	fullFrom, err := b.fullPath(from)
	if err != nil {
		return err
	}
	fullTo, err := b.fullPath(to)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullTo), 0755); err != nil {
		return err
	}
	return os.Rename(fullFrom, fullTo)
}

func (b *LocalBackend) Remove(ctx context.Context, path string) error {
	full, err := b.fullPath(path)
	if err != nil {
		return err
	}

	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return err
	}

	b.cleanupEmptyDirs(filepath.Dir(full))
	return nil
}

// cleanupEmptyDirs removes now-empty prefix directories, best effort.
func (b *LocalBackend) cleanupEmptyDirs(dir string) {
	base, err := filepath.Abs(b.basePath)
	if err != nil {
		return
	}
	for {
		abs, err := filepath.Abs(dir)
		if err != nil || abs == base || !strings.HasPrefix(abs, base+string(filepath.Separator)) {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (b *LocalBackend) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(b.basePath)
	if err != nil {
		return fmt.Errorf("storage root unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root %s is not a directory", b.basePath)
	}

	probe := filepath.Join(b.basePath, ".health_check_"+uuid.NewString())
	if err := os.WriteFile(probe, []byte("health_check"), 0644); err != nil {
		return fmt.Errorf("storage root not writable: %w", err)
	}
	os.Remove(probe)
	return nil
}
