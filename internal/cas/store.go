package cas

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidHash  = errors.New("invalid content hash")
	ErrHashMismatch = errors.New("content hash mismatch")
	ErrFileNotFound = errors.New("file not found")
)

var variantPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// PublishResult reports where a blob lives and whether this call created it.
// Created=false means the content was already present (deduplication).
type PublishResult struct {
	Path    string
	Created bool
}

// Store maps content hashes to object paths and guarantees at most one
// physical copy per distinct content. It holds no state of its own;
// correctness under concurrency comes from the backend's create-if-absent
// rename.
type Store struct {
	backend Backend
}

func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// ObjectPath derives the storage path for a hash, optionally suffixed with a
// variant name for derived representations. The 2/2/2 prefix tree bounds
// directory fan-out.
func (s *Store) ObjectPath(hash ContentHash, variant string) (string, error) {
	if _, err := ParseHash(hash.String()); err != nil {
		return "", err
	}

	h := hash.String()
	path := fmt.Sprintf("%s/%s/%s/%s", h[0:2], h[2:4], h[4:6], h)

	if variant != "" {
		if !variantPattern.MatchString(variant) {
			return "", fmt.Errorf("%w: invalid variant %q", ErrInvalidHash, variant)
		}
		path = path + "." + variant
	}
	return path, nil
}

// Publish installs a fully written temp file at the content-addressed path.
// If the content already exists the temp copy is discarded and no error is
// returned; the race between two publishers of identical bytes is resolved
// by the backend primitive, whichever side loses observes Created=false.
func (s *Store) Publish(ctx context.Context, temp TempFile, hash ContentHash) (PublishResult, error) {
	path, err := s.ObjectPath(hash, "")
	if err != nil {
		temp.Discard()
		return PublishResult{}, err
	}

	exists, err := s.backend.Exists(ctx, path)
	if err != nil {
		temp.Discard()
		return PublishResult{}, fmt.Errorf("failed to check existing object: %w", err)
	}
	if exists {
		temp.Discard()
		log.Debug().Str("path", path).Msg("Content already stored, discarding duplicate")
		return PublishResult{Path: path, Created: false}, nil
	}

	created, err := s.backend.RenameIfAbsent(ctx, temp, path)
	if err != nil {
		return PublishResult{}, fmt.Errorf("failed to publish object: %w", err)
	}
	return PublishResult{Path: path, Created: created}, nil
}

// Verify re-reads a stored blob and checks its bytes still hash to the path's
// key. Corrupted files are quarantined, never deleted.
func (s *Store) Verify(ctx context.Context, hash ContentHash) error {
	path, err := s.ObjectPath(hash, "")
	if err != nil {
		return err
	}

	r, err := s.backend.Open(ctx, path)
	if err != nil {
		return err
	}
	defer r.Close()

	actual, _, err := HashReader(r)
	if err != nil {
		return fmt.Errorf("failed to read stored object: %w", err)
	}

	if actual != hash {
		quarantinePath := fmt.Sprintf("quarantine/%s.%d", hash, time.Now().Unix())
		if qerr := s.backend.Rename(ctx, path, quarantinePath); qerr != nil {
			log.Error().Err(qerr).Str("hash", hash.String()).Msg("Failed to quarantine corrupted object")
		} else {
			log.Warn().Str("hash", hash.String()).Str("quarantine", quarantinePath).Msg("Quarantined corrupted object")
		}
		return fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, hash, actual)
	}
	return nil
}

// Delete unlinks a blob once nothing references it. Reference counting is the
// repository's call; stillReferenced=true makes this a no-op. Missing files
// are not an error.
func (s *Store) Delete(ctx context.Context, hash ContentHash, stillReferenced bool) error {
	if stillReferenced {
		return nil
	}

	path, err := s.ObjectPath(hash, "")
	if err != nil {
		return err
	}
	return s.backend.Remove(ctx, path)
}

func (s *Store) Exists(ctx context.Context, hash ContentHash) (bool, error) {
	path, err := s.ObjectPath(hash, "")
	if err != nil {
		return false, err
	}
	return s.backend.Exists(ctx, path)
}

func (s *Store) Open(ctx context.Context, hash ContentHash) (io.ReadCloser, error) {
	path, err := s.ObjectPath(hash, "")
	if err != nil {
		return nil, err
	}
	return s.backend.Open(ctx, path)
}

func (s *Store) CreateTemp(ctx context.Context) (TempFile, error) {
	return s.backend.CreateTemp(ctx)
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.backend.HealthCheck(ctx)
}
