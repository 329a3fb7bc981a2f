package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mediavault/mediavault_server/internal/cas"
	"github.com/mediavault/mediavault_server/internal/session"
)

var ErrInvalidFilter = errors.New("invalid status filter")

type Service struct {
	repo     Repository
	store    *cas.Store
	sessions *session.Manager
}

func NewService(repo Repository, store *cas.Store, sessions *session.Manager) *Service {
	return &Service{
		repo:     repo,
		store:    store,
		sessions: sessions,
	}
}

type InitiateResult struct {
	Media     *Media
	Session   *session.Session
	UploadURL string
}

// InitiateUpload validates the declared shape, creates a pending record and
// issues a presigned session for it. Nothing touches the filesystem here.
func (s *Service) InitiateUpload(ctx context.Context, filename, contentType string, declaredSize int64) (*InitiateResult, error) {
	clean, err := s.sessions.ValidateRequest(filename, contentType, declaredSize)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	m := &Media{
		OriginalFilename: clean,
		ContentType:      contentType,
		FileSize:         declaredSize,
		Status:           StatusPending,
		UploadedAt:       now,
		UpdatedAt:        now,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to create media record: %w", err)
	}

	sess, uploadURL, err := s.sessions.Issue(ctx, m.ID, declaredSize, contentType)
	if err != nil {
		return nil, err
	}

	log.Info().Int64("mediaId", m.ID).Time("expiresAt", sess.ExpiresAt).Msg("Upload session initiated")
	return &InitiateResult{Media: m, Session: sess, UploadURL: uploadURL}, nil
}

// AcceptUpload redeems a presigned session: signature, expiry and single-use
// checks all happen before any byte is written. The body is streamed into a
// temp file while hashing; size is enforced once the full body has been
// read, and publication is the store's atomic dedup-aware rename.
func (s *Service) AcceptUpload(ctx context.Context, token, signature string, expires, size int64, contentType string, body io.Reader) (*Media, error) {
	if err := s.sessions.Verify(token, signature, expires, size, contentType); err != nil {
		return nil, err
	}

	sess, err := s.sessions.Consume(ctx, token)
	if err != nil {
		return nil, err
	}

	m, err := s.repo.GetByID(ctx, sess.MediaID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, m, StatusProcessing, ""); err != nil {
		return nil, err
	}

	temp, err := s.store.CreateTemp(ctx)
	if err != nil {
		s.markFailed(ctx, m, "storage unavailable")
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	// Read one byte past the declared size so an overlong body is caught
	// without draining it.
	hash, n, err := cas.HashCopy(temp, io.LimitReader(body, size+1))
	if err != nil {
		temp.Discard()
		s.markFailed(ctx, m, "failed to read upload body")
		return nil, fmt.Errorf("failed to read upload body: %w", err)
	}
	if n != size {
		temp.Discard()
		s.markFailed(ctx, m, fmt.Sprintf("size mismatch: declared %d, received %d", size, n))
		return nil, fmt.Errorf("%w: declared %d, received %d", ErrSizeMismatch, size, n)
	}
	if err := temp.Close(); err != nil {
		temp.Discard()
		s.markFailed(ctx, m, "storage write failed")
		return nil, fmt.Errorf("failed to finalize temp file: %w", err)
	}

	if err := s.finishPublication(ctx, m, temp, hash, n); err != nil {
		return nil, err
	}
	return m, nil
}

// DirectUpload is the non-presigned path: the record goes straight from
// pending to complete, but still only after publication succeeds.
func (s *Service) DirectUpload(ctx context.Context, filename, contentType string, declaredSize int64, body io.Reader) (*Media, error) {
	clean, err := s.sessions.ValidateRequest(filename, contentType, declaredSize)
	if err != nil {
		return nil, err
	}

	head := make([]byte, 512)
	headLen, err := io.ReadFull(body, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to read upload body: %w", err)
	}
	head = head[:headLen]

	detected := DetectContentType(head, clean)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = detected
	} else if !contentTypeConsistent(contentType, detected) {
		return nil, fmt.Errorf("%w: declared %s but content looks like %s", session.ErrValidation, contentType, detected)
	}

	now := time.Now().UTC()
	m := &Media{
		OriginalFilename: clean,
		ContentType:      contentType,
		FileSize:         declaredSize,
		Status:           StatusPending,
		UploadedAt:       now,
		UpdatedAt:        now,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to create media record: %w", err)
	}

	temp, err := s.store.CreateTemp(ctx)
	if err != nil {
		s.markFailed(ctx, m, "storage unavailable")
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	full := io.MultiReader(bytes.NewReader(head), body)
	hash, n, err := cas.HashCopy(temp, io.LimitReader(full, declaredSize+1))
	if err != nil {
		temp.Discard()
		s.markFailed(ctx, m, "failed to read upload body")
		return nil, fmt.Errorf("failed to read upload body: %w", err)
	}
	if n != declaredSize {
		temp.Discard()
		s.markFailed(ctx, m, fmt.Sprintf("size mismatch: declared %d, received %d", declaredSize, n))
		return nil, fmt.Errorf("%w: declared %d, received %d", ErrSizeMismatch, declaredSize, n)
	}
	if err := temp.Close(); err != nil {
		temp.Discard()
		s.markFailed(ctx, m, "storage write failed")
		return nil, fmt.Errorf("failed to finalize temp file: %w", err)
	}

	if err := s.finishPublication(ctx, m, temp, hash, n); err != nil {
		return nil, err
	}
	return m, nil
}

// finishPublication publishes the staged bytes, binds the resulting hash and
// commits the transition to complete only once the store confirms the file.
func (s *Service) finishPublication(ctx context.Context, m *Media, temp cas.TempFile, hash cas.ContentHash, size int64) error {
	result, err := s.store.Publish(ctx, temp, hash)
	if err != nil {
		s.markFailed(ctx, m, "failed to publish content")
		return fmt.Errorf("failed to publish content: %w", err)
	}

	hashStr := hash.String()
	if err := s.repo.BindContentHash(ctx, m.ID, hashStr); err != nil {
		s.markFailed(ctx, m, "failed to bind content hash")
		return fmt.Errorf("failed to bind content hash: %w", err)
	}
	m.ContentHash = &hashStr
	m.FileSize = size

	exists, err := s.store.Exists(ctx, hash)
	if err != nil || !exists {
		s.markFailed(ctx, m, "published content missing")
		return fmt.Errorf("published content missing for hash %s", hashStr)
	}

	if err := s.transition(ctx, m, StatusComplete, ""); err != nil {
		return err
	}

	log.Info().
		Int64("mediaId", m.ID).
		Str("contentHash", hashStr).
		Bool("created", result.Created).
		Msg("Media published")
	return nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Media, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns one id-ordered page. The repository is probed for limit+1
// rows so has_next reflects rows strictly beyond the page.
func (s *Service) List(ctx context.Context, cursor string, limit int, statusFilter string) (*Page, error) {
	afterID := int64(0)
	hasPrev := false
	if cursor != "" {
		id, err := DecodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		afterID = id
		hasPrev = true
	}

	var status *ProcessingStatus
	if statusFilter != "" {
		st := ProcessingStatus(statusFilter)
		if !st.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFilter, statusFilter)
		}
		status = &st
	}

	rows, err := s.repo.ListAfterID(ctx, afterID, limit+1, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list media: %w", err)
	}

	hasNext := len(rows) > limit
	if hasNext {
		rows = rows[:limit]
	}

	page := &Page{
		Data: rows,
		Pagination: Pagination{
			PageSize: len(rows),
			HasNext:  hasNext,
			HasPrev:  hasPrev,
		},
	}
	if hasNext {
		next := EncodeCursor(rows[len(rows)-1].ID)
		page.Pagination.NextCursor = &next
	}
	if hasPrev {
		page.Pagination.PrevCursor = &cursor
	}
	return page, nil
}

// Download streams a complete record's blob from the store.
func (s *Service) Download(ctx context.Context, id int64) (io.ReadCloser, *Media, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if m.Status != StatusComplete || m.ContentHash == nil {
		return nil, nil, ErrNotReady
	}

	hash, err := cas.ParseHash(*m.ContentHash)
	if err != nil {
		return nil, nil, err
	}

	r, err := s.store.Open(ctx, hash)
	if err != nil {
		return nil, nil, err
	}
	return r, m, nil
}

// Delete removes the record and unlinks the blob only when no other record
// references the same content.
func (s *Service) Delete(ctx context.Context, id int64) error {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if m.ContentHash != nil {
		hash, err := cas.ParseHash(*m.ContentHash)
		if err != nil {
			return err
		}
		refs, err := s.repo.CountByContentHash(ctx, *m.ContentHash, m.ID)
		if err != nil {
			return fmt.Errorf("failed to count content references: %w", err)
		}
		if err := s.store.Delete(ctx, hash, refs > 0); err != nil {
			return fmt.Errorf("failed to delete content: %w", err)
		}
	}
	return s.repo.Delete(ctx, m.ID)
}

// VerifyIntegrity re-hashes the stored blob for a record. On corruption the
// store quarantines the file and the record is demoted to failed; this is
// the one permitted move out of complete, an administrative demotion rather
// than a lifecycle transition.
func (s *Service) VerifyIntegrity(ctx context.Context, id int64) error {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if m.ContentHash == nil {
		return fmt.Errorf("media %d has no content to verify", id)
	}

	hash, err := cas.ParseHash(*m.ContentHash)
	if err != nil {
		return err
	}

	err = s.store.Verify(ctx, hash)
	if errors.Is(err, cas.ErrHashMismatch) {
		m.Status = StatusFailed
		m.ErrorMessage = "content corrupted"
		m.UpdatedAt = time.Now().UTC()
		if uerr := s.repo.UpdateStatus(ctx, m); uerr != nil {
			log.Error().Err(uerr).Int64("mediaId", m.ID).Msg("Failed to mark corrupted media as failed")
		}
	}
	return err
}

func (s *Service) transition(ctx context.Context, m *Media, to ProcessingStatus, reason string) error {
	if err := Transition(m, to, reason); err != nil {
		return err
	}
	return s.repo.UpdateStatus(ctx, m)
}

// markFailed is best effort: the upload already failed for its own reason,
// a bookkeeping error here should not mask it.
func (s *Service) markFailed(ctx context.Context, m *Media, reason string) {
	if err := s.transition(ctx, m, StatusFailed, reason); err != nil {
		log.Error().Err(err).Int64("mediaId", m.ID).Str("reason", reason).Msg("Failed to mark media as failed")
	}
}
