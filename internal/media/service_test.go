package media

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediavault/mediavault_server/internal/cas"
	"github.com/mediavault/mediavault_server/internal/session"
)

type mockRepository struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]*Media
}

func newMockRepository() *mockRepository {
	return &mockRepository{nextID: 1, items: make(map[int64]*Media)}
}

func (r *mockRepository) Create(_ context.Context, m *Media) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.ID = r.nextID
	r.nextID++
	copied := *m
	r.items[m.ID] = &copied
	return nil
}

func (r *mockRepository) GetByID(_ context.Context, id int64) (*Media, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *m
	return &copied, nil
}

func (r *mockRepository) BindContentHash(_ context.Context, id int64, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	m.ContentHash = &hash
	return nil
}

func (r *mockRepository) UpdateStatus(_ context.Context, m *Media) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[m.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = m.Status
	stored.ErrorMessage = m.ErrorMessage
	stored.FileSize = m.FileSize
	stored.UpdatedAt = m.UpdatedAt
	stored.CompletedAt = m.CompletedAt
	stored.ContentHash = m.ContentHash
	return nil
}

func (r *mockRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *mockRepository) ListAfterID(_ context.Context, afterID int64, limit int, status *ProcessingStatus) ([]*Media, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int64
	for id, m := range r.items {
		if id <= afterID {
			continue
		}
		if status != nil && m.Status != *status {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var list []*Media
	for _, id := range ids {
		if len(list) == limit {
			break
		}
		copied := *r.items[id]
		list = append(list, &copied)
	}
	return list, nil
}

func (r *mockRepository) CountByContentHash(_ context.Context, hash string, excludeID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, m := range r.items {
		if id != excludeID && m.ContentHash != nil && *m.ContentHash == hash {
			count++
		}
	}
	return count, nil
}

type memorySessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
}

func newMemorySessionRepository() *memorySessionRepository {
	return &memorySessionRepository{sessions: make(map[string]*session.Session)}
}

func (r *memorySessionRepository) Create(_ context.Context, s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *s
	r.sessions[s.Token] = &copied
	return nil
}

func (r *memorySessionRepository) Get(_ context.Context, token string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[token]
	if !ok {
		return nil, session.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (r *memorySessionRepository) Consume(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[token]
	if !ok {
		return session.ErrNotFound
	}
	if s.Consumed {
		return session.ErrAlreadyConsumed
	}
	s.Consumed = true
	return nil
}

func (r *memorySessionRepository) DeleteExpired(_ context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for token, s := range r.sessions {
		if s.ExpiresAt.Before(olderThan) {
			delete(r.sessions, token)
			deleted++
		}
	}
	return deleted, nil
}

func newTestService(t *testing.T) (*Service, *mockRepository, string) {
	t.Helper()
	dir := t.TempDir()
	backend, err := cas.NewLocalBackend(&cas.BackendConfig{LocalPath: dir})
	require.NoError(t, err)

	repo := newMockRepository()
	sessions := session.NewManager(newMemorySessionRepository(), session.Config{
		Secret:  "test-secret",
		BaseURL: "http://localhost:8080",
	})
	return NewService(repo, cas.NewStore(backend), sessions), repo, dir
}

type redeemParams struct {
	token       string
	signature   string
	expires     int64
	size        int64
	contentType string
}

func parseUploadURL(t *testing.T, rawURL string) redeemParams {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	q := u.Query()

	expires, err := strconv.ParseInt(q.Get("expires"), 10, 64)
	require.NoError(t, err)
	size, err := strconv.ParseInt(q.Get("size"), 10, 64)
	require.NoError(t, err)

	return redeemParams{
		token:       u.Path[strings.LastIndex(u.Path, "/")+1:],
		signature:   q.Get("signature"),
		expires:     expires,
		size:        size,
		contentType: q.Get("type"),
	}
}

// uploadViaSession runs the full initiate-then-redeem flow for one payload.
func uploadViaSession(t *testing.T, svc *Service, filename, contentType string, data []byte) *Media {
	t.Helper()
	ctx := context.Background()

	init, err := svc.InitiateUpload(ctx, filename, contentType, int64(len(data)))
	require.NoError(t, err)
	p := parseUploadURL(t, init.UploadURL)

	m, err := svc.AcceptUpload(ctx, p.token, p.signature, p.expires, p.size, p.contentType, bytes.NewReader(data))
	require.NoError(t, err)
	return m
}

func countStoredObjects(t *testing.T, dir string) int {
	t.Helper()
	count := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == "tmp" || info.Name() == "quarantine" {
				return filepath.SkipDir
			}
			return nil
		}
		count++
		return nil
	})
	require.NoError(t, err)
	return count
}

func TestInitiateUpload_ShouldCreatePendingRecordWithSession(t *testing.T) {
	// given
	svc, repo, _ := newTestService(t)

	// when
	result, err := svc.InitiateUpload(context.Background(), "cat.jpg", "image/jpeg", 1000)

	// then
	require.NoError(t, err)
	assert.Equal(t, StatusPending, result.Media.Status)
	assert.Nil(t, result.Media.ContentHash)
	assert.Equal(t, result.Media.ID, result.Session.MediaID)
	assert.Contains(t, result.UploadURL, result.Session.Token)

	stored, err := repo.GetByID(context.Background(), result.Media.ID)
	require.NoError(t, err)
	assert.Equal(t, "cat.jpg", stored.OriginalFilename)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestInitiateUpload_ShouldRejectInvalidRequest(t *testing.T) {
	// given
	svc, repo, _ := newTestService(t)

	// when
	_, err := svc.InitiateUpload(context.Background(), "cat.jpg", "image/jpeg", -5)

	// then
	assert.ErrorIs(t, err, session.ErrValidation)
	assert.Empty(t, repo.items)
}

func TestAcceptUpload_ShouldCompleteRecordWithContentHash(t *testing.T) {
	// given
	svc, repo, _ := newTestService(t)
	data := []byte(strings.Repeat("cat picture bytes ", 100))

	expectedHash, _, err := cas.HashReader(bytes.NewReader(data))
	require.NoError(t, err)

	// when
	m := uploadViaSession(t, svc, "cat.jpg", "image/jpeg", data)

	// then
	assert.Equal(t, StatusComplete, m.Status)
	require.NotNil(t, m.ContentHash)
	assert.Equal(t, expectedHash.String(), *m.ContentHash)
	assert.Equal(t, int64(len(data)), m.FileSize)
	require.NotNil(t, m.CompletedAt)

	stored, err := repo.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, stored.Status)
}

func TestAcceptUpload_ShouldDeduplicateAcrossRecords(t *testing.T) {
	// given
	svc, _, dir := newTestService(t)
	data := []byte("exactly the same bytes both times")

	// when
	first := uploadViaSession(t, svc, "one.jpg", "image/jpeg", data)
	second := uploadViaSession(t, svc, "two.jpg", "image/jpeg", data)

	// then: two records, one blob
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, *first.ContentHash, *second.ContentHash)
	assert.Equal(t, StatusComplete, second.Status)
	assert.Equal(t, 1, countStoredObjects(t, dir))
}

func TestAcceptUpload_ShouldRejectSizeMismatch(t *testing.T) {
	cases := []struct {
		name string
		body []byte
	}{
		{"short body", bytes.Repeat([]byte("x"), 999)},
		{"long body", bytes.Repeat([]byte("x"), 1001)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// given
			svc, repo, dir := newTestService(t)
			init, err := svc.InitiateUpload(context.Background(), "cat.jpg", "image/jpeg", 1000)
			require.NoError(t, err)
			p := parseUploadURL(t, init.UploadURL)

			// when
			_, err = svc.AcceptUpload(context.Background(), p.token, p.signature, p.expires, p.size, p.contentType, bytes.NewReader(tc.body))

			// then: nothing published, record failed
			assert.ErrorIs(t, err, ErrSizeMismatch)
			assert.Equal(t, 0, countStoredObjects(t, dir))

			stored, err := repo.GetByID(context.Background(), init.Media.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, stored.Status)
			assert.Contains(t, stored.ErrorMessage, "size mismatch")
		})
	}
}

func TestAcceptUpload_ShouldRejectDoubleRedemption(t *testing.T) {
	// given
	svc, _, dir := newTestService(t)
	data := []byte("redeemed once")

	init, err := svc.InitiateUpload(context.Background(), "cat.jpg", "image/jpeg", int64(len(data)))
	require.NoError(t, err)
	p := parseUploadURL(t, init.UploadURL)

	_, err = svc.AcceptUpload(context.Background(), p.token, p.signature, p.expires, p.size, p.contentType, bytes.NewReader(data))
	require.NoError(t, err)
	objectsAfterFirst := countStoredObjects(t, dir)

	// when
	_, err = svc.AcceptUpload(context.Background(), p.token, p.signature, p.expires, p.size, p.contentType, bytes.NewReader(data))

	// then: rejected, store untouched
	assert.ErrorIs(t, err, session.ErrAlreadyConsumed)
	assert.Equal(t, objectsAfterFirst, countStoredObjects(t, dir))
}

func TestAcceptUpload_ShouldRejectTamperedSignatureWithoutConsuming(t *testing.T) {
	// given
	svc, _, _ := newTestService(t)
	data := []byte("still redeemable")

	init, err := svc.InitiateUpload(context.Background(), "cat.jpg", "image/jpeg", int64(len(data)))
	require.NoError(t, err)
	p := parseUploadURL(t, init.UploadURL)

	// when: tampered size fails signature verification
	_, err = svc.AcceptUpload(context.Background(), p.token, p.signature, p.expires, p.size+1, p.contentType, bytes.NewReader(data))

	// then
	assert.ErrorIs(t, err, session.ErrSignatureInvalid)

	// and the untouched session still redeems
	m, err := svc.AcceptUpload(context.Background(), p.token, p.signature, p.expires, p.size, p.contentType, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, m.Status)
}

func TestDirectUpload_ShouldSniffAndComplete(t *testing.T) {
	// given
	svc, _, _ := newTestService(t)
	jpeg := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0xAB}, 100)...)

	// when: declared octet-stream is refined by sniffing
	m, err := svc.DirectUpload(context.Background(), "photo.bin", "application/octet-stream", int64(len(jpeg)), bytes.NewReader(jpeg))

	// then
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, m.Status)
	assert.Equal(t, "image/jpeg", m.ContentType)
	require.NotNil(t, m.ContentHash)
}

func TestDirectUpload_ShouldRejectInconsistentContentType(t *testing.T) {
	// given
	svc, repo, _ := newTestService(t)
	jpeg := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0xAB}, 100)...)

	// when
	_, err := svc.DirectUpload(context.Background(), "photo.png", "image/png", int64(len(jpeg)), bytes.NewReader(jpeg))

	// then: rejected before any record exists
	assert.ErrorIs(t, err, session.ErrValidation)
	assert.Empty(t, repo.items)
}

func TestDirectUpload_ShouldHandleBodySmallerThanSniffWindow(t *testing.T) {
	// given
	svc, _, _ := newTestService(t)
	tiny := []byte("tiny")

	// when
	m, err := svc.DirectUpload(context.Background(), "note.txt", "text/plain", int64(len(tiny)), bytes.NewReader(tiny))

	// then
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, m.Status)
	assert.Equal(t, int64(4), m.FileSize)
}

func TestList_ShouldPageForwardWithStableCursors(t *testing.T) {
	// given
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		uploadViaSession(t, svc, "file.jpg", "image/jpeg", []byte{byte(i), 1, 2, 3})
	}

	// when: first page of two
	page1, err := svc.List(ctx, "", 2, "")

	// then
	require.NoError(t, err)
	assert.Len(t, page1.Data, 2)
	assert.True(t, page1.Pagination.HasNext)
	assert.False(t, page1.Pagination.HasPrev)
	require.NotNil(t, page1.Pagination.NextCursor)

	// rows inserted between requests must not disturb already-cut pages
	uploadViaSession(t, svc, "late.jpg", "image/jpeg", []byte("late arrival"))

	// when: second page
	page2, err := svc.List(ctx, *page1.Pagination.NextCursor, 2, "")

	// then: strictly after the first page, no duplicates
	require.NoError(t, err)
	assert.Len(t, page2.Data, 2)
	assert.True(t, page2.Pagination.HasPrev)
	assert.Greater(t, page2.Data[0].ID, page1.Data[1].ID)

	// when: final page
	page3, err := svc.List(ctx, *page2.Pagination.NextCursor, 2, "")

	// then
	require.NoError(t, err)
	assert.Len(t, page3.Data, 2)
	assert.False(t, page3.Pagination.HasNext)
	assert.Nil(t, page3.Pagination.NextCursor)
}

func TestList_ShouldFilterByStatus(t *testing.T) {
	// given
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	uploadViaSession(t, svc, "done.jpg", "image/jpeg", []byte("completed upload"))
	_, err := svc.InitiateUpload(ctx, "pending.jpg", "image/jpeg", 100)
	require.NoError(t, err)

	// when
	completed, err := svc.List(ctx, "", 10, "complete")
	require.NoError(t, err)
	pending, err := svc.List(ctx, "", 10, "pending")
	require.NoError(t, err)

	// then
	assert.Len(t, completed.Data, 1)
	assert.Equal(t, StatusComplete, completed.Data[0].Status)
	assert.Len(t, pending.Data, 1)
	assert.Equal(t, StatusPending, pending.Data[0].Status)
}

func TestList_ShouldRejectBadCursorAndFilter(t *testing.T) {
	// given
	svc, _, _ := newTestService(t)

	// when / then
	_, err := svc.List(context.Background(), "garbage!!!", 10, "")
	assert.ErrorIs(t, err, ErrMalformedCursor)

	_, err = svc.List(context.Background(), "", 10, "deleted")
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestDownload_ShouldStreamCompleteMedia(t *testing.T) {
	// given
	svc, _, _ := newTestService(t)
	data := []byte("downloadable content")
	m := uploadViaSession(t, svc, "file.bin", "application/pdf", data)

	// when
	r, got, err := svc.Download(context.Background(), m.ID)

	// then
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, m.ID, got.ID)

	streamed, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, streamed)
}

func TestDownload_ShouldRejectIncompleteMedia(t *testing.T) {
	// given
	svc, _, _ := newTestService(t)
	init, err := svc.InitiateUpload(context.Background(), "cat.jpg", "image/jpeg", 100)
	require.NoError(t, err)

	// when
	_, _, err = svc.Download(context.Background(), init.Media.ID)

	// then
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestDelete_ShouldUnlinkBlobOnlyWhenUnreferenced(t *testing.T) {
	// given: two records sharing one blob
	svc, _, dir := newTestService(t)
	data := []byte("shared between two records")
	first := uploadViaSession(t, svc, "a.jpg", "image/jpeg", data)
	second := uploadViaSession(t, svc, "b.jpg", "image/jpeg", data)
	require.Equal(t, 1, countStoredObjects(t, dir))

	// when: first delete keeps the blob alive for the survivor
	require.NoError(t, svc.Delete(context.Background(), first.ID))

	// then
	assert.Equal(t, 1, countStoredObjects(t, dir))
	_, err := svc.Get(context.Background(), first.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// when: last reference goes
	require.NoError(t, svc.Delete(context.Background(), second.ID))

	// then
	assert.Equal(t, 0, countStoredObjects(t, dir))
}

func TestVerifyIntegrity_ShouldDemoteCorruptedMedia(t *testing.T) {
	// given
	svc, repo, dir := newTestService(t)
	m := uploadViaSession(t, svc, "cat.jpg", "image/jpeg", []byte("pristine content"))

	hash, err := cas.ParseHash(*m.ContentHash)
	require.NoError(t, err)
	objectPath := filepath.Join(
		dir,
		hash.String()[0:2], hash.String()[2:4], hash.String()[4:6],
		hash.String(),
	)
	require.NoError(t, os.WriteFile(objectPath, []byte("corrupted content!"), 0644))

	// when
	err = svc.VerifyIntegrity(context.Background(), m.ID)

	// then
	assert.ErrorIs(t, err, cas.ErrHashMismatch)

	stored, gerr := repo.GetByID(context.Background(), m.ID)
	require.NoError(t, gerr)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, "content corrupted", stored.ErrorMessage)
}

func TestVerifyIntegrity_ShouldPassForIntactMedia(t *testing.T) {
	// given
	svc, _, _ := newTestService(t)
	m := uploadViaSession(t, svc, "cat.jpg", "image/jpeg", []byte("intact content"))

	// when / then
	assert.NoError(t, svc.VerifyIntegrity(context.Background(), m.ID))
}
