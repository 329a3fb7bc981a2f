package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTTL         = 15 * time.Minute
	defaultMaxFileSize = 50 * 1024 * 1024
	tokenBytes         = 32
)

// Extensions that are never accepted regardless of declared content type.
var blockedExtensions = map[string]bool{
	".exe": true,
	".bat": true,
	".cmd": true,
	".com": true,
	".scr": true,
	".pif": true,
	".msi": true,
	".dll": true,
	".sh":  true,
	".php": true,
}

type Config struct {
	Secret      string
	BaseURL     string
	TTL         time.Duration
	MaxFileSize int64
}

// Manager issues and verifies presigned upload sessions. The HMAC signature
// covers every parameter the server trusts at redemption time: token,
// expiry, declared size and content type.
type Manager struct {
	repo        Repository
	secret      []byte
	baseURL     string
	ttl         time.Duration
	maxFileSize int64
}

func NewManager(repo Repository, config Config) *Manager {
	ttl := config.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	maxFileSize := config.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = defaultMaxFileSize
	}
	return &Manager{
		repo:        repo,
		secret:      []byte(config.Secret),
		baseURL:     strings.TrimSuffix(config.BaseURL, "/"),
		ttl:         ttl,
		maxFileSize: maxFileSize,
	}
}

func (m *Manager) MaxFileSize() int64 {
	return m.maxFileSize
}

// ValidateRequest checks the initiation parameters and returns the sanitized
// filename. Nothing is persisted or written before this passes.
func (m *Manager) ValidateRequest(filename, contentType string, declaredSize int64) (string, error) {
	clean, err := sanitizeFilename(filename)
	if err != nil {
		return "", err
	}
	if !strings.Contains(contentType, "/") {
		return "", fmt.Errorf("%w: content type %q is not a MIME type", ErrValidation, contentType)
	}
	if declaredSize <= 0 {
		return "", fmt.Errorf("%w: declared size must be positive", ErrValidation)
	}
	if declaredSize > m.maxFileSize {
		return "", fmt.Errorf("%w: file too large: %d bytes (max: %d)", ErrValidation, declaredSize, m.maxFileSize)
	}
	return clean, nil
}

// Issue creates and persists a session for an already-created media record
// and returns it together with the presigned upload URL.
func (m *Manager) Issue(ctx context.Context, mediaID int64, declaredSize int64, contentType string) (*Session, string, error) {
	token, err := generateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate upload token: %w", err)
	}

	now := time.Now().UTC()
	s := &Session{
		Token:               token,
		MediaID:             mediaID,
		ExpectedSize:        declaredSize,
		ExpectedContentType: contentType,
		IssuedAt:            now,
		ExpiresAt:           now.Add(m.ttl),
	}

	if err := m.repo.Create(ctx, s); err != nil {
		return nil, "", fmt.Errorf("failed to persist upload session: %w", err)
	}

	return s, m.uploadURL(s), nil
}

// Verify recomputes the signature over the caller-supplied parameters and
// compares in constant time, then checks expiry. Expiry is a runtime
// precondition, a valid signature on a stale URL is still rejected.
func (m *Manager) Verify(token, signature string, expires int64, size int64, contentType string) error {
	expected := m.sign(signaturePayload(token, expires, size, contentType))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureInvalid
	}
	if time.Now().UTC().Unix() > expires {
		return ErrExpired
	}
	return nil
}

// Consume atomically flips the session to consumed and returns it. Exactly
// one caller per token ever succeeds; everyone else gets ErrAlreadyConsumed.
func (m *Manager) Consume(ctx context.Context, token string) (*Session, error) {
	if err := m.repo.Consume(ctx, token); err != nil {
		return nil, err
	}
	return m.repo.Get(ctx, token)
}

func (m *Manager) uploadURL(s *Session) string {
	expires := s.ExpiresAt.Unix()
	signature := m.sign(signaturePayload(s.Token, expires, s.ExpectedSize, s.ExpectedContentType))

	params := url.Values{}
	params.Set("signature", signature)
	params.Set("expires", strconv.FormatInt(expires, 10))
	params.Set("size", strconv.FormatInt(s.ExpectedSize, 10))
	params.Set("type", s.ExpectedContentType)

	return fmt.Sprintf("%s/media/upload/%s?%s", m.baseURL, s.Token, params.Encode())
}

func (m *Manager) sign(payload string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func signaturePayload(token string, expires int64, size int64, contentType string) string {
	return fmt.Sprintf("%s|%d|%d|%s", token, expires, size, contentType)
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func sanitizeFilename(filename string) (string, error) {
	// Strip any path components, both separators are hostile in a filename.
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = filepath.Base(filename)

	var b strings.Builder
	for _, r := range filename {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	clean := strings.TrimSpace(b.String())

	if clean == "" || clean == "." || clean == ".." {
		return "", fmt.Errorf("%w: empty or invalid filename", ErrValidation)
	}
	if blockedExtensions[strings.ToLower(filepath.Ext(clean))] {
		return "", fmt.Errorf("%w: file extension not allowed", ErrValidation)
	}
	return clean, nil
}
