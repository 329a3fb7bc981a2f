package session

import (
	"context"
	"errors"
	"time"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrSignatureInvalid = errors.New("invalid signature")
	ErrExpired          = errors.New("upload session expired")
	ErrAlreadyConsumed  = errors.New("upload session already consumed")
	ErrNotFound         = errors.New("upload session not found")
)

// Session is a single-use, time-limited permission to upload exactly one
// blob of the declared size and type.
type Session struct {
	Token               string    `json:"token"`
	MediaID             int64     `json:"mediaId"`
	ExpectedSize        int64     `json:"expectedSize"`
	ExpectedContentType string    `json:"expectedContentType"`
	IssuedAt            time.Time `json:"issuedAt"`
	ExpiresAt           time.Time `json:"expiresAt"`
	Consumed            bool      `json:"consumed"`
}

// Repository persists upload sessions. Consume must be a conditional update
// that succeeds at most once per token, it is the primitive that prevents
// double redemption.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, token string) (*Session, error)
	Consume(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error)
}
