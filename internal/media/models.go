package media

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("media not found")
	ErrSizeMismatch      = errors.New("uploaded size does not match declared size")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrMalformedCursor   = errors.New("malformed pagination cursor")
	ErrNotReady          = errors.New("media is not ready for download")
)

type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusComplete   ProcessingStatus = "complete"
	StatusFailed     ProcessingStatus = "failed"
)

func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusComplete, StatusFailed:
		return true
	}
	return false
}

// Media is the record backing one uploaded file. ContentHash stays nil until
// the blob has been published to the store; a complete record always has a
// hash that resolves to an existing stored file.
type Media struct {
	ID               int64            `json:"id"`
	ContentHash      *string          `json:"contentHash,omitempty"`
	OriginalFilename string           `json:"originalFilename"`
	ContentType      string           `json:"contentType"`
	FileSize         int64            `json:"fileSize"`
	Status           ProcessingStatus `json:"status"`
	ErrorMessage     string           `json:"errorMessage,omitempty"`
	UploadedAt       time.Time        `json:"uploadedAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
	CompletedAt      *time.Time       `json:"completedAt,omitempty"`
}
