package media

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100

	cursorVersion = "v1"
)

// Pagination describes one page of an id-ordered listing. NextCursor is set
// only when rows exist strictly beyond the page.
type Pagination struct {
	NextCursor *string `json:"next_cursor"`
	PrevCursor *string `json:"prev_cursor"`
	PageSize   int     `json:"page_size"`
	HasNext    bool    `json:"has_next"`
	HasPrev    bool    `json:"has_prev"`
}

type Page struct {
	Data       []*Media   `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// EncodeCursor wraps the last-seen id into an opaque token. Cursors anchor
// on ids rather than offsets, so concurrent inserts cannot duplicate or
// skip rows already returned.
func EncodeCursor(lastID int64) string {
	raw := fmt.Sprintf("%s:%d", cursorVersion, lastID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(cursor string) (int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: not base64", ErrMalformedCursor)
	}

	version, idPart, found := strings.Cut(string(raw), ":")
	if !found || version != cursorVersion {
		return 0, fmt.Errorf("%w: unknown format", ErrMalformedCursor)
	}

	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: invalid id", ErrMalformedCursor)
	}
	return id, nil
}

// ClampLimit resolves a requested page size to the documented [1, 100]
// range. Callers apply DefaultPageSize when no limit was supplied at all.
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
