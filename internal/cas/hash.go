package cas

import (
	"fmt"
	"regexp"
)

// ContentHash is the lowercase hex SHA-256 digest of a blob. It is the
// storage key: equal content always maps to the same path.
type ContentHash string

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

func ParseHash(s string) (ContentHash, error) {
	if !hashPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}
	return ContentHash(s), nil
}

func (h ContentHash) String() string {
	return string(h)
}
