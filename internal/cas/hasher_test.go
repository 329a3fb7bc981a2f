package cas

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloWorldHash = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestHasher_ShouldProduceKnownDigest(t *testing.T) {
	// given
	h := NewHasher()

	// when
	_, err := h.Write([]byte("hello world"))

	// then
	assert.NoError(t, err)
	assert.Equal(t, ContentHash(helloWorldHash), h.Sum())
	assert.Equal(t, int64(11), h.Size())
}

func TestHasher_ShouldHashIncrementally(t *testing.T) {
	// given
	h := NewHasher()

	// when
	h.Write([]byte("hello "))
	h.Write([]byte("world"))

	// then
	assert.Equal(t, ContentHash(helloWorldHash), h.Sum())
	assert.Equal(t, int64(11), h.Size())
}

func TestHashReader_ShouldMatchDirectHashing(t *testing.T) {
	// given
	data := strings.Repeat("some media content ", 10_000)

	// when
	fromReader, n, err := HashReader(strings.NewReader(data))

	// then
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)

	h := NewHasher()
	h.Write([]byte(data))
	assert.Equal(t, h.Sum(), fromReader)
}

func TestHashCopy_ShouldWriteAndHashInOnePass(t *testing.T) {
	// given
	var dst bytes.Buffer

	// when
	hash, n, err := HashCopy(&dst, strings.NewReader("hello world"))

	// then
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)
	assert.Equal(t, "hello world", dst.String())
	assert.Equal(t, ContentHash(helloWorldHash), hash)
}

func TestParseHash_ShouldAcceptValidHash(t *testing.T) {
	// when
	hash, err := ParseHash(helloWorldHash)

	// then
	assert.NoError(t, err)
	assert.Equal(t, helloWorldHash, hash.String())
}

func TestParseHash_ShouldRejectInvalidInput(t *testing.T) {
	cases := []string{
		"",
		"abc123",
		strings.Repeat("a", 63),
		strings.Repeat("a", 65),
		strings.Repeat("A", 64),
		strings.Repeat("a", 63) + "z",
		"../../../../etc/passwd0000000000000000000000000000000000000000000",
	}

	for _, input := range cases {
		_, err := ParseHash(input)
		assert.ErrorIs(t, err, ErrInvalidHash, "input %q should be rejected", input)
	}
}
