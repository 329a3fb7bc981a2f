package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_RunNow_ShouldDeleteOnlyExpiredSessions(t *testing.T) {
	// given
	repo := newMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &Session{
		Token:     "fresh",
		ExpiresAt: time.Now().UTC().Add(10 * time.Minute),
	}))
	require.NoError(t, repo.Create(ctx, &Session{
		Token:     "stale",
		ExpiresAt: time.Now().UTC().Add(-10 * time.Minute),
	}))

	sweeper := NewSweeper(repo, time.Hour)

	// when
	sweeper.RunNow()

	// then
	_, err := repo.Get(ctx, "fresh")
	assert.NoError(t, err)
	_, err = repo.Get(ctx, "stale")
	assert.ErrorIs(t, err, ErrNotFound)
}
