package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
	"github.com/vladislavdragonenkov/jewelry/internal/storage/memory"
)

func TestIdempotencyRepository_CreateAndGet(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ctx := context.Background()
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	created, err := repo.CreateProcessing(ctx, "idem-key-1", "hash-1", ttl)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, created.Status)

	got, err := repo.Get(ctx, "idem-key-1")
	require.NoError(t, err)
	require.Equal(t, "hash-1", got.RequestHash)
	require.True(t, got.TTLAt.Equal(ttl))

	_, err = repo.CreateProcessing(ctx, " ", "hash", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	_, err = repo.CreateProcessing(ctx, "k", "", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)
}

func TestIdempotencyRepository_ConflictAndHashMismatch(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ctx := context.Background()
	ttl := time.Now().UTC().Add(time.Hour)

	_, err := repo.CreateProcessing(ctx, "idem-key-2", "hash-a", ttl)
	require.NoError(t, err)

	_, err = repo.CreateProcessing(ctx, "idem-key-2", "hash-a", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)

	_, err = repo.CreateProcessing(ctx, "idem-key-2", "hash-b", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestIdempotencyRepository_FailedKeyCanBeRetried(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ctx := context.Background()
	ttl := time.Now().UTC().Add(time.Hour)

	_, err := repo.CreateProcessing(ctx, "idem-key-3", "hash", ttl)
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, "idem-key-3", []byte(`{"error":{}}`), 500))

	retried, err := repo.CreateProcessing(ctx, "idem-key-3", "hash", ttl)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, retried.Status)
	require.Empty(t, retried.ResponseBody)
}

func TestIdempotencyRepository_MarkDoneAndDeleteExpired(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ctx := context.Background()

	expiredTTL := time.Now().UTC().Add(-time.Minute)
	activeTTL := time.Now().UTC().Add(time.Hour)

	_, err := repo.CreateProcessing(ctx, "idem-expired", "hash-expired", expiredTTL)
	require.NoError(t, err)
	_, err = repo.CreateProcessing(ctx, "idem-active", "hash-active", activeTTL)
	require.NoError(t, err)

	require.NoError(t, repo.MarkDone(ctx, "idem-active", []byte(`{"ok":true}`), 201))

	active, err := repo.Get(ctx, "idem-active")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, active.Status)
	require.Equal(t, 201, active.HTTPStatus)
	require.True(t, active.Replayable())

	removed, err := repo.DeleteExpired(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = repo.Get(ctx, "idem-expired")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	require.ErrorIs(t, repo.MarkDone(ctx, "idem-expired", nil, 200), domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_ClockDrivesExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := memory.NewIdempotencyRepository(memory.WithIdempotencyClock(func() time.Time { return now }))
	ctx := context.Background()

	created, err := repo.CreateProcessing(ctx, "idem-clock", "hash-a", time.Time{})
	require.NoError(t, err)
	require.True(t, created.TTLAt.Equal(now.Add(domain.DefaultIdempotencyTTL)))

	_, err = repo.CreateProcessing(ctx, "idem-clock", "hash-b", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	// после истечения TTL ключ можно занять с другим телом
	now = now.Add(domain.DefaultIdempotencyTTL)
	reused, err := repo.CreateProcessing(ctx, "idem-clock", "hash-b", time.Time{})
	require.NoError(t, err)
	require.Equal(t, "hash-b", reused.RequestHash)
}

func TestIdempotencyRepository_DeleteExpiredOldestFirst(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	ttls := []struct {
		key string
		ttl time.Time
	}{
		{key: "k-new", ttl: base.Add(2 * time.Minute)},
		{key: "k-old", ttl: base},
		{key: "k-mid", ttl: base.Add(time.Minute)},
	}
	for _, tc := range ttls {
		_, err := repo.CreateProcessing(ctx, tc.key, "hash", tc.ttl)
		require.NoError(t, err)
	}

	removed, err := repo.DeleteExpired(ctx, time.Now().UTC(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.Equal(t, 2, repo.Len())

	_, err = repo.Get(ctx, "k-old")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}
