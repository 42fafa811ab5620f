package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
)

func TestOutboxRepository_PostgresFlow(t *testing.T) {
	store := openMigratedStore(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	generated, err := repo.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: "masters",
		AggregateID:   "masters/",
		EventType:     "scope.resequenced",
		Payload:       []byte(`{"items":[]}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, generated.ID)

	fixed, err := repo.Enqueue(ctx, domain.OutboxMessage{
		ID:            "outbox-fixed-id",
		AggregateType: "masters",
		AggregateID:   "masters/",
		EventType:     "item.created",
	})
	require.NoError(t, err)
	require.Equal(t, "outbox-fixed-id", fixed.ID)

	pending, err := repo.PullPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.PendingCount)
	require.False(t, stats.OldestPendingAt.IsZero())

	require.NoError(t, repo.MarkSent(ctx, generated.ID))
	require.NoError(t, repo.MarkFailed(ctx, fixed.ID))

	pending, err = repo.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
}

func TestOutboxRepository_PostgresMissingRows(t *testing.T) {
	store := openMigratedStore(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	require.ErrorIs(t, repo.MarkSent(ctx, "missing-outbox"), domain.ErrOutboxPublish)
	require.ErrorIs(t, repo.MarkFailed(ctx, "missing-outbox"), domain.ErrOutboxPublish)
}

func TestOutboxRepository_PostgresDuplicateID(t *testing.T) {
	store := openMigratedStore(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	saved, err := repo.Enqueue(ctx, domain.OutboxMessage{ID: "outbox-dup", AggregateType: "masters", EventType: "item.created"})
	require.NoError(t, err)
	require.False(t, saved.CreatedAt.IsZero())

	_, err = repo.Enqueue(ctx, domain.OutboxMessage{ID: "outbox-dup", AggregateType: "masters", EventType: "item.created"})
	require.Error(t, err)

	pending, err := repo.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "outbox-dup", pending[0].ID)
}
